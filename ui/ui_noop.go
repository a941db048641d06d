//go:build !ui

package ui

import "io/fs"

// DistFS returns a nil filesystem in builds without the ui tag; the
// server then skips mounting the dashboard catch-all.
func DistFS() (fs.FS, error) {
	return nil, nil
}
