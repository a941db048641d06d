// Package api embeds the OpenAPI document describing the HTTP surface.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3.1 YAML document, served at /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
