// Package configs embeds the annotated example configuration so it is
// available in every distribution, source builds included.
package configs

import _ "embed"

// ExampleConfig is the commented docpipe.yaml template written by
// `docpipe init`.
//
//go:embed docpipe.example.yaml
var ExampleConfig string
