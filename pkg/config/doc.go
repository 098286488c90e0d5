// Package config loads scenario definition files.
//
// A scenario file is JSON or YAML with a top-level scenarios map keyed by
// scenario identifier. Files are validated twice: first against an embedded
// JSON schema catching shape errors with precise paths, then through the
// scenario package's structural validators (pattern compilation, response
// mechanism rules). Both passes are fail-fast at load time so a bad file
// never reaches a running engine.
//
// Directory loading merges every matching file into one document; scenario
// identifiers must be unique across the set.
package config
