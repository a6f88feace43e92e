// Package config loads and validates the TOML configuration document.
//
// Load applies defaults, expands tilde paths, and validates the result; a
// missing file yields the defaults. CreateSample writes the embedded sample
// for `loom config init`.
package config
