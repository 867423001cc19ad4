// Package config loads the osipd configuration from YAML with environment
// overrides, and the optional variant table that declares telegram layouts
// outside of Go code.
package config
