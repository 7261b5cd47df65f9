// Package config loads the daemon configuration from a JSON file, fills in
// defaults relative to the file location and validates the result before the
// runtime wires its components.
package config
