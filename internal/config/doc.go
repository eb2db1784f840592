// Package config loads, validates and persists the YAML settings of the
// co2light daemon: vendor OAuth credentials, actuation targets, the callback
// server address and the scheduling knobs. Optional fields are defaulted
// during validation so callers always see a fully populated configuration.
package config
