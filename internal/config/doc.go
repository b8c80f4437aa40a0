// Package config defines the alarm agent settings and provides helpers to
// load, validate and save them in YAML format.
//
// The Config type names the files holding the persisted recurring-alarm set,
// the device key and the push-channel keyring, plus the log level and the
// periodic re-arm schedule.
package config
