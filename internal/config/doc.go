// Package config loads and validates YAML configuration for the
// marketfeed tools. Values of the form ${VAR} are expanded from the
// environment before parsing.
package config
