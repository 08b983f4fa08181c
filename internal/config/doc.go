// Package config provides configuration loading and validation for the CCS service.
// It handles the optional YAML configuration file, built-in defaults and validation of
// the port passed on the command line.
package config
