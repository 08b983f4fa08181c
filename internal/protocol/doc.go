// Package protocol implements the CCS wire formats.
// It parses newline-delimited arithmetic requests, evaluates them with 32-bit overflow
// checking, encodes responses and defines the UDP discovery probe and reply payloads.
package protocol
