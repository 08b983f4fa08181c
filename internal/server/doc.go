// Package server implements the CCS network endpoints.
// It runs the TCP request listener with one handler goroutine per connection, the UDP
// discovery responder and the HTTP monitoring API with its websocket report stream.
package server
