// Package session keeps a registry of live TCP connections.
// It tracks per-connection activity, exposes session info to the monitoring API and
// optionally closes connections that stay idle longer than a configured timeout.
package session
