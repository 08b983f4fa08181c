// Package discovery locates a CCS service on the local network by broadcasting the
// discovery probe and waiting for the first matching reply.
package discovery
