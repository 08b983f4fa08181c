// Package client is a minimal line-protocol client for the CCS compute service.
package client
