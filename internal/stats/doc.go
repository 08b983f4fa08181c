// Package stats provides the lock-free counter sets shared by connection handlers,
// the discovery responder and the periodic reporter.
package stats
