// Package report implements the periodic statistics reporter.
// Every interval it drains the rolling counters, merges them into the cumulative
// counters and hands both snapshots to a set of sinks: log, NATS, webhook and the websocket hub.
package report
