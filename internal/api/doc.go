// Package api exposes the REST surface of the daemon: query submission and
// lookup, offline address derivation, oracle account plans, vault inspection,
// health and Prometheus metrics.
package api
