// Package chain describes the cluster-facing surface used by the oracle
// client: account reads, blockhash lookups, transaction submission and
// cluster metadata. Concrete transports live in sub-packages; the provider
// sub-package builds a registry of named clusters from YAML definitions.
package chain
