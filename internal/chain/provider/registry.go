package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"SolOracle-Chain/internal/chain"
	"SolOracle-Chain/internal/chain/solana"
	"SolOracle-Chain/internal/config"
)

// Registry manages a set of cluster clients keyed by human readable names.
type Registry struct {
	defaultCluster string
	clients        map[string]chain.Client
}

// NewRegistry loads cluster definitions and instantiates concrete clients.
// When no definitions exist, cfg.RPCURL becomes the "default" cluster.
func NewRegistry(ctx context.Context, cfg config.SolanaConfig) (*Registry, error) {
	defs, err := chain.LoadClusterDefinitions(cfg.ClusterConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]chain.Client)
	for name, def := range defs.Clusters {
		commitment := def.Commitment
		if commitment == "" {
			commitment = cfg.Commitment
		}
		client, err := solana.NewClient(ctx, solana.Config{
			Name:       name,
			RPCURL:     def.RPCURL,
			Commitment:     commitment,
			Notes:          def.Description,
			RequestTimeout: cfg.RequestTimeout(),
		})
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("initialise cluster %s: %w", name, err)
		}
		clients[name] = client
	}

	defaultCluster := cfg.DefaultCluster
	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := solana.NewClient(ctx, solana.Config{
			Name:           "default",
			RPCURL:         cfg.RPCURL,
			Commitment:     cfg.Commitment,
			RequestTimeout: cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if defaultCluster == "" {
			defaultCluster = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("no cluster rpc endpoint configured")
	}
	return newRegistry(defaultCluster, clients)
}

// NewStaticRegistry wraps already constructed clients.
func NewStaticRegistry(defaultCluster string, clients map[string]chain.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("no cluster clients supplied")
	}
	copied := make(map[string]chain.Client, len(clients))
	for name, client := range clients {
		copied[name] = client
	}
	return newRegistry(defaultCluster, copied)
}

func newRegistry(defaultCluster string, clients map[string]chain.Client) (*Registry, error) {
	if defaultCluster == "" {
		names := sortedNames(clients)
		defaultCluster = names[0]
	}
	if _, ok := clients[defaultCluster]; !ok {
		closeAll(clients)
		return nil, fmt.Errorf("default cluster %s is not configured", defaultCluster)
	}
	return &Registry{defaultCluster: defaultCluster, clients: clients}, nil
}

// DefaultClient returns the client configured as default cluster.
func (r *Registry) DefaultClient() (chain.Client, error) {
	if r == nil {
		return nil, errors.New("cluster registry is not initialised")
	}
	client, ok := r.clients[r.defaultCluster]
	if !ok {
		return nil, fmt.Errorf("default cluster %s is not registered", r.defaultCluster)
	}
	return client, nil
}

// DefaultName returns the default cluster name.
func (r *Registry) DefaultName() string {
	if r == nil {
		return ""
	}
	return r.defaultCluster
}

// Client returns the cluster client identified by name.
func (r *Registry) Client(name string) (chain.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.clients)
}

// Clusters returns the list of registered cluster names.
func (r *Registry) Clusters() []string {
	if r == nil {
		return nil
	}
	return sortedNames(r.clients)
}

func sortedNames(clients map[string]chain.Client) []string {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closeAll(clients map[string]chain.Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}
