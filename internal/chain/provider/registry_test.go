package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"SolOracle-Chain/internal/config"
)

func TestNewRegistryFromDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clusters.yaml")
	content := `clusters:
  localnet:
    rpc_url: http://127.0.0.1:8899
  devnet:
    rpc_url: https://api.devnet.solana.com
    commitment: finalized
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	registry, err := NewRegistry(context.Background(), config.SolanaConfig{ClusterConfig: path, Commitment: "confirmed"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	names := registry.Clusters()
	if len(names) != 2 || names[0] != "devnet" || names[1] != "localnet" {
		t.Fatalf("unexpected clusters %v", names)
	}
	if registry.DefaultName() != "devnet" {
		t.Fatalf("expected alphabetical default, got %s", registry.DefaultName())
	}
	if _, err := registry.DefaultClient(); err != nil {
		t.Fatalf("default client: %v", err)
	}
	if _, ok := registry.Client("localnet"); !ok {
		t.Fatal("expected localnet client")
	}
}

func TestNewRegistryFallsBackToRPCURL(t *testing.T) {
	registry, err := NewRegistry(context.Background(), config.SolanaConfig{RPCURL: "http://127.0.0.1:8899"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()
	if registry.DefaultName() != "default" {
		t.Fatalf("expected default cluster, got %s", registry.DefaultName())
	}
}

func TestNewRegistryRejectsUnknownDefault(t *testing.T) {
	_, err := NewRegistry(context.Background(), config.SolanaConfig{RPCURL: "http://127.0.0.1:8899", DefaultCluster: "mainnet"})
	if err == nil {
		t.Fatal("expected error for unknown default cluster")
	}
}

func TestNewRegistryWithoutEndpoints(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.SolanaConfig{}); err == nil {
		t.Fatal("expected error without endpoints")
	}
}
