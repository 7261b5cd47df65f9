package chain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadClusterDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clusters.yaml")
	content := `clusters:
  devnet:
    rpc_url: https://api.devnet.solana.com
    commitment: confirmed
    description: public devnet
  local:
    rpc_url: http://127.0.0.1:8899
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	defs, err := LoadClusterDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(defs.Clusters))
	}
	if got := defs.Clusters["devnet"].Commitment; got != "confirmed" {
		t.Fatalf("unexpected commitment %q", got)
	}
	if got := defs.Clusters["local"].RPCURL; got != "http://127.0.0.1:8899" {
		t.Fatalf("unexpected rpc url %q", got)
	}
}

func TestLoadClusterDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadClusterDefinitions("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if defs.Clusters == nil || len(defs.Clusters) != 0 {
		t.Fatalf("expected empty non-nil map, got %#v", defs.Clusters)
	}
}

func TestLoadClusterDefinitionsRequiresRPCURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clusters.yaml")
	if err := os.WriteFile(path, []byte("clusters:\n  broken:\n    description: none\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadClusterDefinitions(path); err == nil {
		t.Fatal("expected error for cluster without rpc_url")
	}
}
