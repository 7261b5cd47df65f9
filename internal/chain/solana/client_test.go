package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sol "github.com/gagliardetto/solana-go"

	"SolOracle-Chain/internal/chain"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// fakeCluster answers the subset of the cluster JSON-RPC API the client uses.
type fakeCluster struct {
	mu        sync.Mutex
	accounts  map[string][]byte
	owner     pda.Address
	blockhash sol.Hash
	signature sol.Signature
	sent      []map[string]any
	batches   int
}

func (f *fakeCluster) handle(req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	ctx := map[string]any{"slot": 42}
	switch req.Method {
	case "getAccountInfo":
		var addr string
		_ = json.Unmarshal(req.Params[0], &addr)
		data, ok := f.accounts[addr]
		if !ok {
			resp.Result = map[string]any{"context": ctx, "value": nil}
			return resp
		}
		resp.Result = map[string]any{
			"context": ctx,
			"value": map[string]any{
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"lamports":   1000,
				"owner":      f.owner.String(),
				"rentEpoch":  uint64(18446744073709551615),
				"space":      len(data),
			},
		}
	case "getLatestBlockhash":
		resp.Result = map[string]any{
			"context": ctx,
			"value":   map[string]any{"blockhash": f.blockhash.String(), "lastValidBlockHeight": 100},
		}
	case "sendTransaction":
		var cfg map[string]any
		_ = json.Unmarshal(req.Params[1], &cfg)
		f.sent = append(f.sent, cfg)
		resp.Result = f.signature.String()
	case "getSlot":
		resp.Result = 42
	case "getVersion":
		resp.Result = map[string]any{"solana-core": "1.18.26", "feature-set": 3469865029}
	default:
		resp.Error = &rpcError{Code: -32601, Message: "Method not found"}
	}
	return resp
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		f.batches++
		var reqs []rpcRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resps := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			resps[i] = f.handle(req)
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(f.handle(req))
}

func newTestClient(t *testing.T, cluster *fakeCluster) *Client {
	t.Helper()
	server := httptest.NewServer(cluster)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewClient(ctx, Config{Name: "test", RPCURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClientAccountInfo(t *testing.T) {
	present := pda.Address{1}
	cluster := &fakeCluster{
		accounts: map[string][]byte{present.String(): {9, 8, 7}},
		owner:    pda.Address{2},
	}
	client := newTestClient(t, cluster)
	ctx := context.Background()

	account, err := client.AccountInfo(ctx, present)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if account == nil || !bytes.Equal(account.Data, []byte{9, 8, 7}) {
		t.Fatalf("unexpected account %#v", account)
	}
	if account.Owner != cluster.owner || account.Slot != 42 || account.Lamports != 1000 {
		t.Fatalf("unexpected metadata %#v", account)
	}

	missing, err := client.AccountInfo(ctx, pda.Address{3})
	if err != nil {
		t.Fatalf("account info for missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing account, got %#v", missing)
	}
}

func TestClientMultipleAccountsUsesOneBatch(t *testing.T) {
	a, b := pda.Address{1}, pda.Address{2}
	cluster := &fakeCluster{accounts: map[string][]byte{b.String(): {5}}, owner: pda.Address{7}}
	client := newTestClient(t, cluster)

	accounts, err := client.MultipleAccounts(context.Background(), a, b)
	if err != nil {
		t.Fatalf("multiple accounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0] != nil || accounts[1] == nil {
		t.Fatalf("unexpected accounts %#v", accounts)
	}
	if accounts[1].Address != b {
		t.Fatalf("expected address %s, got %s", b, accounts[1].Address)
	}
	if cluster.batches != 1 {
		t.Fatalf("expected a single batch request, got %d", cluster.batches)
	}
}

func TestClientSendTransaction(t *testing.T) {
	cluster := &fakeCluster{
		blockhash: sol.Hash{4, 4, 4},
		signature: sol.Signature{1, 2, 3},
	}
	client := newTestClient(t, cluster)
	ctx := context.Background()

	blockhash, err := client.LatestBlockhash(ctx)
	if err != nil {
		t.Fatalf("latest blockhash: %v", err)
	}
	if blockhash != cluster.blockhash {
		t.Fatalf("unexpected blockhash %s", blockhash)
	}

	payer := sol.NewWallet()
	ix := sol.NewInstruction(sol.SystemProgramID, sol.AccountMetaSlice{
		sol.NewAccountMeta(payer.PublicKey(), true, true),
	}, []byte{1})
	tx, err := sol.NewTransaction([]sol.Instruction{ix}, blockhash, sol.TransactionPayer(payer.PublicKey()))
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if _, err := tx.Sign(func(key sol.PublicKey) *sol.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer.PrivateKey
		}
		return nil
	}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	sig, err := client.SendTransaction(ctx, tx, chain.SendOptions{SkipPreflight: true})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	if sig != cluster.signature {
		t.Fatalf("unexpected signature %s", sig)
	}
	if len(cluster.sent) != 1 || cluster.sent[0]["skipPreflight"] != true || cluster.sent[0]["encoding"] != "base64" {
		t.Fatalf("unexpected send config %#v", cluster.sent)
	}
}

func TestClientSnapshot(t *testing.T) {
	client := newTestClient(t, &fakeCluster{})
	snapshot, err := client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Slot != 42 || snapshot.Version != "1.18.26" || snapshot.Cluster != "test" {
		t.Fatalf("unexpected snapshot %#v", snapshot)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}

func TestClientAppliesRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client, err := NewClient(context.Background(), Config{Name: "slow", RPCURL: server.URL, RequestTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	start := time.Now()
	_, err = client.AccountInfo(context.Background(), pda.Address{1})
	elapsed := time.Since(start)
	if xerrors.CodeOf(err) != xerrors.CodeRPCFailure {
		t.Fatalf("expected rpc failure, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("request timeout not applied, took %s", elapsed)
	}
}
