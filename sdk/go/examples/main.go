package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"SolOracle-Chain/sdk/go/soloracle"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/queries", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(soloracle.Query{
				ID:        "query-demo",
				Prompt:    "price of SOL?",
				Status:    soloracle.StatusPending,
				CreatedAt: time.Now().Unix(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/queries/query-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(soloracle.Query{
			ID:     "query-demo",
			Prompt: "price of SOL?",
			Status: soloracle.StatusSucceeded,
			Result: &soloracle.QueryResult{
				AskSignature: "5demo",
				Response:     "about 150 USD",
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := soloracle.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query, err := client.SubmitQuery(ctx, soloracle.QueryRequest{Prompt: "price of SOL?"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted query %s (status=%s)\n", query.ID, query.Status)

	done, err := client.WaitForQuery(ctx, query.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("query %s answered: %s\n", done.ID, done.Result.Response)
}
