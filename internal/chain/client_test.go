package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_BlockNumber(t *testing.T) {
	srv := rpcServer(t, func(method string, _ []json.RawMessage) (any, *rpcError) {
		if method != "eth_blockNumber" {
			t.Errorf("unexpected method %s", method)
		}
		return "0x1a4", nil
	})
	defer srv.Close()

	client := NewClient(srv.URL, "2000")
	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber returned error: %v", err)
	}
	if n != 420 {
		t.Fatalf("expected 420, got %d", n)
	}
}

func TestClient_SendTransaction(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (any, *rpcError) {
		if method != "eth_sendTransaction" {
			t.Errorf("unexpected method %s", method)
		}
		var tx TxRequest
		if err := json.Unmarshal(params[0], &tx); err != nil {
			t.Errorf("bad tx param: %v", err)
		}
		if tx.From != "0xdead" || tx.To != "0xbeef" {
			t.Errorf("unexpected tx %+v", tx)
		}
		return "0xhash", nil
	})
	defer srv.Close()

	client := NewClient(srv.URL, "2000")
	hash, err := client.SendTransaction(context.Background(), TxRequest{From: "0xdead", To: "0xbeef"})
	if err != nil {
		t.Fatalf("SendTransaction returned error: %v", err)
	}
	if hash != "0xhash" {
		t.Fatalf("expected 0xhash, got %s", hash)
	}
}

func TestClient_SendTransactionRPCError(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "insufficient funds"}
	})
	defer srv.Close()

	client := NewClient(srv.URL, "2000")
	if _, err := client.SendTransaction(context.Background(), TxRequest{From: "0xdead"}); err == nil {
		t.Fatal("expected error from rpc error response")
	}
}

func TestClient_TransactionReceipt(t *testing.T) {
	t.Run("pending returns nil", func(t *testing.T) {
		srv := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
			return nil, nil
		})
		defer srv.Close()

		client := NewClient(srv.URL, "2000")
		receipt, err := client.TransactionReceipt(context.Background(), "0xhash")
		if err != nil {
			t.Fatalf("TransactionReceipt returned error: %v", err)
		}
		if receipt != nil {
			t.Fatalf("expected nil receipt for unmined tx, got %+v", receipt)
		}
	})

	t.Run("mined returns status", func(t *testing.T) {
		srv := rpcServer(t, func(string, []json.RawMessage) (any, *rpcError) {
			return map[string]string{
				"transactionHash": "0xhash",
				"blockNumber":     "0x10",
				"status":          "0x1",
			}, nil
		})
		defer srv.Close()

		client := NewClient(srv.URL, "2000")
		receipt, err := client.TransactionReceipt(context.Background(), "0xhash")
		if err != nil {
			t.Fatalf("TransactionReceipt returned error: %v", err)
		}
		if receipt == nil || !receipt.Succeeded() || receipt.BlockNumber != "0x10" {
			t.Fatalf("unexpected receipt %+v", receipt)
		}
	})
}
