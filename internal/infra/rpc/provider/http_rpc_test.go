package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProvider_Execute_JSONRPC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if req["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", req["jsonrpc"])
		}
		if req["method"] != "eth_blockNumber" {
			t.Errorf("unexpected method %v", req["method"])
		}
		if params, ok := req["params"].([]any); !ok || len(params) != 0 {
			t.Errorf("expected empty params array, got %v", req["params"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "0x10"})
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	raw, err := p.Execute(context.Background(), Operation{Name: "eth_blockNumber"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var head string
	if err := json.Unmarshal(raw, &head); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if head != "0x10" {
		t.Errorf("expected 0x10, got %s", head)
	}
}

func TestHTTPProvider_Execute_JSONRPC10(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["jsonrpc"]; ok {
			t.Errorf("expected no jsonrpc field for 1.0, got %v", req["jsonrpc"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 800000, "error": nil, "id": req["id"]})
	}))
	defer server.Close()

	p := NewHTTPProvider("btc-mock", server.URL, 5*time.Second)
	raw, err := p.Execute(context.Background(), Operation{Name: "getblockcount", JSONRPCVersion: "1.0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != "800000" {
		t.Errorf("expected 800000, got %s", raw)
	}
}

func TestHTTPProvider_Execute_JSONRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "nonce too low"},
		})
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	_, err := p.Execute(context.Background(), Operation{Name: "eth_sendRawTransaction", Params: []any{"0x00"}})
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32000 || rpcErr.Message != "nonce too low" {
		t.Errorf("unexpected rpc error %+v", rpcErr)
	}
}

func TestHTTPProvider_Execute_NullResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("eth-mock", server.URL, 5*time.Second)
	raw, err := p.Execute(context.Background(), Operation{Name: "eth_getTransactionReceipt", Params: []any{"0xabc"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != "null" {
		t.Errorf("expected null, got %s", raw)
	}
}
