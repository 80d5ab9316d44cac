package omni

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

const (
	testAddr  = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"
	otherAddr = "1Po1oWkD2LmodfkBYiAktwh76vkF93LKnh"
)

// MockRPCClient implements rpc.RPCClient for testing
type MockRPCClient struct {
	ExecuteFunc func(ctx context.Context, op rpc.Operation) (json.RawMessage, error)
	calls       []rpc.Operation
}

func (m *MockRPCClient) Execute(ctx context.Context, op rpc.Operation) (json.RawMessage, error) {
	m.calls = append(m.calls, op)
	return m.ExecuteFunc(ctx, op)
}

func (m *MockRPCClient) ExecuteResilient(ctx context.Context, op rpc.Operation) (json.RawMessage, bool) {
	res, err := m.Execute(ctx, op)
	return res, err == nil
}

func respond(body string) *MockRPCClient {
	return &MockRPCClient{ExecuteFunc: func(context.Context, rpc.Operation) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}}
}

func TestAdapter_GetBalance(t *testing.T) {
	gateway := respond(`{"state":"ok","data":{"balance":"12.5"}}`)
	a := NewAdapter("USDT", 0, 0, 3, gateway, respond(`{}`))

	rec, err := a.GetBalance(context.Background(), " "+testAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Balance.Equal(decimal.NewFromInt(1250000000)) {
		t.Errorf("expected 1250000000, got %s", rec.Balance)
	}
	if rec.Provider != "microscanners" {
		t.Errorf("expected provider microscanners, got %s", rec.Provider)
	}

	body := gateway.calls[0].Params.(map[string]any)
	if body["address"] != testAddr || body["tokenID"] != int64(31) {
		t.Errorf("unexpected request body %v", body)
	}
}

func TestAdapter_GetBalance_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"node out", `{"state":"fail"}`, ErrNodeOut},
		{"no balance", `{"data":{}}`, nil},
		{"no data", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter("USDT", 31, 8, 3, respond(tt.body), respond(`{}`))
			_, err := a.GetBalance(context.Background(), testAddr)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

const txPage = `{"data":{"lastBlock":467360,"transactions":[
 {"block_number":467352,"transaction_block_hash":"bh","transaction_txid":"t1",
  "from_address":"` + otherAddr + `","to_address":"` + testAddr + `",
  "amount":0.744019,"fee":"0.0008","custom_type":"Simple Send","custom_valid":"1",
  "created_time":"2017-05-20T22:28:15.000Z","_removed":0},
 {"block_number":"467359","transaction_txid":"t2",
  "from_address":"` + testAddr + `","to_address":"` + otherAddr + `",
  "amount":"1","fee":0.0001,"custom_type":"Simple Send","custom_valid":"",
  "created_time":"2017-05-21T10:00:00Z","_removed":"0"},
 {"block_number":467358,"transaction_txid":"t3",
  "from_address":"` + testAddr + `","to_address":"` + otherAddr + `",
  "amount":"2","fee":0,"custom_valid":1,
  "created_time":"2017-05-21T11:00:00Z","_removed":0},
 {"transaction_txid":"","created_time":"2017-05-21T11:00:00Z"}
]}}`

func TestAdapter_GetTransactions(t *testing.T) {
	scanner := respond(txPage)
	a := NewAdapter("USDT", 31, 8, 3, respond(`{}`), scanner)

	txs, err := a.GetTransactions(context.Background(), domain.ScanContext{Address: testAddr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if scanner.calls[0].Name != "txs/"+testAddr {
		t.Errorf("unexpected path %s", scanner.calls[0].Name)
	}
	if a.LastSeenBlock() != 467360 {
		t.Errorf("expected last block 467360, got %d", a.LastSeenBlock())
	}

	in := txs[0]
	if in.TransactionDirection != domain.DirectionIncome || in.AddressTo != "" || in.AddressFrom != otherAddr {
		t.Errorf("unexpected income %+v", in)
	}
	if in.BlockConfirmations != 8 || in.TransactionStatus != domain.TxStatusSuccess {
		t.Errorf("expected success at 8 confirmations, got %d %s", in.BlockConfirmations, in.TransactionStatus)
	}
	if !in.AddressAmount.Equal(decimal.NewFromInt(74401900)) {
		t.Errorf("expected 74401900, got %s", in.AddressAmount)
	}
	if !in.TransactionFee.Equal(decimal.NewFromInt(80000)) {
		t.Errorf("expected fee 80000 satoshi, got %s", in.TransactionFee)
	}
	if in.InputValue != "Simple Send" {
		t.Errorf("expected input value Simple Send, got %s", in.InputValue)
	}
	if !in.BlockTime.Equal(time.Date(2017, 5, 20, 22, 28, 15, 0, time.UTC)) {
		t.Errorf("unexpected block time %v", in.BlockTime)
	}

	if txs[1].TransactionStatus != domain.TxStatusFail {
		t.Errorf("expected invalid custom tx to fail, got %s", txs[1].TransactionStatus)
	}
	if txs[1].TransactionDirection != domain.DirectionOutcome {
		t.Errorf("expected outcome, got %s", txs[1].TransactionDirection)
	}
	if txs[2].TransactionStatus != domain.TxStatusConfirming || txs[2].BlockConfirmations != 2 {
		t.Errorf("expected confirming at 2 confirmations, got %s %d", txs[2].TransactionStatus, txs[2].BlockConfirmations)
	}
}

func TestAdapter_GetTransactions_MissingList(t *testing.T) {
	a := NewAdapter("USDT", 31, 8, 3, respond(`{}`), respond(`{"data":{"lastBlock":1}}`))

	_, err := a.GetTransactions(context.Background(), domain.ScanContext{Address: testAddr})
	var malformed *domain.MalformedDataError
	if !errors.As(err, &malformed) || malformed.Field != "transactions" {
		t.Fatalf("expected MalformedDataError on transactions, got %v", err)
	}
}

func TestAdapter_GetTransactions_Unreachable(t *testing.T) {
	scanner := &MockRPCClient{ExecuteFunc: func(context.Context, rpc.Operation) (json.RawMessage, error) {
		return nil, errors.New("timeout")
	}}
	a := NewAdapter("USDT", 31, 8, 3, respond(`{}`), scanner)

	txs, err := a.GetTransactions(context.Background(), domain.ScanContext{Address: testAddr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txs == nil || len(txs) != 0 {
		t.Errorf("expected empty batch, got %v", txs)
	}
}

func TestNew(t *testing.T) {
	cfg := chain.WithDefaults(domain.ProviderConfig{
		Chain:   "USDT",
		Family:  domain.FamilyOmni,
		TokenID: 31,
		Networks: map[string]domain.NetworkConfig{
			"mainnet": {Endpoints: []domain.Endpoint{
				{Name: "gateway", Kind: domain.KindOmniGateway, URL: "http://gateway.invalid"},
				{Name: "scanner", Kind: domain.KindOmniScanner, URL: "http://scanner.invalid"},
			}},
		},
	})

	s, err := New(cfg, chain.Selector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.(*Adapter).propertyID != 31 || s.(*Adapter).threshold != 3 {
		t.Errorf("unexpected adapter %+v", s)
	}

	s, err = New(cfg, chain.Selector{Asset: "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.(*Adapter).propertyID != 3 {
		t.Errorf("expected property 3, got %d", s.(*Adapter).propertyID)
	}

	if _, err := New(cfg, chain.Selector{Asset: "abc"}); err == nil {
		t.Error("expected error for a non numeric property")
	}
	if _, err := s.NormalizeAddress("bad"); !errors.Is(err, chain.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}
