package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Client is a minimal JSON-RPC client for the value chain node. Calls are
// synchronous; pending transactions surface as a nil receipt.
type Client struct {
	url     string
	httpc   *http.Client
	reqID   atomic.Int64
	chainID string
}

func NewClient(url string, chainID string) *Client {
	return &Client{
		url:     url,
		chainID: chainID,
		httpc: &http.Client{
			Timeout: time.Second * 25,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("call %s: %w", method, rr.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) ChainID() string {
	return c.chainID
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var hexNum string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &hexNum); err != nil {
		return 0, err
	}
	return parseHexUint(hexNum)
}

type TxRequest struct {
	From  string `json:"from"`
	To    string `json:"to,omitempty"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
}

// SendTransaction submits a signed-by-node transaction and returns its hash.
func (c *Client) SendTransaction(ctx context.Context, tx TxRequest) (string, error) {
	var hash string
	if err := c.call(ctx, "eth_sendTransaction", []any{tx}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
	ContractAddress string `json:"contractAddress"`
}

// Succeeded reports whether the mined transaction executed without revert.
func (r *Receipt) Succeeded() bool {
	return r.Status == "0x1"
}

// TransactionReceipt returns (nil, nil) while the transaction is not yet
// mined; callers treat that as a pending outcome.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func parseHexUint(s string) (uint64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return n, nil
}
