package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type jsonRPCClient struct {
	httpURL    string
	httpClient *http.Client
}

func newJSONRPCClient(httpURL string, timeout time.Duration) *jsonRPCClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &jsonRPCClient{
		httpURL:    strings.TrimSpace(httpURL),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *jsonRPCClient) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var payload struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if payload.Error != nil {
		return &RPCError{Code: payload.Error.Code, Message: payload.Error.Message}
	}
	if len(payload.Result) == 0 {
		return fmt.Errorf("rpc empty result")
	}
	return json.Unmarshal(payload.Result, out)
}

func (c *jsonRPCClient) blockNumber(ctx context.Context) (uint64, error) {
	var out string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &out); err != nil {
		return 0, err
	}
	return parseHexUint64(out)
}

func parseHexUint64(v string) (uint64, error) {
	clean := strings.TrimSpace(strings.ToLower(v))
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	return strconv.ParseUint(clean, 16, 64)
}
