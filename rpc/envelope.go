// Package rpc exposes the daemon over JSON-RPC 2.0: the wire envelope, the
// method dispatcher, and the unix-socket listener clients connect to.
package rpc

import (
	"encoding/json"
)

const protocolVersion = "2.0"

// Request is the JSON-RPC 2.0 request envelope. Params stay raw until the
// method routes them into its typed parameter struct.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// Response is the JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type accountAddParams struct {
	Wait bool `json:"wait"`
}

type accountRefreshParams struct {
	AccountKey string `json:"account_key"`
}

type homeTimelineParams struct {
	AccountKey string         `json:"account_key"`
	APIParams  map[string]any `json:"api_params"`
}

type plainParams struct {
	AccountKey string         `json:"account_key"`
	HTTPMethod string         `json:"http_method"`
	Endpoint   string         `json:"endpoint"`
	APIParams  map[string]any `json:"api_params"`
}

// callMeta carries the upstream rate-limit state on every data response.
type callMeta struct {
	APICallsRemaining int   `json:"api_calls_remaining"`
	APICallsReset     int64 `json:"api_calls_reset"`
}

type timelineResult struct {
	Meta         callMeta         `json:"meta"`
	Data         []map[string]any `json:"data"`
	Includes     map[string]any   `json:"includes,omitempty"`
	UpstreamMeta map[string]any   `json:"upstream_meta,omitempty"`
}

type plainResult struct {
	Meta callMeta `json:"meta"`
	Data any      `json:"data"`
}
