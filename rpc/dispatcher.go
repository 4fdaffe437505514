package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/sumi-social/sumid/command"
	"github.com/sumi-social/sumid/core"
	"github.com/sumi-social/sumid/filter"
	"github.com/sumi-social/sumid/oauth"
	"github.com/sumi-social/sumid/query"
)

// Version is the daemon version reported by the status method.
const Version = "0.1.0"

const (
	MethodStatus         = "status"
	MethodAccountList    = "account.list"
	MethodAccountAdd     = "account.add"
	MethodAccountRefresh = "account.refresh"
	MethodHomeTimeline   = "home_timeline"
	MethodPlain          = "plain"
)

// AuthorizationStarter begins browser authorization flows. The oauth
// coordinator implements it.
type AuthorizationStarter interface {
	StartAuthorization(ctx context.Context) (string, *oauth.Flow, error)
}

// Dispatcher routes JSON-RPC requests onto the daemon's services. It also
// implements command.AccountService, so the mutating methods run through the
// go-command handlers.
type Dispatcher struct {
	registry    *core.Registry
	coordinator AuthorizationStarter
	pipeline    *filter.Pipeline
	logger      core.Logger

	addAccountCmd     *command.AddAccountCommand
	refreshAccountCmd *command.RefreshAccountCommand
	statusQuery       *query.StatusQuery
	listAccountsQuery *query.ListAccountsQuery
}

func NewDispatcher(registry *core.Registry, coordinator AuthorizationStarter, pipeline *filter.Pipeline, logger core.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("rpc: dispatcher requires a registry")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("rpc: dispatcher requires a coordinator")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("rpc: dispatcher requires a filter pipeline")
	}
	dispatcher := &Dispatcher{
		registry:    registry,
		coordinator: coordinator,
		pipeline:    pipeline,
		logger:      glog.Ensure(logger),
	}
	dispatcher.addAccountCmd = command.NewAddAccountCommand(dispatcher)
	dispatcher.refreshAccountCmd = command.NewRefreshAccountCommand(dispatcher)
	dispatcher.statusQuery = query.NewStatusQuery(Version)
	dispatcher.listAccountsQuery = query.NewListAccountsQuery(registry)
	return dispatcher, nil
}

// HandleLine processes one newline-framed request and returns the encoded
// response. It never returns an empty slice; every failure becomes a
// JSON-RPC error envelope.
func (d *Dispatcher) HandleLine(ctx context.Context, line []byte) []byte {
	var request Request
	if err := json.Unmarshal(line, &request); err != nil {
		return encodeResponse(errorResponse(nil, core.NewError(
			"rpc: request is not valid json",
			goerrors.CategoryBadInput, core.ErrorParse,
		)))
	}
	return encodeResponse(d.Handle(ctx, request))
}

// Handle routes one decoded request.
func (d *Dispatcher) Handle(ctx context.Context, request Request) Response {
	if request.JSONRPC != protocolVersion {
		return errorResponse(request.ID, core.NewError(
			fmt.Sprintf("rpc: unsupported protocol version %q", request.JSONRPC),
			goerrors.CategoryBadInput, core.ErrorVersion,
		))
	}

	result, err := d.dispatch(ctx, request)
	if err != nil {
		mapped := core.MapError(err)
		d.logger.Error("request failed",
			"method", request.Method,
			"code", core.RPCCode(mapped),
			"error", mapped.Message,
		)
		return errorResponse(request.ID, mapped)
	}
	return Response{JSONRPC: protocolVersion, Result: result, ID: request.ID}
}

func (d *Dispatcher) dispatch(ctx context.Context, request Request) (any, error) {
	switch request.Method {
	case MethodStatus:
		return d.statusQuery.Query(ctx, query.StatusMessage{})
	case MethodAccountList:
		return d.listAccountsQuery.Query(ctx, query.ListAccountsMessage{})
	case MethodAccountAdd:
		var params accountAddParams
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}
		return d.executeAddAccount(ctx, command.AddAccountMessage{Wait: params.Wait})
	case MethodAccountRefresh:
		var params accountRefreshParams
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}
		msg := command.RefreshAccountMessage{AccountKey: params.AccountKey}
		if err := msg.Validate(); err != nil {
			return nil, core.WrapError(err, "rpc: invalid params",
				goerrors.CategoryBadInput, core.ErrorInvalidParams)
		}
		if err := d.refreshAccountCmd.Execute(ctx, msg); err != nil {
			return nil, err
		}
		return map[string]any{"refreshed": params.AccountKey}, nil
	case MethodHomeTimeline:
		var params homeTimelineParams
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}
		return d.homeTimeline(ctx, params)
	case MethodPlain:
		var params plainParams
		if err := decodeParams(request.Params, &params); err != nil {
			return nil, err
		}
		return d.plain(ctx, params)
	default:
		return nil, core.NewError(
			fmt.Sprintf("rpc: unknown method %q", request.Method),
			goerrors.CategoryNotFound, core.ErrorMethodNotFound,
		)
	}
}

func (d *Dispatcher) executeAddAccount(ctx context.Context, msg command.AddAccountMessage) (core.AddAccountResult, error) {
	collector := gocmd.NewResult[core.AddAccountResult]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := d.addAccountCmd.Execute(ctx, msg); err != nil {
		return core.AddAccountResult{}, err
	}
	result, ok := collector.Load()
	if !ok {
		return core.AddAccountResult{}, core.NewError(
			"rpc: account.add produced no result",
			goerrors.CategoryInternal, core.ErrorInternal,
		)
	}
	return result, nil
}

// AddAccount starts an authorization flow. Without wait the caller gets the
// authorization URL and flow id back immediately and a background goroutine
// binds the credential when the redirect lands; with wait the call blocks
// until the flow completes and reports the bound account key.
func (d *Dispatcher) AddAccount(ctx context.Context, wait bool) (core.AddAccountResult, error) {
	authURL, flow, err := d.coordinator.StartAuthorization(ctx)
	if err != nil {
		return core.AddAccountResult{}, err
	}

	if wait {
		// the caller blocks, so the URL the operator must open only shows
		// up in the daemon log
		d.logger.Info("authorization started", "flow_id", flow.ID, "url", authURL)
		pair, err := flow.Wait(ctx)
		if err != nil {
			return core.AddAccountResult{}, err
		}
		accountKey, err := d.registry.AddCredential(ctx, pair.AccessToken, pair.RefreshToken)
		if err != nil {
			return core.AddAccountResult{}, err
		}
		return core.AddAccountResult{AccountKey: accountKey}, nil
	}

	go d.bindWhenComplete(flow)
	return core.AddAccountResult{
		AuthorizationURL: authURL,
		FlowID:           flow.ID,
	}, nil
}

// bindWhenComplete is the sole waiter for flows nobody blocks on.
func (d *Dispatcher) bindWhenComplete(flow *oauth.Flow) {
	ctx := context.Background()
	pair, err := flow.Wait(ctx)
	if err != nil {
		d.logger.Error("authorization flow failed", "flow_id", flow.ID, "error", err)
		return
	}
	accountKey, err := d.registry.AddCredential(ctx, pair.AccessToken, pair.RefreshToken)
	if err != nil {
		d.logger.Error("credential bind failed", "flow_id", flow.ID, "error", err)
		return
	}
	d.logger.Info("account linked", "flow_id", flow.ID, "account_key", accountKey)
}

// RefreshAccount forces a refresh exchange for one linked account: the
// credential is invalidated and resolved again, which refreshes and
// persists the rotated pair.
func (d *Dispatcher) RefreshAccount(ctx context.Context, accountKey string) error {
	if err := d.registry.Invalidate(accountKey); err != nil {
		return err
	}
	_, err := d.registry.ResolveClient(ctx, accountKey)
	return err
}

func (d *Dispatcher) homeTimeline(ctx context.Context, params homeTimelineParams) (any, error) {
	if strings.TrimSpace(params.AccountKey) == "" {
		return nil, core.NewError("rpc: account_key is required",
			goerrors.CategoryBadInput, core.ErrorInvalidParams)
	}
	handle, err := d.registry.ResolveClient(ctx, params.AccountKey)
	if err != nil {
		return nil, err
	}
	page, err := handle.Timeline(ctx, params.APIParams)
	if err != nil {
		return nil, err
	}
	kept, err := d.pipeline.Apply(page.Items)
	if err != nil {
		return nil, err
	}
	return timelineResult{
		Meta: callMeta{
			APICallsRemaining: page.RateLimit.Remaining,
			APICallsReset:     page.RateLimit.Reset,
		},
		Data:         kept,
		Includes:     page.Includes,
		UpstreamMeta: page.Meta,
	}, nil
}

func (d *Dispatcher) plain(ctx context.Context, params plainParams) (any, error) {
	if strings.TrimSpace(params.AccountKey) == "" {
		return nil, core.NewError("rpc: account_key is required",
			goerrors.CategoryBadInput, core.ErrorInvalidParams)
	}
	if strings.TrimSpace(params.HTTPMethod) == "" || strings.TrimSpace(params.Endpoint) == "" {
		return nil, core.NewError("rpc: http_method and endpoint are required",
			goerrors.CategoryBadInput, core.ErrorInvalidParams)
	}
	handle, err := d.registry.ResolveClient(ctx, params.AccountKey)
	if err != nil {
		return nil, err
	}
	result, err := handle.Call(ctx, params.HTTPMethod, params.Endpoint, params.APIParams)
	if err != nil {
		return nil, err
	}
	return plainResult{
		Meta: callMeta{
			APICallsRemaining: result.RateLimit.Remaining,
			APICallsReset:     result.RateLimit.Reset,
		},
		Data: result.Body,
	}, nil
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return core.WrapError(err, "rpc: invalid params",
			goerrors.CategoryBadInput, core.ErrorInvalidParams)
	}
	return nil
}

func errorResponse(id any, err *goerrors.Error) Response {
	return Response{
		JSONRPC: protocolVersion,
		Error: &RPCError{
			Code:    core.RPCCode(err),
			Message: err.Message,
		},
		ID: id,
	}
}

func encodeResponse(response Response) []byte {
	encoded, err := json.Marshal(response)
	if err != nil {
		// the envelope is built from encodable values; this is unreachable
		// short of a programming error
		fallback := Response{
			JSONRPC: protocolVersion,
			Error:   &RPCError{Code: core.RPCCodeOther, Message: "rpc: response encoding failed"},
			ID:      response.ID,
		}
		encoded, _ = json.Marshal(fallback)
	}
	return encoded
}
