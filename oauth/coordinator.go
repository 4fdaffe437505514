// Package oauth drives the authorization-code flow against the upstream:
// it builds authorization URLs with a PKCE challenge, tracks pending
// authorizations by CSRF state, receives the browser redirect on a local
// HTTP listener, and exchanges codes and refresh tokens for token pairs.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/sumi-social/sumid/core"
)

const redirectSuccessPage = "Authorization complete. You can close this tab and return to your client."

// ErrFlowCancelled is delivered to waiters when the coordinator shuts down
// before their redirect lands.
var ErrFlowCancelled = errors.New("oauth: authorization flow cancelled")

// FlowResult is the outcome of one authorization flow.
type FlowResult struct {
	Pair core.TokenPair
	Err  error
}

// Flow is a handle onto one in-flight authorization. The completion channel
// is buffered and written exactly once, so a single waiter may consume the
// result at any time after the redirect lands.
type Flow struct {
	ID   string
	done chan FlowResult
}

func newFlow() *Flow {
	return &Flow{
		ID:   uuid.NewString(),
		done: make(chan FlowResult, 1),
	}
}

func (f *Flow) complete(result FlowResult) {
	if f == nil {
		return
	}
	select {
	case f.done <- result:
	default:
	}
}

// Wait blocks until the flow completes or the context is done.
func (f *Flow) Wait(ctx context.Context) (core.TokenPair, error) {
	if f == nil {
		return core.TokenPair{}, fmt.Errorf("oauth: flow is nil")
	}
	select {
	case result := <-f.done:
		if result.Err != nil {
			return core.TokenPair{}, result.Err
		}
		return result.Pair, nil
	case <-ctx.Done():
		return core.TokenPair{}, ctx.Err()
	}
}

type Config struct {
	ClientID     string
	AuthorizeURL string
	RedirectHost string
	Scopes       []string
	PendingTTL   time.Duration
	MaxPending   int
}

type Coordinator struct {
	cfg     Config
	api     core.RemoteAPI
	logger  core.Logger
	pending *pendingTable
	server  *http.Server
}

func NewCoordinator(cfg Config, api core.RemoteAPI, logger core.Logger) (*Coordinator, error) {
	if api == nil {
		return nil, fmt.Errorf("oauth: coordinator requires a remote api")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("oauth: client id is required")
	}
	if strings.TrimSpace(cfg.AuthorizeURL) == "" {
		return nil, fmt.Errorf("oauth: authorize url is required")
	}
	if strings.TrimSpace(cfg.RedirectHost) == "" {
		return nil, fmt.Errorf("oauth: redirect host is required")
	}
	cfg.Scopes = core.NormalizeScopes(cfg.Scopes)

	return &Coordinator{
		cfg:     cfg,
		api:     api,
		logger:  glog.Ensure(logger),
		pending: newPendingTable(cfg.PendingTTL, cfg.MaxPending, nil),
	}, nil
}

// RedirectURI is the exact URI registered with the upstream and sent in both
// the authorization request and the code exchange.
func (c *Coordinator) RedirectURI() string {
	return "http://" + c.cfg.RedirectHost
}

// StartAuthorization registers a pending authorization and returns the URL
// the operator must open in a browser, plus a flow handle to wait on.
// Never blocks; any number of flows may be in motion at once.
func (c *Coordinator) StartAuthorization(_ context.Context) (string, *Flow, error) {
	if c == nil {
		return "", nil, fmt.Errorf("oauth: coordinator is nil")
	}
	state, err := randomToken(24)
	if err != nil {
		return "", nil, fmt.Errorf("oauth: generate state: %w", err)
	}
	verifier, err := randomToken(32)
	if err != nil {
		return "", nil, fmt.Errorf("oauth: generate pkce verifier: %w", err)
	}
	challenge := sha256.Sum256([]byte(verifier))

	flow := newFlow()
	evicted, err := c.pending.Save(pendingAuthorization{
		FlowID:   flow.ID,
		State:    state,
		Verifier: verifier,
		Flow:     flow,
	})
	if err != nil {
		return "", nil, err
	}
	for _, entry := range evicted {
		c.logger.Info("evicting stale pending authorization", "flow_id", entry.FlowID)
		entry.Flow.complete(FlowResult{Err: ErrFlowCancelled})
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.cfg.ClientID)
	values.Set("redirect_uri", c.RedirectURI())
	values.Set("scope", strings.Join(c.cfg.Scopes, " "))
	values.Set("state", state)
	values.Set("code_challenge", base64.RawURLEncoding.EncodeToString(challenge[:]))
	values.Set("code_challenge_method", "S256")

	authURL := c.cfg.AuthorizeURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}

	c.logger.Info("authorization flow started", "flow_id", flow.ID)
	return authURL, flow, nil
}

// HandleRedirect processes the browser redirect. Consuming the pending entry
// by state is atomic, so a replayed or forged redirect can never complete a
// flow twice.
func (c *Coordinator) HandleRedirect(ctx context.Context, query url.Values) error {
	if c == nil {
		return fmt.Errorf("oauth: coordinator is nil")
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		return core.NewError("oauth: redirect carries no authorization code",
			goerrors.CategoryBadInput, core.ErrorAuthNoCode)
	}
	state := strings.TrimSpace(query.Get("state"))
	if state == "" {
		return core.NewError("oauth: redirect carries no state",
			goerrors.CategoryBadInput, core.ErrorAuthNoState)
	}

	record, ok := c.pending.Consume(state)
	if !ok {
		return core.NewError("oauth: redirect state matches no pending authorization",
			goerrors.CategoryAuth, core.ErrorAuthStateInvalid)
	}

	pair, err := c.api.ExchangeCode(ctx, code, record.Verifier, c.RedirectURI())
	if err != nil {
		wrapped := core.WrapError(err, "oauth: code exchange failed",
			goerrors.CategoryAuth, core.ErrorAuthExchange)
		record.Flow.complete(FlowResult{Err: wrapped})
		return wrapped
	}

	c.logger.Info("authorization flow completed", "flow_id", record.FlowID)
	record.Flow.complete(FlowResult{Pair: pair})
	return nil
}

// Refresh exchanges a refresh token. When the upstream rotates the refresh
// token the new one is returned; when it omits one, the original stays in
// use. Failure is terminal for the credential.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	if c == nil {
		return core.TokenPair{}, fmt.Errorf("oauth: coordinator is nil")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return core.TokenPair{}, core.NewError("oauth: refresh token is required",
			goerrors.CategoryBadInput, core.ErrorAuthExchange)
	}
	pair, err := c.api.ExchangeRefresh(ctx, refreshToken, c.cfg.Scopes)
	if err != nil {
		return core.TokenPair{}, core.WrapError(err, "oauth: refresh exchange failed",
			goerrors.CategoryAuth, core.ErrorAuthExchange)
	}
	if strings.TrimSpace(pair.RefreshToken) == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// Serve runs the redirect listener until Close. The listener binds the
// configured redirect host; the path is irrelevant, the upstream redirects
// to the registered URI verbatim.
func (c *Coordinator) Serve() error {
	if c == nil {
		return fmt.Errorf("oauth: coordinator is nil")
	}
	listener, err := net.Listen("tcp", c.cfg.RedirectHost)
	if err != nil {
		return fmt.Errorf("oauth: redirect listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handleRedirectHTTP)
	c.server = &http.Server{Handler: mux}

	c.logger.Info("redirect listener started", "host", c.cfg.RedirectHost)
	if err := c.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("oauth: redirect listener: %w", err)
	}
	return nil
}

func (c *Coordinator) handleRedirectHTTP(w http.ResponseWriter, r *http.Request) {
	if err := c.HandleRedirect(r.Context(), r.URL.Query()); err != nil {
		c.logger.Error("redirect rejected", "error", err)
		http.Error(w, "authorization failed", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, redirectSuccessPage)
}

// Close stops the redirect listener and cancels every pending flow. Waiters
// observe ErrFlowCancelled.
func (c *Coordinator) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	for _, entry := range c.pending.Drain() {
		entry.Flow.complete(FlowResult{Err: ErrFlowCancelled})
	}
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func randomToken(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
