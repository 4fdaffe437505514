// Package remote implements the upstream HTTP API: token exchanges against
// the OAuth2 token endpoint and the data endpoints used by the daemon. It is
// the only package that talks to the network besides the redirect listener.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/sumi-social/sumid/core"
)

const (
	// DefaultTokenURL and DefaultAPIBaseURL target the hosted upstream;
	// tests and self-hosted deployments override them.
	DefaultTokenURL   = "https://api.twitter.com/2/oauth2/token"
	DefaultAPIBaseURL = "https://api.twitter.com"
	// DefaultAuthorizeURL is where the browser is sent to approve access.
	DefaultAuthorizeURL = "https://twitter.com/i/oauth2/authorize"

	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 1 << 20 // 1 MiB

	rateLimitRemainingHeader = "x-rate-limit-remaining"
	rateLimitResetHeader     = "x-rate-limit-reset"
)

type Config struct {
	ClientID       string
	ClientSecret   string
	TokenURL       string
	APIBaseURL     string
	RequestTimeout time.Duration
	HTTPClient     core.HTTPDoer
}

// Client implements core.RemoteAPI over HTTP.
type Client struct {
	cfg        Config
	httpClient core.HTTPDoer
	logger     core.Logger
}

func NewClient(cfg Config, logger core.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("remote: client id is required")
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     glog.Ensure(logger),
	}, nil
}

// Identity resolves the account key for a token via the self endpoint.
func (c *Client) Identity(ctx context.Context, accessToken string) (string, error) {
	body, _, err := c.doJSON(ctx, accessToken, http.MethodGet, "/2/users/me", nil, false)
	if err != nil {
		return "", err
	}
	payload, ok := body.(map[string]any)
	if !ok {
		return "", upstreamContractError("identity response is not an object")
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return "", upstreamContractError("identity response carries no data object")
	}
	id, _ := data["id"].(string)
	if strings.TrimSpace(id) == "" {
		return "", upstreamContractError("identity response carries no account id")
	}
	return id, nil
}

// Validate probes the self endpoint. A definitive rejection maps to
// (false, nil); anything else that fails is a transport error.
func (c *Client) Validate(ctx context.Context, accessToken string) (bool, error) {
	_, err := c.Identity(ctx, accessToken)
	if err == nil {
		return true, nil
	}
	if isUnauthorized(err) {
		return false, nil
	}
	return false, err
}

// ExchangeCode redeems an authorization code plus its PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, code, pkceVerifier, redirectURI string) (core.TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", pkceVerifier)
	form.Set("redirect_uri", redirectURI)
	return c.fetchToken(ctx, form)
}

// ExchangeRefresh redeems a refresh token. The returned pair's refresh token
// is empty when the upstream chose not to rotate it.
func (c *Client) ExchangeRefresh(ctx context.Context, refreshToken string, scopes []string) (core.TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(core.NormalizeScopes(scopes), " "))
	}
	return c.fetchToken(ctx, form)
}

// Timeline fetches the account's reverse-chronological home timeline.
func (c *Client) Timeline(ctx context.Context, accessToken, accountKey string, params map[string]any) (core.TimelinePage, error) {
	endpoint := "/2/users/" + url.PathEscape(accountKey) + "/timelines/reverse_chronological"
	body, rateLimit, err := c.doJSON(ctx, accessToken, http.MethodGet, endpoint, params, true)
	if err != nil {
		return core.TimelinePage{}, err
	}
	payload, ok := body.(map[string]any)
	if !ok {
		return core.TimelinePage{}, upstreamContractError("timeline response is not an object")
	}

	page := core.TimelinePage{RateLimit: rateLimit}
	if rawItems, ok := payload["data"].([]any); ok {
		page.Items = make([]map[string]any, 0, len(rawItems))
		for _, raw := range rawItems {
			item, ok := raw.(map[string]any)
			if !ok {
				return core.TimelinePage{}, upstreamContractError("timeline item is not an object")
			}
			page.Items = append(page.Items, item)
		}
	}
	if includes, ok := payload["includes"].(map[string]any); ok {
		page.Includes = includes
	}
	if meta, ok := payload["meta"].(map[string]any); ok {
		page.Meta = meta
	}
	return page, nil
}

// Call performs an arbitrary upstream request. ":id" path segments are
// replaced with the bound account key. GET and DELETE send params as query
// values; other methods send them as a JSON body.
func (c *Client) Call(ctx context.Context, accessToken, accountKey, httpMethod, endpoint string, params map[string]any) (core.CallResult, error) {
	method := strings.ToUpper(strings.TrimSpace(httpMethod))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return core.CallResult{}, core.NewError(
			fmt.Sprintf("remote: unsupported http method %q", httpMethod),
			goerrors.CategoryBadInput, core.ErrorInvalidParams,
		)
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	endpoint = substituteAccountID(endpoint, accountKey)

	body, rateLimit, err := c.doJSON(ctx, accessToken, method, endpoint, params, true)
	if err != nil {
		return core.CallResult{}, err
	}
	return core.CallResult{Body: body, RateLimit: rateLimit}, nil
}

// substituteAccountID replaces every ":id" path segment with the account key.
func substituteAccountID(endpoint, accountKey string) string {
	segments := strings.Split(endpoint, "/")
	for i, segment := range segments {
		if segment == ":id" {
			segments[i] = url.PathEscape(accountKey)
		}
	}
	return strings.Join(segments, "/")
}

func (c *Client) fetchToken(ctx context.Context, form url.Values) (core.TokenPair, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	form.Set("client_id", c.cfg.ClientID)

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return core.TokenPair{}, transportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.TokenPair{}, transportError(err)
	}
	defer response.Body.Close()

	body, err := readBoundedBody(response.Body)
	if err != nil {
		return core.TokenPair{}, transportError(err)
	}

	var payload struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		ErrorCode        string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil && response.StatusCode < http.StatusMultipleChoices {
		return core.TokenPair{}, upstreamContractError("token response is not valid json")
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail := strings.TrimSpace(payload.ErrorDescription)
		if detail == "" {
			detail = strings.TrimSpace(payload.ErrorCode)
		}
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		return core.TokenPair{}, statusError(response.StatusCode, detail)
	}
	if payload.ErrorCode != "" {
		return core.TokenPair{}, statusError(response.StatusCode, payload.ErrorCode)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenPair{}, upstreamContractError("token response carries no access token")
	}
	return core.TokenPair{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
	}, nil
}

// doJSON performs one authenticated request against the API base. When
// requireRateLimit is set the upstream's rate-limit headers must be present
// and parse.
func (c *Client) doJSON(ctx context.Context, accessToken, method, endpoint string, params map[string]any, requireRateLimit bool) (any, core.RateLimit, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestURL := c.cfg.APIBaseURL + endpoint

	var requestBody io.Reader
	contentType := ""
	if len(params) > 0 {
		if method == http.MethodGet || method == http.MethodDelete {
			query := url.Values{}
			for key, value := range params {
				query.Set(key, paramString(value))
			}
			requestURL += "?" + query.Encode()
		} else {
			encoded, err := json.Marshal(params)
			if err != nil {
				return nil, core.RateLimit{}, core.WrapError(err, "remote: encode request body",
					goerrors.CategoryBadInput, core.ErrorInvalidParams)
			}
			requestBody = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, requestURL, requestBody)
	if err != nil {
		return nil, core.RateLimit{}, transportError(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.RateLimit{}, transportError(err)
	}
	defer response.Body.Close()

	body, err := readBoundedBody(response.Body)
	if err != nil {
		return nil, core.RateLimit{}, transportError(err)
	}

	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		return nil, core.RateLimit{}, fmt.Errorf("remote: status %d: %w", response.StatusCode, core.ErrUnauthorized)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, core.RateLimit{}, statusError(response.StatusCode, strings.TrimSpace(string(body)))
	}

	rateLimit := core.RateLimit{}
	if requireRateLimit {
		rateLimit, err = parseRateLimit(response.Header)
		if err != nil {
			return nil, core.RateLimit{}, err
		}
	}

	var decoded any
	if len(bytes.TrimSpace(body)) > 0 {
		if decodeErr := json.Unmarshal(body, &decoded); decodeErr != nil {
			return nil, core.RateLimit{}, upstreamContractError("response body is not valid json")
		}
	}
	return decoded, rateLimit, nil
}

func parseRateLimit(header http.Header) (core.RateLimit, error) {
	remainingRaw := strings.TrimSpace(header.Get(rateLimitRemainingHeader))
	resetRaw := strings.TrimSpace(header.Get(rateLimitResetHeader))
	if remainingRaw == "" || resetRaw == "" {
		return core.RateLimit{}, upstreamContractError("rate limit headers missing from response")
	}
	remaining, err := strconv.Atoi(remainingRaw)
	if err != nil {
		return core.RateLimit{}, upstreamContractError("rate limit remaining header is not a number")
	}
	reset, err := strconv.ParseInt(resetRaw, 10, 64)
	if err != nil {
		return core.RateLimit{}, upstreamContractError("rate limit reset header is not a number")
	}
	return core.RateLimit{Remaining: remaining, Reset: reset}, nil
}

func readBoundedBody(reader io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(reader, maxResponseBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return nil, fmt.Errorf("remote: response exceeds %d bytes", maxResponseBodyBytes)
	}
	return body, nil
}

func paramString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(typed)
	}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, core.ErrUnauthorized)
}

func transportError(err error) *goerrors.Error {
	return core.WrapError(err, "remote: request failed",
		goerrors.CategoryExternal, core.ErrorRemoteAPI)
}

func statusError(status int, detail string) *goerrors.Error {
	message := fmt.Sprintf("remote: upstream returned status %d", status)
	if detail != "" {
		message += ": " + detail
	}
	return core.NewError(message, goerrors.CategoryExternal, core.ErrorRemoteStatus).
		WithMetadata(map[string]any{"status": status})
}

func upstreamContractError(detail string) *goerrors.Error {
	return core.NewError("remote: "+detail, goerrors.CategoryExternal, core.ErrorRemoteAPI)
}
