package core

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorParse            = "SUMID_PARSE"
	ErrorVersion          = "SUMID_VERSION"
	ErrorMethodNotFound   = "SUMID_METHOD_NOT_FOUND"
	ErrorInvalidParams    = "SUMID_INVALID_PARAMS"
	ErrorUnknownAccount   = "SUMID_UNKNOWN_ACCOUNT"
	ErrorTokenExpired     = "SUMID_TOKEN_EXPIRED"
	ErrorAuthNoCode       = "SUMID_AUTH_NO_CODE"
	ErrorAuthNoState      = "SUMID_AUTH_NO_STATE"
	ErrorAuthStateInvalid = "SUMID_AUTH_STATE_INVALID"
	ErrorAuthExchange     = "SUMID_AUTH_EXCHANGE"
	ErrorRemoteAPI        = "SUMID_REMOTE_API"
	ErrorRemoteStatus     = "SUMID_REMOTE_STATUS"
	ErrorFilterLoad       = "SUMID_FILTER_LOAD"
	ErrorFilterScopes     = "SUMID_FILTER_SCOPES"
	ErrorScript           = "SUMID_SCRIPT"
	ErrorInternal         = "SUMID_INTERNAL"
)

// JSON-RPC error codes for the wire envelope.
const (
	RPCCodeParse          = -32700
	RPCCodeVersion        = -32600
	RPCCodeMethodNotFound = -32601
	RPCCodeInvalidParams  = -32602
	RPCCodeRemoteAPI      = -32000
	RPCCodeRemoteStatus   = -32001
	RPCCodeScript         = -32002
	RPCCodeOther          = -32099
)

// ErrUnauthorized marks a definitive upstream rejection of an access token.
// RemoteAPI implementations wrap it so the registry can distinguish an
// expired token from a transport failure.
var ErrUnauthorized = errors.New("core: access token rejected by upstream")

// NewError builds a taxonomy error with a text code.
func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

// WrapError wraps a cause into the taxonomy.
func WrapError(cause error, message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.Wrap(cause, category, message).WithTextCode(textCode))
}

// MapError is total: every error becomes a taxonomy error, unknowns landing
// in CategoryInternal / SUMID_INTERNAL.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	if errors.Is(err, ErrUnauthorized) {
		return NewError(err.Error(), goerrors.CategoryAuth, ErrorTokenExpired)
	}
	return NewError(err.Error(), goerrors.CategoryInternal, ErrorInternal)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "an unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorInvalidParams
	case goerrors.CategoryNotFound:
		return ErrorUnknownAccount
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorTokenExpired
	case goerrors.CategoryExternal:
		return ErrorRemoteAPI
	default:
		return ErrorInternal
	}
}

// RPCCode projects the taxonomy onto the JSON-RPC wire codes. Total: any
// text code outside the taxonomy maps to the catch-all.
func RPCCode(err *goerrors.Error) int {
	if err == nil {
		return 0
	}
	switch err.TextCode {
	case ErrorParse:
		return RPCCodeParse
	case ErrorVersion:
		return RPCCodeVersion
	case ErrorMethodNotFound:
		return RPCCodeMethodNotFound
	case ErrorInvalidParams, ErrorUnknownAccount:
		return RPCCodeInvalidParams
	case ErrorRemoteAPI:
		return RPCCodeRemoteAPI
	case ErrorRemoteStatus:
		return RPCCodeRemoteStatus
	case ErrorScript:
		return RPCCodeScript
	default:
		return RPCCodeOther
	}
}
