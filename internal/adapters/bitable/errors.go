package bitable

import (
	"errors"
	"fmt"
)

// Kind classifies remote failures. The set is closed.
type Kind string

// Error kinds.
const (
	KindAuthenticationMissing Kind = "authentication_missing"
	KindAuthenticationInvalid Kind = "authentication_invalid"
	KindTokenExpired          Kind = "token_expired"
	KindRateLimited           Kind = "rate_limited"
	KindServiceUnavailable    Kind = "service_unavailable"
	KindParamInvalid          Kind = "param_invalid"
	KindResourceNotFound      Kind = "resource_not_found"
)

// Sentinel kinds for remote errors.
var (
	ErrAuthenticationMissing = errors.New("authentication missing")
	ErrAuthenticationInvalid = errors.New("authentication invalid")
	ErrTokenExpired          = errors.New("token expired")
	ErrRateLimited           = errors.New("rate limited")
	ErrServiceUnavailable    = errors.New("service unavailable")
	ErrParamInvalid          = errors.New("param invalid")
	ErrResourceNotFound      = errors.New("resource not found")
)

var sentinels = map[Kind]error{
	KindAuthenticationMissing: ErrAuthenticationMissing,
	KindAuthenticationInvalid: ErrAuthenticationInvalid,
	KindTokenExpired:          ErrTokenExpired,
	KindRateLimited:           ErrRateLimited,
	KindServiceUnavailable:    ErrServiceUnavailable,
	KindParamInvalid:          ErrParamInvalid,
	KindResourceNotFound:      ErrResourceNotFound,
}

// Remote business codes with a dedicated kind. Other non-zero codes follow
// the HTTP status when it is an error, else ParamInvalid.
var codeKinds = map[int]Kind{
	99991663: KindAuthenticationInvalid,
	99991664: KindAuthenticationInvalid,
	99991700: KindAuthenticationInvalid,
	99991671: KindTokenExpired,
	99991668: KindTokenExpired,
	99991704: KindResourceNotFound,
	99991714: KindRateLimited,
	99991400: KindRateLimited,
	1254290:  KindRateLimited,
}

// Error is a classified remote failure. errors.Is matches its kind sentinel
// as well as the wrapped cause.
type Error struct {
	Kind   Kind
	Op     string
	Code   int
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Op + ": " + sentinels[e.Kind].Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Code != 0 {
		s += fmt.Sprintf(" (code %d)", e.Code)
	} else if e.Status != 0 {
		s += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	errs := []error{sentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// KindFromCode maps a non-zero remote business code to a kind.
func KindFromCode(code int) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindParamInvalid
}

// KindFromResponse classifies a response carrying a non-zero business code.
func KindFromResponse(code, status int) Kind {
	if _, ok := codeKinds[code]; !ok && status >= 400 {
		return KindFromStatus(status)
	}
	return KindFromCode(code)
}

// KindFromStatus maps an HTTP status to a kind when the body carries no code.
func KindFromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthenticationInvalid
	case status == 404:
		return KindResourceNotFound
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindServiceUnavailable
	default:
		return KindParamInvalid
	}
}

// KindOf extracts the kind of a remote error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether err may succeed after a backoff.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindRateLimited || k == KindServiceUnavailable)
}
