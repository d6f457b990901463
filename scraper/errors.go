package scraper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPriceNotFound means no ruleset produced a token from the page
	ErrPriceNotFound = errors.New("price not found (no matching pattern / selector)")
	// ErrNormalizationFailed means a token was found but nothing numeric survived cleanup
	ErrNormalizationFailed = errors.New("price normalization failed")
	// ErrProxyFailure marks a network failure attributable to the proxy route
	ErrProxyFailure = errors.New("proxy connection failed")
	// ErrNoPrice is returned once the retry budget is exhausted
	ErrNoPrice = errors.New("no price")
)

// FailureKind classifies why an attempt failed
type FailureKind int

const (
	FailureUnexpected FailureKind = iota
	FailureNotFound
	FailureNormalization
	FailureProxy
)

func (k FailureKind) String() string {
	switch k {
	case FailureNotFound:
		return "not_found"
	case FailureNormalization:
		return "normalization"
	case FailureProxy:
		return "proxy"
	default:
		return "unexpected"
	}
}

// AttemptError wraps the failure of a single fetch attempt
type AttemptError struct {
	Kind    FailureKind
	Attempt int
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d failed (%s): %v", e.Attempt, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

var proxyMarkers = []string{
	"ERR_PROXY_CONNECTION_FAILED",
	"ERR_NETWORK_CHANGED",
	"ERR_TUNNEL_CONNECTION_FAILED",
}

// IsProxyFailure reports whether err looks like a proxy or tunnel level network error
func IsProxyFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProxyFailure) {
		return true
	}
	msg := err.Error()
	for _, marker := range proxyMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify maps an attempt error onto a FailureKind
func classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrPriceNotFound):
		return FailureNotFound
	case errors.Is(err, ErrNormalizationFailed):
		return FailureNormalization
	case IsProxyFailure(err):
		return FailureProxy
	default:
		return FailureUnexpected
	}
}
