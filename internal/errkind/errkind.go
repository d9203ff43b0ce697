// Package errkind is the error taxonomy shared by the archive cache
// subsystems. Every failure surfaced to the HTTP facade is classified
// into one Kind; the facade maps kinds to status codes in exactly one
// place. Producers attach a kind with the constructors here, consumers
// test it with KindOf or errors.Is.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindUnknown is the zero value; it maps to 500.
	KindUnknown Kind = iota

	// KindValidation covers malformed requests: bad archive suffix,
	// missing query parameters.
	KindValidation

	// KindNotFound covers a missing object-store key or a member name
	// absent from an archive index.
	KindNotFound

	// KindAuth covers object-store authorization failures.
	KindAuth

	// KindUpstreamProtocol covers protocol violations by the caching
	// layer, e.g. a non-206 answer to a ranged request.
	KindUpstreamProtocol

	// KindFormat covers malformed payloads: broken tar containers,
	// truncated multipart bodies, ranges nobody asked for.
	KindFormat

	// KindUnavailable covers transient backend failures.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindUpstreamProtocol:
		return "upstream_protocol"
	case KindFormat:
		return "format"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the response status for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstreamProtocol, KindFormat:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Is lets errors.Is treat any two classified errors of the same kind
// as a match.
func (e *kindError) Is(target error) bool {
	var ke *kindError
	if errors.As(target, &ke) {
		return ke.kind == e.kind
	}
	return false
}

// New creates a classified error.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, err: errors.New(msg)}
}

// Newf creates a classified error with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving its chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: fmt.Errorf("%s: %w", msg, err)}
}

// Wrapf classifies an existing error with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: fmt.Errorf(format+": %w", append(args, err)...)}
}

// KindOf returns the kind of the first classified error in the chain,
// or KindUnknown when none is classified.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// HTTPStatus is shorthand for KindOf(err).HTTPStatus().
func HTTPStatus(err error) int { return KindOf(err).HTTPStatus() }

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
