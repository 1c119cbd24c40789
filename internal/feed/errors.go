package feed

import "fmt"

type FetchErrorKind string

const (
	FetchErrorInvalidURL FetchErrorKind = "invalid_url"
	FetchErrorNetwork    FetchErrorKind = "network"
	FetchErrorTimeout    FetchErrorKind = "timeout"
	FetchErrorHTTPStatus FetchErrorKind = "http_status"
	FetchErrorReadBody   FetchErrorKind = "read_body"
	FetchErrorTooLarge   FetchErrorKind = "too_large"
)

// FetchError is a per-source retrieval failure.
type FetchError struct {
	Source string
	Kind   FetchErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError is returned for a document that could not be decoded.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
