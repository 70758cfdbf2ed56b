package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput      = errors.New("empty input")
	ErrInvalidImage    = errors.New("invalid image")
	ErrEmptyQuery      = errors.New("empty query")
	ErrEmptyMessage    = errors.New("empty message")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy")
	ErrModelNotFound   = errors.New("model not found")
	ErrUpstream        = errors.New("upstream error")
	ErrTransport       = errors.New("transport error")
)

// UpstreamError is returned when the completion API answers with a non-200 status.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// TransportError covers network failures, timeouts and unreadable response bodies.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
