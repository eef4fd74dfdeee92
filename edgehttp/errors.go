// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package edgehttp

import (
	"errors"
	"fmt"
	"path"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Error is a convenient way for a handler to populate the essential fields
// of a HandlerError. If err is itself a HandlerError, any fields it is
// missing are backfilled.
func Error(statusCode int, err error) HandlerError {
	var he HandlerError
	if errors.As(err, &he) {
		if he.ID == "" {
			he.ID = uuid.NewString()
		}
		if he.Trace == "" {
			he.Trace = trace()
		}
		if he.StatusCode == 0 {
			he.StatusCode = statusCode
		}
		return he
	}
	return HandlerError{
		ID:         uuid.NewString(),
		StatusCode: statusCode,
		Err:        err,
		Trace:      trace(),
	}
}

// HandlerError is a serializable representation of an error from within a
// handler. The taxonomy in spec §7 (BadRequest, NotFound, Forbidden,
// UpstreamUnavailable, UpgradeFailed, HeadersAlreadySent, InvalidChainUsage,
// ConfigurationError) is expressed as sentinel Kind values rather than
// distinct types, so that a single errors.As(...) recovers the status code
// regardless of which collaborator raised it.
type HandlerError struct {
	Err        error
	StatusCode int
	Kind       ErrorKind

	ID    string
	Trace string
}

// ErrorKind classifies a HandlerError per the taxonomy in spec §7.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "bad_request"
	KindNotFound            ErrorKind = "not_found"
	KindForbidden           ErrorKind = "forbidden"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpgradeFailed       ErrorKind = "upgrade_failed"
	KindHeadersAlreadySent  ErrorKind = "headers_already_sent"
	KindInvalidChainUsage   ErrorKind = "invalid_chain_usage"
	KindConfigurationError  ErrorKind = "configuration_error"
)

func (e HandlerError) Error() string {
	var s string
	if e.ID != "" {
		s += fmt.Sprintf("{id=%s}", e.ID)
	}
	if e.Trace != "" {
		s += " " + e.Trace
	}
	if e.StatusCode != 0 {
		s += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return strings.TrimSpace(s)
}

// Unwrap returns the underlying error, for use with the errors package.
func (e HandlerError) Unwrap() error { return e.Err }

// trace walks a short slice of the call stack above Error's caller and
// renders it as a "<-" chain, so a HandlerError's origin reads as a
// miniature stack rather than a single frame: whichever middleware raised
// it, and what invoked that middleware, which is usually enough to place
// the fault without a full runtime.Stack dump.
func trace() string {
	const skip = 3   // Caller, trace, Error
	const depth = 3  // frames to keep

	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	parts := make([]string, 0, n)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			parts = append(parts, fmt.Sprintf("%s (%s:%d)", path.Base(f.Function), path.Base(f.File), f.Line))
		}
		if !more {
			break
		}
	}
	return strings.Join(parts, " <- ")
}

// ErrInvalidChainUsage is returned by the chain composer (chain.go) when a
// middleware invokes its continuation more than once from the same frame.
var ErrInvalidChainUsage = HandlerError{
	StatusCode: 0,
	Kind:       KindInvalidChainUsage,
	Err:        errString("next() called more than once in the same middleware frame"),
}

// ErrHeadersAlreadySent is returned when a handler mutates the response
// after it has left the buffering state (spec §4.H).
var ErrHeadersAlreadySent = HandlerError{
	StatusCode: 0,
	Kind:       KindHeadersAlreadySent,
	Err:        errString("headers already sent"),
}
