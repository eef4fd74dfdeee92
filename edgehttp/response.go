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
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// State is the tagged state of a Response: buffering, responding, or
// upgraded (spec §4.H).
type State int

const (
	// StateBuffering is the initial state: headers may still be mutated,
	// and the body has not begun.
	StateBuffering State = iota
	// StateResponding means the status line and headers have been
	// serialized to the wire; further writes append body bytes.
	StateResponding
	// StateUpgraded means the socket has been handed to a WebSocket
	// server; ordinary writes become no-ops.
	StateUpgraded
)

// Response is a write-target that can either produce a normal HTTP
// response or relinquish its connection to a WebSocket handshake. The
// chain sees a uniform surface; only a handler that chooses to upgrade
// (the reverse proxy's WS bridge) needs to know the difference.
//
// Unlike the system this was distilled from, Go's net/http already owns
// wire serialization of the status line and headers once WriteHeader/Write
// is called, so Response does not hand-roll "HTTP/1.1 <code> <reason>\r\n"
// itself; instead it wraps http.ResponseWriter and tracks the state
// machine on top, enforcing the same invariants: header mutation fails
// once responding has begun, and upgrade is only valid while buffering.
type Response struct {
	w   http.ResponseWriter
	req *http.Request

	state  State
	status int
	ws     *websocket.Conn

	upgrader *websocket.Upgrader
}

// NewResponse wraps an http.ResponseWriter/Request pair for one request.
func NewResponse(w http.ResponseWriter, r *http.Request) *Response {
	return &Response{w: w, req: r, status: http.StatusOK}
}

// State reports the current state.
func (rw *Response) State() State { return rw.state }

// SetHeader sets a response header. Once the response has left the
// buffering state this returns ErrHeadersAlreadySent, matching the
// "headers-sent monotonicity" invariant (spec §8).
func (rw *Response) SetHeader(name, val string) error {
	if rw.state != StateBuffering {
		return ErrHeadersAlreadySent
	}
	rw.w.Header().Set(name, val)
	return nil
}

// AddHeader appends a response header value, same state restriction as
// SetHeader.
func (rw *Response) AddHeader(name, val string) error {
	if rw.state != StateBuffering {
		return ErrHeadersAlreadySent
	}
	rw.w.Header().Add(name, val)
	return nil
}

// Header returns the underlying header map for read access. Handlers
// should prefer SetHeader/AddHeader for writes so the state machine can
// enforce headers-sent monotonicity.
func (rw *Response) Header() http.Header { return rw.w.Header() }

// WriteHeader transitions buffering -> responding, serializing the status
// line and headers to the wire (delegated to net/http).
func (rw *Response) WriteHeader(code int) {
	if rw.state != StateBuffering {
		return
	}
	rw.status = code
	rw.state = StateResponding
	rw.w.WriteHeader(code)
}

// Write appends body bytes, committing headers first if still buffering.
func (rw *Response) Write(p []byte) (int, error) {
	if rw.state == StateUpgraded {
		return len(p), nil // no-op per spec §4.H
	}
	if rw.state == StateBuffering {
		rw.WriteHeader(rw.status)
	}
	return rw.w.Write(p)
}

// Copy streams src to the response body, committing headers first.
func (rw *Response) Copy(src io.Reader) (int64, error) {
	if rw.state == StateBuffering {
		rw.WriteHeader(rw.status)
	}
	return io.Copy(rw.w, src)
}

// Upgrader lazily builds the websocket.Upgrader used by Upgrade, allowing
// callers to override CheckOrigin/buffer sizes before the first upgrade.
func (rw *Response) Upgrader() *websocket.Upgrader {
	if rw.upgrader == nil {
		rw.upgrader = &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		}
	}
	return rw.upgrader
}

// Upgrade moves buffering -> upgraded, handing the socket to a WebSocket
// handshake and returning the resulting connection. Calling Upgrade after
// leaving the buffering state returns ErrHeadersAlreadySent, matching the
// invariant that both header mutation and upgrade are buffering-only
// operations (spec §4.H).
func (rw *Response) Upgrade(responseHeader http.Header) (*websocket.Conn, error) {
	if rw.state != StateBuffering {
		return nil, ErrHeadersAlreadySent
	}
	conn, err := rw.Upgrader().Upgrade(rw.w, rw.req, responseHeader)
	if err != nil {
		return nil, Error(http.StatusInternalServerError, err)
	}
	rw.state = StateUpgraded
	rw.ws = conn
	return conn, nil
}

// CloseUpgraded closes the upgraded WebSocket with the close code implied
// by status: 1000 (normal) unless status is 500, in which case 1011
// (internal error), per spec §4.H.
func (rw *Response) CloseUpgraded(status int) error {
	if rw.state != StateUpgraded || rw.ws == nil {
		return nil
	}
	code := websocket.CloseNormalClosure
	if status == http.StatusInternalServerError {
		code = websocket.CloseInternalServerErr
	}
	msg := websocket.FormatCloseMessage(code, "")
	return rw.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
}
