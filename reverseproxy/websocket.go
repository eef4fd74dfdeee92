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

package reverseproxy

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cloudwindy/misaka/edgehttp"
)

var wsDialer = &websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
}

// serveWebSocket implements spec §4.G's WebSocket mode: dial the upstream
// first; only on successful open does it complete the client handshake via
// ctx.Upgrade, then bridge both sides bidirectionally until either closes.
func (h *Handler) serveWebSocket(ctx *edgehttp.Context, next edgehttp.Next) error {
	scheme := "ws"
	if h.upstream.Scheme == "https" {
		scheme = "wss"
	}
	target := h.overlayURL(ctx, scheme)

	reqHeader := http.Header{}
	filterHeaders(reqHeader, ctx.Req.Header, h.reqDrop)

	upstreamConn, resp, err := wsDialer.DialContext(ctx.Req.Context(), target.String(), reqHeader)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		// Upstream failed before open: clear the WS flag and fall through
		// so a later handler can still respond normally (spec §4.G).
		ctx.WS = false
		ctx.Err = err
		ctx.SetStatus(http.StatusOK)
		ctx.Log("ProxyWS-Failed", zap.Error(err), zap.String("upstream", target.String()))
		return next(ctx)
	}
	defer upstreamConn.Close()

	clientAny, err := ctx.Upgrade()
	if err != nil {
		return err
	}
	clientConn, ok := clientAny.(*websocket.Conn)
	if !ok {
		return edgehttp.Error(http.StatusInternalServerError, errNotWebsocketConn{})
	}
	defer clientConn.Close()

	var wg sync.WaitGroup
	var clientBytes, upstreamBytes int64
	wg.Add(2)
	go func() {
		defer wg.Done()
		clientBytes = bridge(upstreamConn, clientConn)
	}()
	go func() {
		defer wg.Done()
		upstreamBytes = bridge(clientConn, upstreamConn)
	}()
	wg.Wait()

	ctx.Bytes += clientBytes + upstreamBytes
	return nil
}

type errNotWebsocketConn struct{}

func (errNotWebsocketConn) Error() string { return "reverseproxy: upgrade did not yield a *websocket.Conn" }

// bridge copies messages read from src onto dst until src errors or closes,
// at which point it forwards a close control frame to dst and returns the
// number of payload bytes moved. Each direction runs in its own goroutine
// so both legs of the session proceed independently (spec §4.G: "each
// side's message is re-sent on the other, each side's close closes the
// other").
func bridge(src, dst *websocket.Conn) int64 {
	var total int64
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			code := websocket.CloseNormalClosure
			if websocket.IsUnexpectedCloseError(err) {
				code = websocket.CloseInternalServerErr
			}
			_ = dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(5*time.Second))
			return total
		}
		total += int64(len(msg))
		if err := dst.WriteMessage(mt, msg); err != nil {
			return total
		}
	}
}
