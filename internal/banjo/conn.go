package banjo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samsaffron/banjo-acp/internal/acp"
	"github.com/samsaffron/banjo-acp/internal/transport"
)

// FrameReader reads one already-delimited JSON-RPC message at a time.
// internal/transport.LineReader satisfies this directly.
type FrameReader interface {
	ReadMessage() (json.RawMessage, error)
}

// FrameWriter writes one JSON-RPC message, framed according to the
// physical transport. internal/transport.LineWriter satisfies this
// directly.
type FrameWriter interface {
	WriteMessage(v any) error
}

// WSFrame adapts one internal/transport.Conn (a single hijacked WebSocket
// connection) to FrameReader/FrameWriter, so the same Conn demux logic
// serves both stdio and WebSocket ACP connections.
type WSFrame struct {
	ws *transport.Conn
}

func NewWSFrame(ws *transport.Conn) WSFrame { return WSFrame{ws: ws} }

func (f WSFrame) ReadMessage() (json.RawMessage, error) {
	data, err := f.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (f WSFrame) WriteMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal ws message: %w", err)
	}
	return f.ws.WriteMessage(data)
}

// Conn multiplexes one physical connection (stdio or one WebSocket client)
// into both directions of ACP's JSON-RPC traffic: it answers inbound
// requests/notifications through a Handler, and correlates its own
// outbound requests (the Handler's fs/terminal/permission proxy calls)
// against their eventual responses.
//
// Grounded on codex_bridge.go's call/notify/respond pending-map
// correlation: the same "one physical stream carries both directions of
// JSON-RPC" problem, generalized here from "child process pipe" to any
// FrameReader/FrameWriter pair.
type Conn struct {
	r       FrameReader
	w       FrameWriter
	handler *Handler

	mu      sync.Mutex
	pending map[string]chan *acp.Response

	writeMu sync.Mutex
}

// NewConn wires a Conn around a frame reader/writer pair. SetHandler must
// be called before Serve, once the Handler (which needs this Conn as its
// ClientTransport) has been constructed.
func NewConn(r FrameReader, w FrameWriter) *Conn {
	return &Conn{r: r, w: w, pending: make(map[string]chan *acp.Response)}
}

// SetHandler attaches the Handler that answers inbound requests and
// notifications.
func (c *Conn) SetHandler(h *Handler) { c.handler = h }

// Notify implements ClientTransport.
func (c *Conn) Notify(n *acp.Notification) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.w.WriteMessage(n)
}

// Request implements ClientTransport: sends an outbound request and
// blocks for its matching response or ctx cancellation.
func (c *Conn) Request(ctx context.Context, req *acp.Request) (*acp.Response, error) {
	key := string(req.ID)
	ch := make(chan *acp.Response, 1)

	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.w.WriteMessage(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("conn: write request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// envelope peeks at a raw message's discriminating fields, enough to
// route it as an inbound request, a notification, or a response to one of
// our own pending outbound requests.
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// Serve runs the read loop until the transport returns an error (on
// ordinary close, io.EOF for stdio or transport.ErrConnectionClosed for
// WebSocket). Each inbound message is dispatched on its own goroutine, so
// a session/cancel notification is never queued behind an in-flight
// session/prompt request sharing the same connection.
func (c *Conn) Serve(ctx context.Context) error {
	for {
		raw, err := c.r.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("conn: unparsable message", "error", err)
			continue
		}

		switch {
		case env.Method != "" && len(env.ID) > 0:
			go c.dispatchRequest(ctx, raw)
		case env.Method != "":
			go c.dispatchNotification(ctx, raw)
		case len(env.ID) > 0:
			c.dispatchResponse(env.ID, raw)
		default:
			slog.Warn("conn: message with neither method nor id")
		}
	}
}

func (c *Conn) dispatchRequest(ctx context.Context, raw json.RawMessage) {
	var req acp.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	resp := c.handler.HandleRequest(ctx, &req)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.w.WriteMessage(resp); err != nil {
		slog.Warn("conn: write response", "method", req.Method, "error", err)
	}
}

func (c *Conn) dispatchNotification(ctx context.Context, raw json.RawMessage) {
	var n acp.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return
	}
	c.handler.HandleNotification(ctx, &n)
}

func (c *Conn) dispatchResponse(id json.RawMessage, raw json.RawMessage) {
	var resp acp.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	key := string(id)
	c.mu.Lock()
	ch, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		slog.Warn("conn: response with no pending request", "id", key)
		return
	}
	ch <- &resp
}
