// Package protocol implements the client side of MCP on top of a
// transport.Transport.
//
// The Client correlates requests and responses by id, enforces per-request
// deadlines, and resolves every pending request with ErrConnectionLost once
// the transport closes or delivers a malformed frame.
//
// Usage:
//
//	c := protocol.NewClient("maps", tr)
//	if err := c.Connect(ctx); err != nil { ... }
//	defer c.Close()
//
//	if _, err := c.Initialize(ctx, info, 10*time.Second); err != nil { ... }
//	tools, err := c.ListTools(ctx, 10*time.Second)
//	res, err := c.CallTool(ctx, "search", args, 60*time.Second)
package protocol

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp/internal", "protocol")

const DefaultRequestTimeoutMsec = 60000

// NotificationTimeout bounds writing a notification or a reply to the provider.
const NotificationTimeout = 5 * time.Second

const (
	methodInitialized = "notifications/initialized"
	methodCancelled   = "notifications/cancelled"
	methodPing        = "ping"
)

// maxListPages bounds tools/list pagination against a provider that
// keeps returning cursors.
const maxListPages = 100

// State of a client connection.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// RPCError is an error response returned by the peer.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return "RPC error " + strconv.Itoa(e.Code) + " on " + e.Method + ": " + e.Message
}

// Tool is one entry of a tools/list result.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type listToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type listToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one content block of a tools/call result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallToolResult is the decoded result of tools/call.
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Text joins the text content blocks with new lines.
func (r *CallToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += c.Text
	}
	return out
}

type pendingRequest struct {
	id       transport.RequestId
	method   string
	issuedAt time.Time
	ch       chan *responseEnvelope
}

type responseEnvelope struct {
	result json.RawMessage
	err    error
}

// Client is an MCP client bound to one provider.
// All methods are safe for concurrent use.
type Client struct {
	name      string
	transport transport.Transport

	mu        sync.Mutex
	state     State
	lastID    transport.RequestId
	pending   map[transport.RequestId]*pendingRequest
	lostErr   error
	done      chan struct{}
	closeOnce sync.Once

	serverInfo      mcp.Implementation
	protocolVersion string
}

// NewClient returns a client for the named provider over tr.
// Connect must be called before any request.
func NewClient(name string, tr transport.Transport) *Client {
	return &Client{
		name:      name,
		transport: tr,
		state:     StateConnecting,
		pending:   make(map[transport.RequestId]*pendingRequest),
		done:      make(chan struct{}),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the client has failed or was closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection was lost, if it was.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErr
}

// ServerInfo returns the implementation info reported by the provider.
func (c *Client) ServerInfo() mcp.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ProtocolVersion returns the protocol version agreed during Initialize.
func (c *Client) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolVersion
}

// Connect attaches handlers and starts the transport.
func (c *Client) Connect(ctx context.Context) error {
	tr := c.transport
	tr.SetCloseHandler(func() {
		c.handleClose()
	})
	tr.SetErrorHandler(func(err error) {
		c.handleError(err)
	})
	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			c.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			c.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			c.handleResponse(message.JsonRpcResponse.Id, message.JsonRpcResponse.Result, nil)
		case transport.BaseMessageTypeJSONRPCErrorType:
			c.handleResponse(message.JsonRpcError.Id, nil, &message.JsonRpcError.Error)
		}
	})

	// the read loop outlives the caller's context
	return tr.Start(context.WithoutCancel(ctx))
}

// Initialize performs the MCP handshake: initialize followed by the
// initialized notification. Any failure is reported as ErrHandshake and
// leaves the client Failed.
func (c *Client) Initialize(ctx context.Context, info mcp.Implementation, timeout time.Duration) (*mcp.InitializeResult, error) {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      info,
		Capabilities:    mcp.ClientCapabilities{},
	}

	raw, err := c.request(ctx, string(mcp.MethodInitialize), params, timeout, true)
	if err != nil {
		return nil, c.handshakeFailed(err)
	}

	var res mcp.InitializeResult
	if err = json.Unmarshal(raw, &res); err != nil {
		return nil, c.handshakeFailed(errors.Wrapf(mcperr.ErrProtocol, "invalid initialize result: %s", err.Error()))
	}

	if err = c.Notification(methodInitialized, nil); err != nil {
		return nil, c.handshakeFailed(err)
	}

	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateReady
	}
	c.serverInfo = res.ServerInfo
	c.protocolVersion = res.ProtocolVersion
	c.mu.Unlock()

	logger.KV(xlog.DEBUG,
		"status", "initialized",
		"provider", c.name,
		"server", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion)

	return &res, nil
}

func (c *Client) handshakeFailed(err error) error {
	if !errors.Is(err, context.Canceled) {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateFailed
		}
		c.mu.Unlock()
	}
	if errors.Is(err, mcperr.ErrHandshake) {
		return err
	}
	return errors.Mark(errors.WithMessagef(err, "handshake with %q", c.name), mcperr.ErrHandshake)
}

// ListTools returns the provider's tool list, following pagination.
func (c *Client) ListTools(ctx context.Context, timeout time.Duration) ([]Tool, error) {
	var all []Tool
	seen := map[string]bool{}
	cursor := ""
	for page := 0; ; page++ {
		if page >= maxListPages {
			return nil, errors.Wrapf(mcperr.ErrProtocol, "%q: tools/list exceeded %d pages", c.name, maxListPages)
		}

		raw, err := c.Request(ctx, string(mcp.MethodToolsList), listToolsParams{Cursor: cursor}, timeout)
		if err != nil {
			return nil, errors.WithMessagef(err, "tools/list on %q", c.name)
		}

		var res listToolsResult
		if err = json.Unmarshal(raw, &res); err != nil {
			return nil, errors.Wrapf(mcperr.ErrProtocol, "%q: invalid tools/list result: %s", c.name, err.Error())
		}
		for i, t := range res.Tools {
			if t.Name == "" {
				return nil, errors.Wrapf(mcperr.ErrProtocol, "%q: tool %d has no name", c.name, i)
			}
			if len(t.InputSchema) > 0 && !json.Valid(t.InputSchema) {
				return nil, errors.Wrapf(mcperr.ErrProtocol, "%q: tool %q has invalid inputSchema", c.name, t.Name)
			}
		}
		all = append(all, res.Tools...)

		if res.NextCursor == "" {
			break
		}
		if seen[res.NextCursor] {
			return nil, errors.Wrapf(mcperr.ErrProtocol, "%q: tools/list cursor %q repeated", c.name, res.NextCursor)
		}
		seen[res.NextCursor] = true
		cursor = res.NextCursor
	}

	logger.KV(xlog.DEBUG, "status", "listed", "provider", c.name, "tools", len(all))
	return all, nil
}

// CallTool invokes a tool by its provider-side name.
// A result with isError set is returned together with ErrToolError.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) (*CallToolResult, error) {
	raw, err := c.Request(ctx, string(mcp.MethodToolsCall), callToolParams{Name: name, Arguments: args}, timeout)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, errors.Mark(err, mcperr.ErrToolError)
		}
		return nil, err
	}

	var res CallToolResult
	if err = json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrapf(mcperr.ErrProtocol, "%q: invalid tools/call result: %s", c.name, err.Error())
	}
	if res.IsError {
		return &res, errors.Wrapf(mcperr.ErrToolError, "%s: %s", name, res.Text())
	}
	return &res, nil
}

// Request sends a request on a Ready client and waits for the response.
func (c *Client) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	return c.request(ctx, method, params, timeout, false)
}

func (c *Client) request(ctx context.Context, method string, params any, timeout time.Duration, handshake bool) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = time.Duration(DefaultRequestTimeoutMsec) * time.Millisecond
	}

	marshalledParams, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}

	c.mu.Lock()
	switch {
	case c.state == StateFailed || c.state == StateClosed:
		err = c.lostLocked()
	case handshake && c.state != StateConnecting:
		err = errors.Newf("%q: initialize on a %s client", c.name, c.state)
	case !handshake && c.state != StateReady:
		err = errors.Wrapf(mcperr.ErrProviderUnavailable, "%q is %s", c.name, c.state)
	}
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.lastID++
	pr := &pendingRequest{
		id:       c.lastID,
		method:   method,
		issuedAt: time.Now(),
		ch:       make(chan *responseEnvelope, 1),
	}
	c.pending[pr.id] = pr
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, pr.id)
		c.mu.Unlock()
	}()

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
		Params:  marshalledParams,
		Id:      pr.id,
	}
	// the deadline covers writing the request, a provider that stops
	// reading its stdin must not hold the caller past it
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err = c.transport.Send(reqCtx, transport.NewBaseMessageRequest(request)); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, c.timedOut(pr, timeout)
		}
		return nil, errors.WithMessagef(err, "failed to send %s", method)
	}

	select {
	case envelope := <-pr.ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.result, nil
	case <-reqCtx.Done():
		if err = ctx.Err(); err != nil {
			c.sendCancelNotification(pr.id, err.Error())
			return nil, errors.WithStack(err)
		}
		c.sendCancelNotification(pr.id, "request timeout")
		return nil, c.timedOut(pr, timeout)
	}
}

func (c *Client) timedOut(pr *pendingRequest, timeout time.Duration) error {
	logger.KV(xlog.WARNING,
		"provider", c.name,
		"reason", "timeout",
		"method", pr.method,
		"id", pr.id,
		"elapsed", time.Since(pr.issuedAt).String())
	return errors.Wrapf(mcperr.ErrTimeout, "%s on %q after %v", pr.method, c.name, timeout)
}

func (c *Client) lostLocked() error {
	if c.lostErr != nil {
		return c.lostErr
	}
	return errors.Wrapf(mcperr.ErrConnectionLost, "%q is %s", c.name, c.state)
}

// Notification emits a one-way message.
func (c *Client) Notification(method string, params any) error {
	var marshalled json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
		marshalled = b
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
		Params:  marshalled,
	}
	ctx, cancel := context.WithTimeout(context.Background(), NotificationTimeout)
	defer cancel()
	return c.transport.Send(ctx, transport.NewBaseMessageNotification(notification))
}

func (c *Client) sendCancelNotification(requestID transport.RequestId, reason string) {
	params := map[string]any{
		"requestId": requestID,
		"reason":    reason,
	}
	if err := c.Notification(methodCancelled, params); err != nil {
		logger.KV(xlog.DEBUG, "provider", c.name, "reason", "cancel_notification", "id", requestID, "err", err.Error())
	}
}

// Close closes the transport. Pending requests resolve with ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state != StateFailed {
		c.state = StateClosed
	}
	c.mu.Unlock()
	err := c.transport.Close()
	// handlers may not be attached if Connect was never called
	c.handleClose()
	return err
}

func (c *Client) handleError(err error) {
	logger.KV(xlog.WARNING, "provider", c.name, "reason", "transport", "err", err.Error())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lostErr == nil {
		c.lostErr = errors.Wrapf(mcperr.ErrConnectionLost, "%q: %s", c.name, err.Error())
	}
	if c.state != StateClosed {
		c.state = StateFailed
	}
}

func (c *Client) handleClose() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state != StateClosed {
			c.state = StateFailed
		}
		if c.lostErr == nil {
			c.lostErr = errors.Wrapf(mcperr.ErrConnectionLost, "%q: connection closed", c.name)
		}
		lost := c.lostErr
		pending := c.pending
		c.pending = make(map[transport.RequestId]*pendingRequest)
		state := c.state
		c.mu.Unlock()

		for _, pr := range pending {
			pr.ch <- &responseEnvelope{err: lost}
		}
		close(c.done)

		logger.KV(xlog.DEBUG,
			"status", "closed",
			"provider", c.name,
			"state", state.String(),
			"pending", len(pending))
	})
}

func (c *Client) handleResponse(id transport.RequestId, result json.RawMessage, rpcErr *transport.BaseJSONRPCErrorInner) {
	c.mu.Lock()
	pr := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if pr == nil {
		logger.KV(xlog.DEBUG, "provider", c.name, "reason", "unknown_id", "id", id)
		return
	}

	env := &responseEnvelope{result: result}
	if rpcErr != nil {
		env.err = &RPCError{Method: pr.method, Code: rpcErr.Code, Message: rpcErr.Message}
	}
	// buffered and removed from pending: the send never blocks
	pr.ch <- env
}

func (c *Client) handleNotification(notification *transport.BaseJSONRPCNotification) {
	logger.KV(xlog.DEBUG, "provider", c.name, "notification", notification.Method)
}

func (c *Client) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG,
		"provider", c.name,
		"method", request.Method,
		"id", request.Id,
	)

	go func() {
		var msg *transport.BaseJsonRpcMessage
		if request.Method == methodPing {
			msg = transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
				Jsonrpc: transport.JSONRPCVersion,
				Id:      request.Id,
				Result:  json.RawMessage(`{}`),
			})
		} else {
			msg = transport.NewBaseMessageError(&transport.BaseJSONRPCError{
				Jsonrpc: transport.JSONRPCVersion,
				Id:      request.Id,
				Error: transport.BaseJSONRPCErrorInner{
					Code:    transport.ErrCodeMethodNotFound,
					Message: "method not found: " + request.Method,
				},
			})
		}
		sendCtx, cancel := context.WithTimeout(ctx, NotificationTimeout)
		defer cancel()
		if err := c.transport.Send(sendCtx, msg); err != nil {
			logger.KV(xlog.DEBUG, "provider", c.name, "reason", "send_response", "err", err.Error())
		}
	}()
}
