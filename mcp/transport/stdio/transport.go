package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/xlog"
)

// Transport frames JSON-RPC messages as newline-delimited JSON over a
// reader and a writer, as MCP does on a provider's stdin and stdout.
type Transport struct {
	name string
	r    io.ReadCloser
	w    io.WriteCloser

	mu sync.RWMutex
	// wsem serializes writers, a frame is never interleaved with another
	wsem           chan struct{}
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	started   bool
	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport returns a transport reading frames from r and writing to w.
// The name is used for logging only.
func NewTransport(name string, r io.ReadCloser, w io.WriteCloser) *Transport {
	return &Transport{
		name:   name,
		r:      r,
		w:      w,
		wsem:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Start launches the read loop.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.New("transport already started")
	}
	t.started = true
	go t.readLoop(ctx)
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.Close()

	br := bufio.NewReader(t.r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = trimEOL(line)
			if len(line) > 0 {
				msg, perr := transport.ParseMessage(line)
				if perr != nil {
					logger.KV(xlog.WARNING,
						"provider", t.name,
						"reason", "malformed_frame",
						"frame", truncate(line, 256),
						"err", perr.Error())
					t.reportError(errors.Wrap(mcperr.ErrProtocol, perr.Error()))
					return
				}
				t.deliver(ctx, msg)
			}
		}
		if err != nil {
			select {
			case <-t.closed:
			default:
				if errors.Is(err, io.EOF) {
					logger.KV(xlog.DEBUG, "provider", t.name, "status", "eof")
				} else {
					t.reportError(errors.Wrap(mcperr.ErrConnectionLost, err.Error()))
				}
			}
			return
		}
	}
}

func (t *Transport) deliver(ctx context.Context, msg *transport.BaseJsonRpcMessage) {
	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(ctx, msg)
	}
}

func (t *Transport) reportError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

// Send writes one message followed by a newline.
//
// Send gives up when ctx is done. If the frame was partially written by
// then, the stream cannot carry another frame and the transport is closed.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	b, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	b = append(b, '\n')

	select {
	case t.wsem <- struct{}{}:
	case <-t.closed:
		return errors.WithStack(mcperr.ErrConnectionLost)
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}

	written := make(chan error, 1)
	go func() {
		defer func() { <-t.wsem }()
		_, werr := t.w.Write(b)
		written <- werr
	}()

	select {
	case err = <-written:
		if err != nil {
			return errors.Wrap(mcperr.ErrConnectionLost, err.Error())
		}
		return nil
	case <-t.closed:
		return errors.WithStack(mcperr.ErrConnectionLost)
	case <-ctx.Done():
		logger.KV(xlog.WARNING,
			"provider", t.name,
			"reason", "write_abandoned",
			"size", len(b),
			"err", ctx.Err().Error())
		t.reportError(errors.Wrapf(mcperr.ErrConnectionLost, "write abandoned: %s", ctx.Err().Error()))
		_ = t.Close()
		return errors.WithStack(ctx.Err())
	}
}

// Close closes both streams and invokes the close handler once.
// Closing the writer releases a Send blocked on a peer that stopped reading.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.w.Close()
		_ = t.r.Close()

		t.mu.RLock()
		handler := t.closeHandler
		t.mu.RUnlock()
		if handler != nil {
			handler()
		}
	})
	return nil
}

// Done is closed once the transport is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.closed
}

func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
