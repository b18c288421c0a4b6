// Package bridge launches MCP tool providers over stdio, aggregates their
// tools into one catalog and routes calls back to the owning provider.
//
// A Bridge is acquired once and released once:
//
//	err := bridge.With(ctx, configs, func(ctx context.Context, b *bridge.Bridge, cat *bridge.Catalog) error {
//		res, err := b.Invoke(ctx, "search", json.RawMessage(`{"q":"go"}`))
//		...
//	})
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/internal/protocol"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/mcpbridge/tools"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp", "bridge")

var (
	// ErrAlreadyAcquired is returned by a second Acquire
	ErrAlreadyAcquired = errors.New("bridge already acquired")
	// ErrReleased is returned when the bridge was released
	ErrReleased = errors.New("bridge released")
	// ErrNotAcquired is returned by Invoke before Acquire completed
	ErrNotAcquired = errors.New("bridge not acquired")
)

type state int

const (
	stateNew state = iota
	stateAcquiring
	stateAcquired
	stateReleased
)

// provider is one launched tool provider of an acquisition.
type provider struct {
	index int
	cfg   *ProviderConfig
	proc  *stdio.Process
	slot  *providerSlot

	mu     sync.Mutex
	client *protocol.Client
	tools  []protocol.Tool
	info   mcp.Implementation
	err    error
}

func (p *provider) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *provider) listed() []protocol.Tool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tools
}

func (p *provider) serverInfo() mcp.Implementation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// readyClient returns the client when both the connection and the
// process are usable.
func (p *provider) readyClient() *protocol.Client {
	p.mu.Lock()
	c := p.client
	failed := p.err != nil
	p.mu.Unlock()
	if c == nil || failed || c.State() != protocol.StateReady {
		return nil
	}
	if p.proc.State() != stdio.StateReady {
		return nil
	}
	return c
}

func (p *provider) setFailed(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// start launches the process and completes the handshake.
func (p *provider) start(ctx context.Context, o *options) error {
	if err := p.proc.Start(ctx); err != nil {
		return err
	}
	tr, err := p.proc.Transport()
	if err != nil {
		return err
	}

	client := protocol.NewClient(p.cfg.Name, tr)
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	if err = client.Connect(ctx); err != nil {
		return err
	}
	res, err := client.Initialize(ctx, o.clientInfo, o.handshakeTimeout)
	if err != nil {
		if tail := p.proc.StderrTail(); len(tail) > 0 {
			err = errors.WithDetailf(err, "stderr: %v", tail)
		}
		return err
	}

	p.mu.Lock()
	p.info = res.ServerInfo
	p.mu.Unlock()
	return nil
}

// list fetches the tool list.
func (p *provider) list(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	list, err := client.ListTools(ctx, timeout)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tools = list
	p.mu.Unlock()
	return nil
}

// shutdown closes the connection and terminates the process concurrently,
// so a connection stuck on a provider that stopped reading cannot delay the kill.
func (p *provider) shutdown(grace time.Duration) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	var wg sync.WaitGroup
	if client != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.Close()
		}()
	}
	p.proc.Terminate(grace)
	wg.Wait()
}

// Bridge owns the tool providers of one acquisition.
type Bridge struct {
	configs []*ProviderConfig
	opts    options

	lock      sync.RWMutex
	state     state
	providers []*provider
	catalog   *Catalog
	router    *router

	releaseOnce sync.Once
}

// New returns a Bridge for the providers. The configs are copied.
func New(configs []*ProviderConfig, opts ...Option) *Bridge {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	b := &Bridge{opts: o}
	for _, c := range configs {
		if c != nil {
			b.configs = append(b.configs, c.Clone())
		}
	}
	return b
}

// Name returns the bridge name.
func (b *Bridge) Name() string {
	return b.opts.name
}

// Acquire launches all providers concurrently, completes the handshake,
// lists their tools and builds the catalog.
//
// A provider that fails is excluded and recorded in Catalog.Failures.
// Acquire returns an error only on misuse or when ctx is done; in the
// latter case Release must still be called.
func (b *Bridge) Acquire(ctx context.Context) (*Catalog, error) {
	started := time.Now()

	b.lock.Lock()
	switch b.state {
	case stateReleased:
		b.lock.Unlock()
		return nil, errors.WithStack(ErrReleased)
	case stateAcquiring, stateAcquired:
		b.lock.Unlock()
		return nil, errors.WithStack(ErrAlreadyAcquired)
	}
	b.state = stateAcquiring

	providers := make([]*provider, len(b.configs))
	for i, cfg := range b.configs {
		p := &provider{
			index: i,
			cfg:   cfg,
			proc: stdio.New(stdio.Config{
				Name:    cfg.Name,
				Command: cfg.Command,
				Args:    cfg.Args,
				Env:     cfg.Env,
			}),
		}
		p.slot = &providerSlot{p: p}
		providers[i] = p
	}
	b.providers = providers
	b.lock.Unlock()

	logger.KV(xlog.INFO,
		"status", "acquiring",
		"bridge", b.opts.name,
		"providers", len(providers))

	b.run(ctx, providers, func(ctx context.Context, p *provider) error {
		if err := p.cfg.Validate(); err != nil {
			return errors.Mark(err, mcperr.ErrSpawn)
		}
		return p.start(ctx, &b.opts)
	})

	if err := ctx.Err(); err != nil {
		b.setAcquired(nil, nil)
		return nil, errors.WithStack(err)
	}

	b.run(ctx, providers, func(ctx context.Context, p *provider) error {
		return p.list(ctx, b.opts.listTimeout)
	})

	if err := ctx.Err(); err != nil {
		b.setAcquired(nil, nil)
		return nil, errors.WithStack(err)
	}

	cat := aggregate(providers)
	if !b.setAcquired(cat, newRouter(b.opts.name, cat, b.opts.callTimeout)) {
		return nil, errors.WithStack(ErrReleased)
	}

	metricskey.StatsCatalogTools.IncrCounter(float64(cat.Len()), b.opts.name)
	metricskey.PerfBridgeAcquire.MeasureSince(started, b.opts.name)

	logger.KV(xlog.NOTICE,
		"status", "acquired",
		"bridge", b.opts.name,
		"tools", cat.Len(),
		"providers", len(cat.providers),
		"failed", len(cat.failures),
		"elapsed", time.Since(started).String())

	if err := cat.Err(); err != nil {
		logger.KV(xlog.ERROR,
			"bridge", b.opts.name,
			"reason", "no_providers",
			"err", err.Error())
	}
	return cat, nil
}

// run executes fn for every provider still healthy. A failing provider is
// recorded and shut down; run itself never fails.
func (b *Bridge) run(ctx context.Context, providers []*provider, fn func(context.Context, *provider) error) {
	g := new(errgroup.Group)
	if b.opts.maxConcurrency > 0 {
		g.SetLimit(b.opts.maxConcurrency)
	}
	for _, p := range providers {
		if p.failure() != nil {
			continue
		}
		g.Go(func() error {
			if err := fn(ctx, p); err != nil {
				b.providerFailed(p, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bridge) providerFailed(p *provider, err error) {
	p.setFailed(err)
	p.proc.Fail(err)

	kind := mcperr.KindOf(err)
	metricskey.StatsProviderFailed.IncrCounter(1, p.cfg.Name, string(kind))
	logger.KV(xlog.WARNING,
		"status", "provider_failed",
		"bridge", b.opts.name,
		"provider", p.cfg.Name,
		"index", p.index,
		"kind", kind,
		"err", err.Error())

	p.shutdown(b.opts.graceTimeout)
}

// setAcquired publishes the outcome unless Release happened meanwhile.
func (b *Bridge) setAcquired(cat *Catalog, r *router) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.state == stateReleased {
		return false
	}
	b.state = stateAcquired
	b.catalog = cat
	b.router = r
	if cat != nil {
		for _, p := range b.providers {
			if p.failure() == nil {
				metricskey.StatsProviderStarted.IncrCounter(1, p.cfg.Name)
			}
		}
	}
	return true
}

// Release terminates every provider and waits for them to exit.
// It is idempotent, safe before Acquire and concurrently with Invoke.
// Calls routed after Release fail with ErrProviderGone.
func (b *Bridge) Release() {
	b.releaseOnce.Do(b.release)
}

func (b *Bridge) release() {
	started := time.Now()

	b.lock.Lock()
	b.state = stateReleased
	providers := b.providers
	b.lock.Unlock()

	for _, p := range providers {
		p.slot.clear()
	}

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.shutdown(b.opts.graceTimeout)
			metricskey.StatsProviderTerminated.IncrCounter(1, p.cfg.Name)
		}()
	}
	wg.Wait()

	metricskey.PerfBridgeRelease.MeasureSince(started, b.opts.name)
	logger.KV(xlog.INFO,
		"status", "released",
		"bridge", b.opts.name,
		"providers", len(providers),
		"elapsed", time.Since(started).String())
}

// With acquires a bridge for the configs, runs fn and releases the bridge
// on every path, including panics and cancellation.
func With(ctx context.Context, configs []*ProviderConfig, fn func(context.Context, *Bridge, *Catalog) error, opts ...Option) error {
	b := New(configs, opts...)
	defer b.Release()

	cat, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, b, cat)
}

// Catalog returns the acquired catalog, or nil.
func (b *Bridge) Catalog() *Catalog {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.catalog
}

// Invoke calls the named catalog tool with a JSON object of arguments.
// The result is never nil; on failure its ErrorKind classifies the error.
func (b *Bridge) Invoke(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	b.lock.RLock()
	r := b.router
	st := b.state
	b.lock.RUnlock()

	if r == nil {
		if st == stateReleased {
			return failed(name, errors.Wrap(mcperr.ErrProviderGone, ErrReleased.Error()))
		}
		return failed(name, errors.WithStack(ErrNotAcquired))
	}
	return r.invoke(ctx, name, args)
}

// Tools returns the catalog as tools for a model, in catalog order.
func (b *Bridge) Tools() []tools.ITool {
	cat := b.Catalog()
	if cat == nil {
		return nil
	}
	list := make([]tools.ITool, 0, cat.Len())
	for _, d := range cat.tools {
		list = append(list, &Tool{bridge: b, desc: d})
	}
	return list
}
