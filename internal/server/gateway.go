// Package server exposes kernel sessions over HTTP and WebSocket. The
// REST surface drives the session manager (spawn, submit, fork,
// interrupt, terminate) and the kernelspec registry; /ws streams bus
// events to connected clients.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	store "github.com/kernos-ai/kernos/internal/config/store"
	"github.com/kernos-ai/kernos/internal/constants"
	"github.com/kernos-ai/kernos/internal/eventbus"
	"github.com/kernos-ai/kernos/internal/host"
	"github.com/kernos-ai/kernos/internal/version"
)

// SpecStore is the kernelspec registry behind the /kernelspecs routes.
type SpecStore interface {
	ListKernelspecs(ctx context.Context) ([]store.Kernelspec, error)
	GetKernelspec(ctx context.Context, name string) (store.Kernelspec, error)
	UpsertKernelspec(ctx context.Context, spec store.Kernelspec) error
	DeleteKernelspec(ctx context.Context, name string) error
}

// Gateway is the network front of a session manager.
type Gateway struct {
	manager *host.Manager
	specs   SpecStore
	bus     *eventbus.Bus
	hub     *Hub

	lifecycle eventbus.ServiceLifecycle

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	started    time.Time
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithSpecStore enables the kernelspec registry routes.
func WithSpecStore(specs SpecStore) GatewayOption {
	return func(g *Gateway) { g.specs = specs }
}

// WithBus streams kernel events from the bus to WebSocket clients.
func WithBus(bus *eventbus.Bus) GatewayOption {
	return func(g *Gateway) { g.bus = bus }
}

// NewGateway builds a gateway around the given session manager.
func NewGateway(manager *host.Manager, opts ...GatewayOption) *Gateway {
	g := &Gateway{manager: manager}
	for _, opt := range opts {
		opt(g)
	}
	g.hub = newHub(manager)
	return g
}

// Handler returns the gateway's route table.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", g.handleSessionsRoot)
	mux.HandleFunc("/sessions/", g.handleSessionSubroutes)
	mux.HandleFunc("/kernelspecs", g.handleKernelspecsRoot)
	mux.HandleFunc("/kernelspecs/", g.handleKernelspecSubroutes)
	mux.HandleFunc("/status", g.handleStatus)
	mux.HandleFunc("/ws", g.hub.HandleWebSocket)
	return mux
}

// Start binds the listener and serves until Shutdown. The addr follows
// net.Listen conventions; port 0 picks a free port (see Addr).
func (g *Gateway) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:     g.Handler(),
		ReadTimeout: constants.GatewayReadTimeout,
	}

	g.mu.Lock()
	g.listener = ln
	g.httpServer = srv
	g.started = time.Now().UTC()
	g.mu.Unlock()

	g.lifecycle.Start(ctx)
	g.lifecycle.Go(g.hub.Run)
	g.bridgeEvents()

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			logf("serve: %v", serveErr)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Shutdown stops accepting connections and tears down the event bridge.
// Live kernel sessions are left to the session manager's own Shutdown.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	srv := g.httpServer
	g.mu.Unlock()

	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, constants.GatewayShutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	if lifecycleErr := g.lifecycle.Shutdown(ctx); err == nil {
		err = lifecycleErr
	}
	return err
}

type statusResponse struct {
	Version       string  `json:"version"`
	Sessions      int     `json:"sessions"`
	Clients       int     `json:"clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	g.mu.Lock()
	started := g.started
	g.mu.Unlock()

	resp := statusResponse{
		Version:  version.String(),
		Sessions: len(g.manager.Sessions()),
		Clients:  g.hub.ClientCount(),
	}
	if !started.IsZero() {
		resp.UptimeSeconds = time.Since(started).Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// bridgeEvents forwards kernel bus topics to the WebSocket hub.
func (g *Gateway) bridgeEvents() {
	if g.bus == nil {
		return
	}

	lifecycleSub := eventbus.SubscribeTo(g.bus, eventbus.Kernels.Lifecycle)
	resultSub := eventbus.SubscribeTo(g.bus, eventbus.Kernels.Result)
	messageSub := eventbus.SubscribeTo(g.bus, eventbus.Kernels.Message)
	forkedSub := eventbus.SubscribeTo(g.bus, eventbus.Kernels.Forked)
	g.lifecycle.AddSubscriptions(lifecycleSub, resultSub, messageSub, forkedSub)

	g.lifecycle.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, lifecycleSub, func(ev eventbus.KernelLifecycleEvent) {
			g.hub.BroadcastEvent("kernel_lifecycle", ev.SessionID, ev)
		})
	})
	g.lifecycle.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, resultSub, func(ev eventbus.KernelResultEvent) {
			g.hub.BroadcastEvent("kernel_result", ev.SessionID, ev)
		})
	})
	g.lifecycle.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, messageSub, func(ev eventbus.KernelMessageEvent) {
			g.hub.BroadcastEvent("kernel_message", ev.SessionID, ev)
		})
	})
	g.lifecycle.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, forkedSub, func(ev eventbus.KernelForkedEvent) {
			g.hub.BroadcastEvent("kernel_forked", ev.ParentID, ev)
		})
	})
}
