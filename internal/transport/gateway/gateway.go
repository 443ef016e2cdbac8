package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// Config describes the listener the gateway binds.
type Config struct {
	// Addr is the host:port to bind. Port 0 asks the kernel for a free one.
	Addr string

	// TLSCertPath and TLSKeyPath enable TLS when both are set.
	TLSCertPath string
	TLSKeyPath  string
}

// ListenerInfo describes the bound listener.
type ListenerInfo struct {
	Scheme  string
	Address string
	Port    int
}

// Gateway owns the bridge's HTTP listener lifecycle: bind, serve in the
// background, surface serve errors on a channel, graceful shutdown.
type Gateway struct {
	handler http.Handler
	cfg     Config

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	errCh    chan error
	wg       sync.WaitGroup
	info     ListenerInfo
}

// New constructs a Gateway serving handler according to cfg.
func New(handler http.Handler, cfg Config) *Gateway {
	return &Gateway{
		handler: handler,
		cfg:     cfg,
	}
}

// Start binds the listener and serves in a background goroutine. It must
// not be called concurrently with Shutdown.
func (g *Gateway) Start(ctx context.Context) (*ListenerInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listener != nil {
		return nil, fmt.Errorf("gateway: already started")
	}

	useTLS, err := validateTLS(g.cfg)
	if err != nil {
		return nil, err
	}

	addr := g.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gateway: listen: %w", err)
	}

	scheme := "http"
	if useTLS {
		scheme = "https"
	}

	srv := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.server = srv
	g.listener = listener
	g.errCh = make(chan error, 1)
	g.info = ListenerInfo{
		Scheme:  scheme,
		Address: listener.Addr().String(),
		Port:    listenerPort(listener),
	}
	errCh := g.errCh

	g.wg.Add(1)
	go g.serve(ctx, srv, listener, useTLS)

	go func(ch chan error) {
		g.wg.Wait()
		close(ch)
	}(errCh)

	infoCopy := g.info
	return &infoCopy, nil
}

func (g *Gateway) serve(ctx context.Context, srv *http.Server, listener net.Listener, useTLS bool) {
	defer g.wg.Done()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			g.pushError(err)
		}
	}()

	var err error
	if useTLS {
		err = srv.ServeTLS(listener, g.cfg.TLSCertPath, g.cfg.TLSKeyPath)
	} else {
		err = srv.Serve(listener)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		g.pushError(err)
	}
}

func (g *Gateway) pushError(err error) {
	if err == nil {
		return
	}
	g.mu.RLock()
	ch := g.errCh
	g.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// Shutdown gracefully stops the listener and waits for the serve goroutine.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	srv := g.server
	errCh := g.errCh
	g.server = nil
	g.listener = nil
	g.errCh = nil
	g.mu.Unlock()

	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	g.wg.Wait()

	if errCh != nil {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		default:
		}
	}

	return nil
}

// Errors exposes serve failures; the channel closes when the gateway stops.
func (g *Gateway) Errors() <-chan error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.errCh == nil {
		ch := make(chan error)
		close(ch)
		return ch
	}
	return g.errCh
}

// Info reports the address the listener actually bound.
func (g *Gateway) Info() ListenerInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.info
}

// Addr returns the bound listener address, nil when not listening.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// TLSEnabled reports whether the gateway serves TLS.
func (g *Gateway) TLSEnabled() bool {
	return g.cfg.TLSCertPath != "" && g.cfg.TLSKeyPath != ""
}

func validateTLS(cfg Config) (bool, error) {
	cert, key := cfg.TLSCertPath, cfg.TLSKeyPath
	if (cert == "") != (key == "") {
		return false, fmt.Errorf("gateway: TLS requires both certificate and key paths")
	}
	if cert == "" {
		return false, nil
	}
	if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
		return false, fmt.Errorf("gateway: load tls certificate/key pair: %w", err)
	}
	return true, nil
}

func listenerPort(l net.Listener) int {
	if tcp, ok := l.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
