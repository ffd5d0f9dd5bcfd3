package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"aphorism/src/internal/api"
	"aphorism/src/internal/domain"
	"aphorism/src/internal/service/browser"
	"aphorism/src/internal/service/livereload"
	"aphorism/src/internal/service/netaddr"
)

type BrowserOpener interface {
	Open(url string) bool
}

type Option func(*Orchestrator)

// WithOutput sends the startup banner somewhere other than stdout.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

func WithDiscover(fn func() netaddr.Result) Option {
	return func(o *Orchestrator) { o.discover = fn }
}

func WithBrowser(b BrowserOpener) Option {
	return func(o *Orchestrator) { o.browser = b }
}

type Orchestrator struct {
	ctx      *domain.Context
	out      io.Writer
	discover func() netaddr.Result
	browser  BrowserOpener

	state    atomic.Int32
	ln       net.Listener
	api      *api.Api
	hub      *livereload.Hub
	sigs     chan os.Signal
	localURL string
}

func CreateOrchestrator(ctx *domain.Context, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ctx:      ctx,
		out:      os.Stdout,
		discover: func() netaddr.Result { return netaddr.Discover(nil) },
		browser:  browser.New(ctx.Logger),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() domain.State {
	return domain.State(o.state.Load())
}

// Addr is the bound listener address; nil before Start.
func (o *Orchestrator) Addr() net.Addr {
	if o.ln == nil {
		return nil
	}
	return o.ln.Addr()
}

// Run starts the server and blocks until ctx is done or the process gets
// SIGINT/SIGTERM. A clean shutdown returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(); err != nil {
		return err
	}
	return o.Serve(ctx)
}

// Start binds the listener, starts catching SIGINT/SIGTERM and prints the
// banner. Serve must follow to release the signal handler.
func (o *Orchestrator) Start() error {
	o.state.Store(int32(domain.StateStarting))
	cfg := o.ctx.Config
	log := o.ctx.Logger

	log.Infof("Starting %s (Version: %s), serving %s", domain.AppName, cfg.Version, cfg.BaseDir)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.Addr(), err)
	}

	// reload stays a nil interface unless live reload is on
	var reload http.Handler
	if cfg.LiveReload {
		hub, err := livereload.New(cfg.BaseDir, log)
		if err != nil {
			ln.Close()
			return fmt.Errorf("watch %s: %w", cfg.BaseDir, err)
		}
		o.hub = hub
		reload = hub
	}

	o.ln = ln
	o.api = api.Create(o.ctx, reload)

	port := cfg.Port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	// Ctrl+C from here on is a clean shutdown, not the default kill.
	o.sigs = make(chan os.Signal, 1)
	signal.Notify(o.sigs, syscall.SIGTERM, syscall.SIGINT)

	banner := domain.Banner{
		Name:       domain.AppName,
		LocalURL:   "http://localhost:" + strconv.Itoa(port),
		LiveReload: cfg.LiveReload,
	}
	if loopbackHost(cfg.Host) {
		banner.BoundTo = cfg.Host
	} else {
		local := o.discover()
		if local.Fallback {
			log.WithError(local.Err).Debug("Local IP discovery failed, showing loopback")
		}
		banner.NetworkURL = "http://" + net.JoinHostPort(local.IP, strconv.Itoa(port))
	}
	o.localURL = banner.LocalURL
	printBanner(o.out, banner)
	return nil
}

// loopbackHost reports whether binding to host hides the server from
// other devices.
func loopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Serve blocks until ctx is done, a signal arrives or the server fails.
func (o *Orchestrator) Serve(ctx context.Context) error {
	if o.ln == nil || o.sigs == nil {
		return errors.New("serve called before start")
	}
	defer signal.Stop(o.sigs)
	log := o.ctx.Logger

	served := make(chan error, 1)
	go func() {
		served <- o.api.Serve(o.ln)
	}()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	if o.hub != nil {
		go o.hub.Run(hubCtx)
	}

	o.state.Store(int32(domain.StateServing))
	log.Infof("Listening on %s", o.ln.Addr())

	// The launcher may not return until the browser exits.
	if o.ctx.Config.OpenBrowser {
		go o.browser.Open(o.localURL)
	}

	// Wait for shutdown signal
	select {
	case sig := <-o.sigs:
		log.Infof("Received %s signal. Shutting down...", sig)
	case <-ctx.Done():
		log.Info("Context done. Shutting down...")
	case err := <-served:
		o.closeHub()
		o.api.Close()
		o.state.Store(int32(domain.StateStopped))
		return fmt.Errorf("serve: %w", err)
	}

	o.shutdown(served)
	return nil
}

func (o *Orchestrator) shutdown(served <-chan error) {
	log := o.ctx.Logger

	// Close the hub first so websocket clients do not hold the grace period.
	o.closeHub()

	graceCtx, cancel := context.WithTimeout(context.Background(), o.ctx.Config.ShutdownGrace)
	defer cancel()
	if err := o.api.Shutdown(graceCtx); err != nil {
		log.WithError(err).Warn("Grace period expired, connections dropped")
	}

	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("Server exited with error")
	}

	o.state.Store(int32(domain.StateStopped))
	fmt.Fprintln(o.out, "\n👋 Server stopped")
}

func (o *Orchestrator) closeHub() {
	if o.hub == nil {
		return
	}
	if err := o.hub.Close(); err != nil {
		o.ctx.Logger.WithError(err).Debug("Closing watcher")
	}
}
