package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/ember/vm"
)

var log = commonlog.GetLogger("ember.server")

// EmberServer serves interactive sessions over Connect, gRPC and gRPC-Web
// on one port.
type EmberServer struct {
	worker   *VMWorker
	sessions *SessionStore
	mux      *http.ServeMux

	stopSweeper func()
}

// ServerOption configures an EmberServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	env        vm.Config
	sessionTTL time.Duration
	sweepEvery time.Duration
}

// WithEnvConfig sets the configuration of every session environment.
// Natives listed in it follow the core natives.
func WithEnvConfig(cfg vm.Config) ServerOption {
	return func(c *serverConfig) { c.env = cfg }
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(c *serverConfig) { c.sessionTTL = ttl }
}

// New creates an EmberServer.
func New(opts ...ServerOption) *EmberServer {
	cfg := &serverConfig{
		sessionTTL: 30 * time.Minute,
		sweepEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker()
	sessions := NewSessionStore(cfg.env)

	s := &EmberServer{
		worker:   worker,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	evalSvc := NewEvalService(worker, sessions)
	for path, h := range evalSvc.Handlers() {
		s.mux.Handle(path, h)
	}

	s.stopSweeper = sessions.StartSweeper(cfg.sweepEvery, cfg.sessionTTL)
	return s
}

// Handler returns the server's HTTP handler.
func (s *EmberServer) Handler() http.Handler { return s.mux }

// Sessions returns the session store.
func (s *EmberServer) Sessions() *SessionStore { return s.sessions }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port". Cleartext
// HTTP/2 is enabled so gRPC clients can connect without TLS.
func (s *EmberServer) ListenAndServe(addr string) error {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		Protocols:         &protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Noticef("listening on %s", addr)
	fmt.Printf("Ember server listening on %s\n", addr)
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", addr, EvalProcedure)
	fmt.Printf("  gRPC (binary):       grpc://%s\n", addr)
	return srv.ListenAndServe()
}

// Stop shuts down the server.
func (s *EmberServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}

// newNativeTable resolves native names for compiling outside a session,
// in the order sessions register them: core natives first.
func newNativeTable(extra []vm.Native) vm.Resolver {
	return vm.NewResolver(append(vm.CoreNatives(io.Discard), extra...))
}
