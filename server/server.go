package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/tealflight/tealflight/engine"
	"github.com/tealflight/tealflight/handles"
	"google.golang.org/grpc"
)

// Server hosts the Flight SQL producer over gRPC, insecure or TLS.
type Server struct {
	cfg       Config
	pool      *engine.Pool
	registry  *handles.Registry
	limiter   *RateLimiter
	issuer    *TokenIssuer
	flightSrv flight.Server
	listener  net.Listener

	shutdownOnce  sync.Once
	shutdownState atomic.Bool
	wg            sync.WaitGroup
}

// New opens the engine and binds the listener. Exit codes for the hosting
// CLI hinge on this returning an error for bad config or an unbindable port.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	secret, err := cfg.ResolveTokenSecret()
	if err != nil {
		return nil, err
	}

	pool, err := engine.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	limiter := NewRateLimiter(cfg.RateLimit)
	issuer := NewTokenIssuer(secret, cfg.TokenTTL.Std())
	authenticator := NewAuthenticator(cfg.HashedUsers(), issuer, limiter)
	registry := handles.NewRegistry(cfg.HandleIdleTTL.Std(), 0)

	producer, err := NewProducer(cfg, pool, registry, authenticator)
	if err != nil {
		_ = pool.Close()
		registry.Close()
		limiter.Close()
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var ln net.Listener
	if cfg.TLSCertFile != "" {
		tlsConfig, err := serverTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			_ = pool.Close()
			registry.Close()
			limiter.Close()
			return nil, err
		}
		ln, err = tls.Listen("tcp", addr, tlsConfig)
		if err != nil {
			_ = pool.Close()
			registry.Close()
			limiter.Close()
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
	} else {
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			_ = pool.Close()
			registry.Close()
			limiter.Close()
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
	}

	grpcOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxGRPCMessageSize),
		grpc.MaxSendMsgSize(MaxGRPCMessageSize),
	}
	srv := flight.NewServerWithMiddleware(nil, grpcOpts...)
	srv.RegisterFlightService(flightsql.NewFlightServer(producer))
	srv.InitListener(ln)

	return &Server{
		cfg:       cfg,
		pool:      pool,
		registry:  registry,
		limiter:   limiter,
		issuer:    issuer,
		flightSrv: srv,
		listener:  ln,
	}, nil
}

// serverTLSConfig loads the certificate pair; gRPC needs ALPN h2.
func serverTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls certificates: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"h2"},
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// TokenIssuer exposes the signer so operators can mint bearer tokens.
func (s *Server) TokenIssuer() *TokenIssuer {
	return s.issuer
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.flightSrv.Serve(); err != nil && !s.shutdownState.Load() {
			slog.Error("Flight server exited.", "error", err)
		}
	}()
}

// Serve blocks until shutdown.
func (s *Server) Serve() error {
	return s.flightSrv.Serve()
}

// Shutdown stops accepting connections and releases every engine and
// registry resource exactly once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.shutdownState.Store(true)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.flightSrv != nil {
			s.flightSrv.Shutdown()
		}
		s.registry.Close()
		s.limiter.Close()
		if err := s.pool.Close(); err != nil {
			slog.Warn("Failed to close engine pool.", "error", err)
		}
		s.wg.Wait()
	})
}
