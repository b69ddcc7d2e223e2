// Package rpc serves the node's JSON-RPC 2.0 endpoint and its admin routes.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/paralink-network/paralink-node/internal/collector"
	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/httputil"
	"github.com/paralink-network/paralink-node/internal/ipfs"
	"github.com/paralink-network/paralink-node/internal/metrics"
	"github.com/paralink-network/paralink-node/internal/middleware"
	"github.com/paralink-network/paralink-node/internal/pql"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Executor runs a raw PQL document.
type Executor interface {
	Execute(ctx context.Context, raw []byte) (pql.Value, error)
}

// DocumentResolver returns a fetcher for the IPFS API at apiURL; an empty
// apiURL selects the node's default API.
type DocumentResolver func(apiURL string) ipfs.Fetcher

// Collector is the admin view of the chain collector.
type Collector interface {
	Restart(ctx context.Context, name string) error
	RestartAll(ctx context.Context) error
	Status() []collector.ChainStatus
}

// Options wires a Server.
type Options struct {
	Executor  Executor
	Documents DocumentResolver
	// Collector may be nil when the collector is disabled.
	Collector Collector
	Logger    *logger.Logger
}

// Server is the HTTP front of the node.
type Server struct {
	cfg       config.ServerConfig
	exec      Executor
	documents DocumentResolver
	collector Collector
	log       *logger.Logger
	methods   map[string]method
	limiter   *middleware.RateLimiter
	handler   http.Handler

	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
}

// NewServer builds the router.
func NewServer(cfg config.ServerConfig, opts Options) (*Server, error) {
	if opts.Executor == nil || opts.Documents == nil {
		return nil, errors.New("rpc: executor and document resolver are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("rpc")
	}
	s := &Server{
		cfg:       cfg,
		exec:      opts.Executor,
		documents: opts.Documents,
		collector: opts.Collector,
		log:       opts.Logger,
		limiter:   middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, opts.Logger.Component("ratelimit")),
	}
	s.methods = map[string]method{
		"execute_pql":  s.executePQL,
		"execute_ipfs": s.executeIPFS,
	}

	router := mux.NewRouter()
	router.Use(middleware.Metrics, middleware.Logging(s.log))
	router.Handle("/rpc", s.limiter.Handler(http.HandlerFunc(s.handleRPC))).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/api/ipfs/new", s.handleTemplate).Methods(http.MethodGet)
	router.HandleFunc("/api/ipfs/{hash}", s.handleIPFSDocument).Methods(http.MethodGet)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.NewAdminAuth(cfg.AdminSecret, s.log.Component("admin-auth")).Handler)
	admin.HandleFunc("/chains", s.handleChains).Methods(http.MethodGet)
	admin.HandleFunc("/chains/{name}/restart", s.handleRestartChain).Methods(http.MethodPost)
	admin.HandleFunc("/collectors/restart", s.handleRestartAll).Methods(http.MethodPost)

	s.handler = middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler(router)
	return s, nil
}

// Handler exposes the full HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Name() string { return "rpc" }

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.listener = ln

	var cleanupCtx context.Context
	cleanupCtx, s.cancel = context.WithCancel(context.Background())
	s.limiter.StartCleanup(cleanupCtx, time.Minute)

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("rpc server stopped")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("rpc server listening")
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadAllStrict(r.Body, httputil.MaxBodySize)
	if err != nil {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	out, err := s.handle(r.Context(), body)
	if err != nil {
		s.log.WithError(err).Error("encode rpc response")
		httputil.WriteError(w, http.StatusInternalServerError, "")
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// executePQL accepts the document as a JSON string or as an object.
func (s *Server) executePQL(ctx context.Context, params json.RawMessage) (string, error) {
	args, err := bindParams(params, "pql_json")
	if err != nil {
		return "", err
	}
	doc := bytes.TrimSpace(args[0])
	if len(doc) > 0 && doc[0] == '"' {
		text, err := stringParam(doc, "pql_json")
		if err != nil {
			return "", err
		}
		doc = []byte(text)
	}
	s.log.Info("execute pql request")
	return s.run(ctx, doc)
}

func (s *Server) executeIPFS(ctx context.Context, params json.RawMessage) (string, error) {
	args, err := bindParams(params, "ipfs_address", "ipfs_hash")
	if err != nil {
		return "", err
	}
	address, err := stringParam(args[0], "ipfs_address")
	if err != nil {
		return "", err
	}
	hash, err := stringParam(args[1], "ipfs_hash")
	if err != nil {
		return "", err
	}
	s.log.WithField("ipfs_address", address).WithField("ipfs_hash", hash).Info("execute ipfs request")

	doc, err := s.documents(address).Fetch(ctx, hash)
	if err != nil {
		return "", err
	}
	return s.run(ctx, doc)
}

func (s *Server) run(ctx context.Context, doc []byte) (string, error) {
	value, err := s.exec.Execute(ctx, doc)
	if err != nil {
		return "", err
	}
	result, err := pql.Format(value)
	if err != nil {
		return "", apperrors.Internal(err, "cannot format result")
	}
	s.log.WithField("result", result).Info("obtained result")
	return result, nil
}

type ipfsDocument struct {
	PQL  interface{} `json:"pql"`
	Hash string      `json:"hash"`
}

func (s *Server) handleTemplate(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, ipfsDocument{PQL: pql.TemplateDefinition, Hash: "New PQL definition"})
}

func (s *Server) handleIPFSDocument(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	doc, err := s.documents("").Fetch(r.Context(), hash)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, toErrorObject(err).Message)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ipfsDocument{PQL: json.RawMessage(doc), Hash: hash})
}

type healthBody struct {
	Status string                  `json:"status"`
	Chains []collector.ChainStatus `json:"chains,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := healthBody{Status: "ok"}
	if s.collector != nil {
		body.Chains = s.collector.Status()
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	if s.collector == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "collector is disabled")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.collector.Status())
}

func (s *Server) handleRestartChain(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "collector is disabled")
		return
	}
	name := mux.Vars(r)["name"]
	err := s.collector.Restart(r.Context(), name)
	switch {
	case errors.Is(err, collector.ErrUnknownChain):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.log.WithError(err).WithField("chain", name).Error("restart chain")
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		s.log.WithField("chain", name).WithField("subject", middleware.AdminSubject(r.Context())).Info("chain restarted")
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "restarted", "chain": name})
	}
}

func (s *Server) handleRestartAll(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "collector is disabled")
		return
	}
	if err := s.collector.RestartAll(r.Context()); err != nil {
		s.log.WithError(err).Error("restart collectors")
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.WithField("subject", middleware.AdminSubject(r.Context())).Info("collectors restarted")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}
