package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Vladikasik/mcm-https/app/config"
	"github.com/Vladikasik/mcm-https/app/service/kvstore"
	"github.com/Vladikasik/mcm-https/app/service/memory"
	"github.com/Vladikasik/mcm-https/app/util/tlsutil"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

const (
	serverVersion = "1.0.0"
	endpointPath  = "/mcp"
	certDir       = ".ssl"
	certValidDays = 365
)

// graphStore is the subset of the memory service the dispatch layer uses.
// An interface keeps the tool handlers testable without a live engine.
type graphStore interface {
	CreateEntities(ctx context.Context, entities []memory.Entity) ([]memory.Entity, error)
	CreateRelations(ctx context.Context, relations []memory.Relation) ([]memory.Relation, error)
	AddObservations(ctx context.Context, additions []memory.ObservationAddition) ([]memory.ObservationResult, error)
	DeleteEntities(ctx context.Context, names []string) error
	DeleteObservations(ctx context.Context, deletions []memory.ObservationDeletion) error
	DeleteRelations(ctx context.Context, relations []memory.Relation) error
	ReadGraph(ctx context.Context) (*memory.KnowledgeGraph, error)
	SearchNodes(ctx context.Context, query string) (*memory.KnowledgeGraph, error)
	FindNodes(ctx context.Context, names []string) (*memory.KnowledgeGraph, error)
	OpenNodes(ctx context.Context, names []string) (*memory.KnowledgeGraph, error)
}

type Service struct {
	cfg       *config.Config
	memorySvc graphStore
	kvSvc     *kvstore.Service

	mcp *server.MCPServer
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:       do.MustInvoke[*config.Config](di),
		memorySvc: do.MustInvoke[*memory.Service](di),
		kvSvc:     do.MustInvoke[*kvstore.Service](di),
	}

	s.mcp = server.NewMCPServer(
		s.cfg.Server.Name,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.registerTools()

	return s, nil
}

// Run serves the MCP server on the configured transport and blocks until the
// context is cancelled or the transport fails.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Server.Transport == "stdio" {
		slog.Info("Serving MCP over stdio", "name", s.cfg.Server.Name)
		return server.ServeStdio(s.mcp)
	}

	return s.runHTTP(ctx)
}

func (s *Service) runHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	certFile, keyFile, err := s.resolveTLS()
	if err != nil {
		return err
	}

	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(true),
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: streamable,
	}

	scheme := "https"
	if certFile == "" {
		scheme = "http"
	}

	slog.Info("Serving MCP over HTTP",
		"name", s.cfg.Server.Name,
		"url", fmt.Sprintf("%s://%s%s", scheme, addr, endpointPath),
		"tls", certFile != "",
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var serveErr error
		if certFile != "" {
			serveErr = httpServer.ListenAndServeTLS(certFile, keyFile)
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// resolveTLS picks the certificate pair for the HTTP transport: the
// configured pair when set, otherwise a generated self-signed one. Empty
// paths mean plain HTTP.
func (s *Service) resolveTLS() (string, string, error) {
	if s.cfg.Server.NoSSL {
		slog.Info("TLS disabled, serving plain HTTP")
		return "", "", nil
	}

	if s.cfg.Server.CertFile != "" && s.cfg.Server.KeyFile != "" {
		return s.cfg.Server.CertFile, s.cfg.Server.KeyFile, nil
	}

	certFile, keyFile, err := tlsutil.EnsureSelfSigned(certDir, s.cfg.Server.Host, certValidDays)
	if err != nil {
		return "", "", fmt.Errorf("failed to prepare self-signed certificate: %w", err)
	}

	if s.cfg.Server.TrustCert {
		if err := tlsutil.InstallToTrustStore(certFile); err != nil {
			slog.Warn("Trust store installation failed", "error", err)
		} else {
			slog.Info("Certificate installed to system trust store")
		}
	}

	return certFile, keyFile, nil
}
