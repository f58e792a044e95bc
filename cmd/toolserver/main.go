// Command toolserver exposes the file, system, math and email tools
// to chat clients over the MCP SSE transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/config"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/mcp/transport/sse"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/toolchat/tools/emailtool"
	"github.com/effective-security/toolchat/tools/fstool"
	"github.com/effective-security/toolchat/tools/mathtool"
	"github.com/effective-security/toolchat/tools/systool"
	"github.com/effective-security/toolchat/tools/tavily"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "toolserver")

const (
	serverName    = "toolchat-tools"
	serverVersion = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "location of the configuration file, "+config.EnvConfigFile+" is used if not set")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	cfg.ConfigureLogger()

	server, err := newServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, fmt.Sprintf(":%d", cfg.Tools.Port), server)
}

// newServer returns the MCP server with all configured tools registered
func newServer(cfg *config.Config) (*mcp.Server, error) {
	email, err := emailtool.New(cfg.Email())
	if err != nil {
		return nil, err
	}

	list := []tools.Group{
		mathtool.New(),
		fstool.New(cfg.Tools.BaseDir),
		systool.New(),
		email,
	}
	if cfg.Tools.TavilyAPIKey != "" {
		search, err := tavily.New(cfg.Tools.TavilyAPIKey)
		if err != nil {
			return nil, err
		}
		list = append(list, search)
	}

	server := mcp.NewServer(serverName, serverVersion)
	if err := tools.Register(server, list...); err != nil {
		return nil, err
	}
	logger.KV(xlog.INFO, "status", "tools_registered", "tools", server.ToolNames())
	return server, nil
}

func serve(ctx context.Context, addr string, server *mcp.Server) error {
	handler := sse.NewHandler(server, "/messages")
	mux := http.NewServeMux()
	handler.Register(mux)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.KV(xlog.NOTICE, "status", "listening", "addr", addr, "sse", "/sse")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "failed to listen on %s", addr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// streams stay open until their transports are closed
		handler.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.KV(xlog.NOTICE, "status", "shutting_down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
