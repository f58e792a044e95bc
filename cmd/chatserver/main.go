// Command chatserver serves the chat session API. On startup it connects to
// the tool server, discovers the available tools and exits with code 1 if
// the tools can not be fetched.
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
	"github.com/effective-security/toolchat/api"
	"github.com/effective-security/toolchat/assistants"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/config"
	"github.com/effective-security/toolchat/dispatch"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/mcp/transport/sse"
	"github.com/effective-security/toolchat/pkg/llmfactory"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/registry"
	"github.com/effective-security/toolchat/store"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "chatserver")

const (
	clientName    = "toolchat"
	clientVersion = "1.0.0"
	assistantName = "chat"
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

	fcfg, err := cfg.LLMFactory()
	if err != nil {
		return err
	}
	model, err := llmfactory.New(fcfg).AssistantModel(assistantName, cfg.LLM.Model)
	if err != nil {
		return errors.WithMessage(err, "failed to create model")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, snapshot, err := connectTools(ctx, cfg)
	if err != nil {
		logger.KV(xlog.CRITICAL, "reason", "connect_tools", "url", cfg.Chat.ToolsURL, "err", err.Error())
		return err
	}
	defer client.Close()

	handler := newHandler(cfg, model, client, snapshot)
	return serve(ctx, fmt.Sprintf(":%d", cfg.Chat.Port), handler)
}

// connectTools connects to the tool server and fetches the tool registry
func connectTools(ctx context.Context, cfg *config.Config) (*mcp.Client, *registry.Snapshot, error) {
	timeout := cfg.Limits.GetRegistryTimeout()
	tr := sse.NewClientTransport(cfg.Chat.ToolsURL, sse.WithEndpointTimeout(timeout))
	client := mcp.NewClient(tr,
		mcp.WithClientInfo(clientName, clientVersion),
		mcp.WithRequestTimeout(cfg.Limits.GetToolTimeout()),
		mcp.WithToolsChangedHandler(func() {
			logger.KV(xlog.WARNING, "status", "tools_changed", "reason", "restart to discover new tools")
		}),
	)

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := client.Initialize(initCtx)
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Mark(errors.WithMessagef(err, "failed to connect to tool server %s", cfg.Chat.ToolsURL), chatmodel.ErrRegistryUnavailable)
	}

	snapshot, err := registry.Fetch(ctx, client, registry.WithTimeout(timeout))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	logger.KV(xlog.NOTICE,
		"status", "tools_discovered",
		"server", res.ServerInfo.Name,
		"tools", snapshot.Names(),
	)
	return client, snapshot, nil
}

func newHandler(cfg *config.Config, model llms.Model, caller dispatch.ToolCaller, snapshot *registry.Snapshot) http.Handler {
	sessions := store.NewMemoryStore()
	bridge := dispatch.New(snapshot, caller, dispatch.WithTimeout(cfg.Limits.GetToolTimeout()))

	opts := []assistants.Option{
		assistants.WithName(assistantName),
		assistants.WithMaxToolRounds(cfg.Limits.MaxToolRounds),
		assistants.WithMaxRetries(cfg.Limits.MaxRetries),
		assistants.WithModelTimeout(cfg.Limits.GetModelTimeout()),
		assistants.WithCallback(assistants.NewPackageLoggerCallback(logger)),
	}
	if cfg.LLM.SystemPrompt != "" {
		opts = append(opts, assistants.WithSystemPrompt(cfg.LLM.SystemPrompt))
	}

	assistant := assistants.NewAssistant(model, sessions, snapshot, bridge, opts...)
	return api.New(sessions, assistant, snapshot)
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.KV(xlog.NOTICE, "status", "listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "failed to listen on %s", addr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.KV(xlog.NOTICE, "status", "shutting_down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
