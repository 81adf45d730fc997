package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"echodesk/cli/internal/agentloop"
	"echodesk/cli/internal/global"
	"echodesk/cli/internal/kvstore"
	"echodesk/cli/internal/lifecycle"
	"echodesk/cli/internal/localapi"
	"echodesk/cli/internal/logging"
	"echodesk/cli/internal/taskpanel"
	"echodesk/cli/internal/taskstate"
)

type Application struct {
	localAPIBaseURL string
	storeBackend    string
	agentEnabled    bool

	store    kvstore.Store
	service  *taskstate.Service
	server   *localapi.Server
	listener net.Listener
	mgr      *lifecycle.Manager
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// StartApplication opens the store, builds the task service and HTTP server,
// and binds the listen address. Nothing is served until Run.
func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	logger := logging.OrDiscard(opts.Logger)
	configDir := strings.TrimSpace(opts.ConfigDir)
	if configDir == "" {
		return nil, errors.New("config dir is required")
	}
	cfgStore := global.NewConfigStore(configDir)
	gcfg, err := cfgStore.LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load config.toml: %w", err)
	}

	store, backend, err := OpenStore(ctx, configDir, opts.Store)
	if err != nil {
		return nil, err
	}

	// The server needs the service and the service publishes through the
	// server, so the sink resolves the server lazily.
	var server *localapi.Server
	service, err := taskstate.NewService(store,
		taskstate.WithLogger(logger),
		taskstate.WithEventSink(func(evt taskstate.Event) {
			server.PublishTaskEvent(evt)
		}),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	runner := buildAgentLoopRunner(gcfg.Agent, opts.OpenAI, service, logger)
	deps := localapi.Deps{
		TaskService:  service,
		ConfigStore:  cfgStore,
		StoreBackend: backend,
		APIToken:     strings.TrimSpace(opts.APIToken),
		Logger:       logger,
	}
	if runner != nil {
		deps.AgentLoopRunner = runner
	}
	server = localapi.NewServer(deps)

	host := strings.TrimSpace(opts.LocalHost)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.LocalPort
	if port <= 0 {
		port = gcfg.LocalPort
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen %s:%d: %w", host, port, err)
	}

	app := &Application{
		localAPIBaseURL: "http://" + ln.Addr().String(),
		storeBackend:    backend,
		agentEnabled:    runner != nil,
		store:           store,
		service:         service,
		server:          server,
		listener:        ln,
		logger:          logger,
	}
	app.mgr = app.buildLifecycle(panelInterval(opts.PanelInterval, gcfg.Panel.PollIntervalMS))
	return app, nil
}

func (a *Application) buildLifecycle(panelEvery time.Duration) *lifecycle.Manager {
	httpServer := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mgr := lifecycle.NewManager(lifecycle.WithLogger(a.logger))
	mgr.AddRun("http-server", func(runCtx context.Context) error {
		a.logger.Info("local api listening", "addr", a.localAPIBaseURL, "store", a.storeBackend, "agent", a.agentEnabled)
		return serveUntilDone(runCtx, httpServer, a.listener, httpDrainTimeout)
	})
	if panelEvery > 0 {
		poller := taskpanel.NewPoller(taskpanel.ServiceFetcher{Service: a.service}, taskpanel.PollerOptions{
			Interval: panelEvery,
			Logger:   a.logger,
			OnChange: func(d taskpanel.Decision) {
				a.server.PublishPanelState(d.Visible, string(d.State), d.Task)
			},
		})
		mgr.AddRun("task-panel", poller.Run)
	}
	mgr.AddShutdown("close-store", func(context.Context) error {
		return a.closeResources()
	})
	mgr.AddShutdown("close-websockets", func(context.Context) error {
		a.server.Hub().CloseAll()
		return nil
	})
	return mgr
}

const httpDrainTimeout = 3 * time.Second

// serveUntilDone serves ln until ctx is done, then drains in-flight requests
// before returning, so shutdown jobs never run under a live handler.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener, drain time.Duration) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-serveErr
	if err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}
	return nil
}

func panelInterval(override time.Duration, configuredMS int) time.Duration {
	if override != 0 {
		return override
	}
	if configuredMS <= 0 {
		configuredMS = global.DefaultPollIntervalMS
	}
	return time.Duration(configuredMS) * time.Millisecond
}

// buildAgentLoopRunner prefers a complete agent section from config.toml and
// falls back to the environment. It returns nil when neither names an
// endpoint and a model.
func buildAgentLoopRunner(agentCfg global.AgentConfig, env agentloop.OpenAIConfig, svc agentloop.TaskService, logger *slog.Logger) *agentloop.LoopRunner {
	cfg := agentloop.OpenAIConfig{
		BaseURL: strings.TrimSpace(env.BaseURL),
		Model:   strings.TrimSpace(env.Model),
		APIKey:  strings.TrimSpace(env.APIKey),
	}
	if agentCfg.Complete() {
		cfg.BaseURL = strings.TrimSpace(agentCfg.Endpoint)
		cfg.Model = strings.TrimSpace(agentCfg.Model)
	}
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil
	}
	registry := agentloop.NewToolRegistry()
	if err := registry.RegisterAll(agentloop.TaskTools(svc)...); err != nil {
		logger.Error("register task tools failed", "error", err)
		return nil
	}
	client := agentloop.NewResponsesClient(cfg, &http.Client{Timeout: 2 * time.Minute})
	return agentloop.NewLoopRunner(client, registry, agentloop.LoopRunnerOptions{
		MaxIterations: agentCfg.MaxIterations,
		Instructions:  agentloop.DefaultInstructions,
		Logger:        logger,
	})
}

func (a *Application) LocalAPIBaseURL() string {
	if a == nil {
		return ""
	}
	return a.localAPIBaseURL
}

func (a *Application) StoreBackend() string {
	if a == nil {
		return ""
	}
	return a.storeBackend
}

func (a *Application) AgentEnabled() bool {
	return a != nil && a.agentEnabled
}

func (a *Application) TaskService() *taskstate.Service {
	if a == nil {
		return nil
	}
	return a.service
}

// Run serves until ctx is cancelled or a run job fails, then releases the
// store.
func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.mgr == nil {
		return nil
	}
	return a.mgr.StartAndWait(ctx)
}

// Shutdown releases the listener and the store. It is safe to call after Run
// returned.
func (a *Application) Shutdown(context.Context) error {
	if a == nil {
		return nil
	}
	return a.closeResources()
}

func (a *Application) closeResources() error {
	a.closeOnce.Do(func() {
		if a.listener != nil {
			if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				a.closeErr = errors.Join(a.closeErr, err)
			}
		}
		if a.store != nil {
			a.closeErr = errors.Join(a.closeErr, a.store.Close())
		}
	})
	return a.closeErr
}
