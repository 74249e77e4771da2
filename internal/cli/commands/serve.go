package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/usdbridge/usdbridge/internal/cli/config"
	"github.com/usdbridge/usdbridge/internal/converter"
	"github.com/usdbridge/usdbridge/internal/history"
	"github.com/usdbridge/usdbridge/internal/pipeline"
	"github.com/usdbridge/usdbridge/internal/telemetry"
	"github.com/usdbridge/usdbridge/internal/usda/metadata"
	"github.com/usdbridge/usdbridge/internal/watch"
	"github.com/usdbridge/usdbridge/internal/web/api"
	"github.com/usdbridge/usdbridge/internal/web/cache"
	"github.com/usdbridge/usdbridge/internal/web/server"
	"github.com/usdbridge/usdbridge/internal/web/websocket"
)

// NewServeCommand creates the serve command
func NewServeCommand(opts *globalOptions) *cobra.Command {
	var (
		port      int
		host      string
		watchMode bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the viewer, the HTTP API and telemetry",
		Long: `Start the HTTP server.

It serves:
  • the viewer bundle from server.static_dir
  • converted models under /models
  • the JSON API under /api
  • simulated telemetry over the websocket at /ws/telemetry

With --watch, scenes saved in storage.scenes_dir are reconverted and
connected viewers are notified.

Examples:
  usdbridge serve
  usdbridge serve --port 9000 --watch
  USDBRIDGE_CACHE_BACKEND=redis usdbridge serve
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newServeApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			srv, err := server.New(serverConfig(cfg, app.Handler()))
			if err != nil {
				app.Close()
				return err
			}

			gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
				Timeout: cfg.Server.ShutdownTimeout,
				Logger:  logger,
			})
			gs.RegisterHook("websocket", func(context.Context) error {
				app.ws.Shutdown()
				return nil
			})
			gs.RegisterHook("storage", func(context.Context) error {
				return app.Close()
			})

			printBanner(cmd, cfg, watchMode)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return gs.Run(gctx)
			})
			g.Go(func() error {
				app.simulator.Run(gctx)
				return nil
			})
			if watchMode {
				g.Go(func() error {
					return app.watchScenes(gctx)
				})
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.ErrOrStderr(), "Goodbye!")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Listen port (default: server.port)")
	cmd.Flags().StringVar(&host, "host", "localhost", "Listen host (default: server.host)")
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Reconvert scenes when they change")

	return cmd
}

// serveApp holds the components behind the HTTP server
type serveApp struct {
	cfg       *config.Config
	logger    *zap.Logger
	api       *api.API
	ws        *websocket.Server
	simulator *telemetry.Simulator
	cache     cache.Cache
	history   *history.Store
}

// newServeApp wires the cache, history, telemetry and API from cfg. The
// websocket hub runs until ctx is done or Close is called.
func newServeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*serveApp, error) {
	app := &serveApp{cfg: cfg, logger: logger}

	c, err := cache.New(cache.Options{
		Backend:  cfg.Cache.Backend,
		TTL:      cfg.Cache.TTL,
		MaxBytes: cfg.Cache.MaxBytes(),
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
	})
	if err != nil {
		return nil, err
	}
	app.cache = c

	if cfg.History.Enabled() {
		store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.history = store
		if err := store.Migrate(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.ws = websocket.NewServer(ctx, &websocket.Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Logger:          logger,
	})
	app.simulator = telemetry.NewSimulator(app.ws.Hub, cfg.Telemetry.Interval, logger)
	app.ws.Hub.OnConnect(app.simulator.OnConnect)
	app.ws.Start()

	deps := api.Deps{
		Pipeline:  pipeline.New(converter.New(cfg.Converter.Binary, cfg.Converter.Timeout, logger), logger),
		Cache:     app.cache,
		Telemetry: app.simulator,
		Events:    app.ws.Hub,
		Websocket: app.ws.Handler(),
		Logger:    logger,
	}
	if app.history != nil {
		deps.History = app.history
	}

	app.api = api.New(api.Options{
		ScenesDir:      cfg.Storage.ScenesDir,
		OutputDir:      cfg.Storage.OutputDir,
		StaticDir:      cfg.Server.StaticDir,
		Format:         cfg.Converter.Format,
		CacheTTL:       cfg.Cache.TTL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxConversions: int64(cfg.Converter.Concurrency),
		Profiling:      cfg.Server.Profiling,
	}, deps)

	app.registerScenes()
	return app, nil
}

// Handler returns the HTTP handler
func (a *serveApp) Handler() http.Handler {
	return a.api.Routes()
}

// registerScenes gives every scene already on disk a telemetry feed, so
// viewers opening a previously converted model see data before any new
// conversion
func (a *serveApp) registerScenes() {
	paths, err := filepath.Glob(filepath.Join(a.cfg.Storage.ScenesDir, "*.usda"))
	if err != nil {
		return
	}

	extractor := metadata.NewExtractor(a.logger)
	registered := 0
	for _, path := range paths {
		source, err := os.ReadFile(path)
		if err != nil {
			a.logger.Warn("scene not registered", zap.String("scene", path), zap.Error(err))
			continue
		}
		registered += a.simulator.Register(extractor.Extract(string(source)))
	}
	if registered > 0 {
		a.logger.Info("telemetry entities registered", zap.Int("entities", registered), zap.Int("scenes", len(paths)))
	}
}

// watchScenes reconverts scenes through the API, so results reach the
// cache, the history and connected viewers
func (a *serveApp) watchScenes(ctx context.Context) error {
	fw, err := watch.NewFileWatcher(watch.Config{
		Dir:    a.cfg.Storage.ScenesDir,
		Logger: a.logger,
	}, func(ctx context.Context, files []string) error {
		var errs []error
		for _, file := range files {
			if _, err := a.api.Convert(ctx, filepath.Base(file), a.cfg.Converter.Format); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", file, err))
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return err
	}
	return fw.Run(ctx)
}

// Close releases the cache and the history database
func (a *serveApp) Close() error {
	var errs []error
	if sr, ok := a.cache.(cache.StatsReporter); ok {
		st := sr.Stats()
		a.logger.Info("model cache",
			zap.Int("entries", st.Entries),
			zap.String("size", humanize.Bytes(uint64(st.Bytes))),
			zap.Uint64("hits", st.Hits),
			zap.Uint64("misses", st.Misses),
		)
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	return errors.Join(errs...)
}

func serverConfig(cfg *config.Config, handler http.Handler) *server.Config {
	sc := server.DefaultConfig(handler)
	sc.Address = cfg.Server.Addr()
	return sc
}

func printBanner(cmd *cobra.Command, cfg *config.Config, watching bool) {
	w := cmd.ErrOrStderr()
	banner := color.New(color.FgCyan, color.Bold)

	fmt.Fprintln(w)
	banner.Fprintln(w, "usdbridge")
	fmt.Fprintf(w, "   Viewer:    http://%s/\n", cfg.Server.Addr())
	fmt.Fprintf(w, "   API:       http://%s/api/scenes\n", cfg.Server.Addr())
	fmt.Fprintf(w, "   Telemetry: ws://%s/ws/telemetry\n", cfg.Server.Addr())
	fmt.Fprintf(w, "   Scenes:    %s\n", cfg.Storage.ScenesDir)
	if watching {
		fmt.Fprintf(w, "   Watching:  %s\n", cfg.Storage.ScenesDir)
	}
	if cfg.Server.Profiling {
		fmt.Fprintf(w, "   Profiling: http://%s/debug/pprof/\n", cfg.Server.Addr())
	}
	fmt.Fprintln(w)
	color.New(color.FgYellow).Fprintln(w, "Press Ctrl+C to stop")
	fmt.Fprintln(w)
}
