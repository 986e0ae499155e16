package main

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dkoval/scriptbox/config"
	"github.com/dkoval/scriptbox/coordinator"
	"github.com/dkoval/scriptbox/logger"
	"github.com/dkoval/scriptbox/mcpserver"
	"github.com/dkoval/scriptbox/sandbox"
	"github.com/dkoval/scriptbox/server"
	"github.com/dkoval/scriptbox/validator"
)

func main() {
	// Worker mode first, before any server initialization: a worker process
	// reads one request from stdin, executes it under resource limits and
	// exits.
	if sandbox.MaybeWorkerInit() {
		return
	}

	app := fx.New(
		fx.Provide(
			config.New,

			logger.NewFromConfig,

			func(cfg *config.Config) *validator.Validator {
				return validator.New(&cfg.Sandbox)
			},

			coordinator.New,

			server.New,
			mcpserver.New,
		),

		fx.Invoke(run),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

// run starts the transport selected by configuration.
func run(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, httpSrv *server.Server, mcpSrv *mcpserver.MCPServer) {
	switch cfg.Server.Transport {
	case "http":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("http server stopped", zap.Error(err))
					}
				}()
				return nil
			},
			OnStop: httpSrv.Shutdown,
		})
	case "mcp-stdio":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := mcpSrv.ServeStdio(); err != nil {
						log.Error("mcp stdio server stopped", zap.Error(err))
					}
				}()
				return nil
			},
		})
	case "mcp-http":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := mcpSrv.ServeHTTP(); err != nil {
						log.Error("mcp http server stopped", zap.Error(err))
					}
				}()
				return nil
			},
		})
	default:
		// Config validation guarantees one of the cases above.
		log.Fatal("unsupported transport", zap.String("transport", cfg.Server.Transport))
	}
}
