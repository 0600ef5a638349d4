package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/toyz/waypoint/internal/config"
	"github.com/toyz/waypoint/internal/demo"
	"github.com/toyz/waypoint/internal/logging"
	"github.com/toyz/waypoint/internal/server"
	"github.com/toyz/waypoint/pkg/waypoint"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		driver string
		port   int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo notes app",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Server.Driver = driver
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			warnInsecureSecret(cmd.ErrOrStderr(), cfg, opts.verbose)

			app := newServeApp(cfg, cmd.OutOrStdout())
			if err := app.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			sig := <-app.Wait()
			writeLine(cmd.OutOrStdout(), "received %s, shutting down", sig.Signal)

			stopCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stop()
			return app.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVarP(&driver, "driver", "d", "", fmt.Sprintf("host router %v", config.Drivers))
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// newServeApp wires config, logger, redis, the demo app and its server
// into an fx application whose lifecycle owns the listener.
func newServeApp(cfg *config.Config, out io.Writer, extra ...fx.Option) *fx.App {
	options := []fx.Option{
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			func(c *config.Config) (*zap.Logger, error) { return logging.New(c.Log) },
			newRedisClient,
			func(c *config.Config, logger *zap.Logger, client redis.UniversalClient) (*waypoint.App, error) {
				return demo.NewApp(demo.Options{Config: c, Logger: logger, Redis: client})
			},
			func(c *config.Config, app *waypoint.App, logger *zap.Logger) (server.Server, error) {
				return server.New(c.Server.Driver, app, server.Options{MaxBodyBytes: c.App.MaxBodyBytes, Logger: logger})
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, s server.Server, c *config.Config, logger *zap.Logger, client redis.UniversalClient) {
			registerLifecycle(lc, s, c, logger, client, out)
		}),
	}
	return fx.New(append(options, extra...)...)
}

func registerLifecycle(lc fx.Lifecycle, s server.Server, cfg *config.Config, logger *zap.Logger, client redis.UniversalClient, out io.Writer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if client != nil {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis unavailable at %s: %w", cfg.Redis.Addr, err)
				}
			}
			addr, err := server.Start(s, cfg.Server.Addr(), logger)
			if err != nil {
				return err
			}
			writeLine(out, "waypoint %s: %s listening on http://%s", Version, s.Name(), addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := s.Stop(ctx)
			if client != nil {
				_ = client.Close()
			}
			_ = logger.Sync()
			return err
		},
	})
}

// newRedisClient returns nil when no redis address is configured.
func newRedisClient(cfg *config.Config) redis.UniversalClient {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
