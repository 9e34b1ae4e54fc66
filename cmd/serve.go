package cmd

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"stories/feeds"
	"stories/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve feed sessions over HTTP",
		Description: `Starts an HTTP server that keeps one feed per client session.

Clients create a session, page through it and read the collapsed feed as
JSON. Prometheus metrics are served on /metrics.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address to listen on",
				EnvVars: []string{"STORIES_LISTEN"},
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Usage:   "Comma separated origins allowed to call the API",
				EnvVars: []string{"STORIES_CORS_ORIGINS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if ctx.IsSet("listen") {
				cfg.Server.Listen = ctx.String("listen")
			}
			if ctx.IsSet("cors-origins") {
				cfg.Server.CORSOrigins = ctx.String("cors-origins")
			}

			client := newClient(cfg)
			// fail fast on bad feed settings instead of on the first session
			if _, err := newEngine(cfg, client); err != nil {
				return err
			}

			sessions := server.NewSessions(func() (*feeds.Engine, error) {
				return newEngine(cfg, client)
			})
			app := server.Server(&server.ServerConfig{
				Sessions:    sessions,
				CORSOrigins: cfg.Server.CORSOrigins,
			})

			// Graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			listenDone := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)

			go func() {
				defer wg.Done()
				select {
				case <-sigChan:
				case <-ctx.Context.Done():
				case <-listenDone:
					// Listen failed before any shutdown was requested
					sessions.Shutdown()
					return
				}
				log.Info("Shutting down server")
				sessions.Shutdown()
				if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
					log.WithField("error", err).Error("Error shutting down server")
				}
			}()

			log.WithFields(log.Fields{
				"listen": cfg.Server.Listen,
				"api":    cfg.API.BaseURL,
			}).Info("Starting server")
			err = app.Listen(cfg.Server.Listen)
			close(listenDone)
			wg.Wait()
			if err != nil {
				return err
			}

			log.Info("Server stopped")
			return nil
		},
	}
}
