package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"stories/api"
	"stories/config"
	"stories/feeds"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "stories",
		Usage: "Browse and serve a paginated stories feed",
		Description: `Reads stories and users from a json-server style stories API and
		keeps a bounded, paginated feed in memory. Stories are collapsed to one
		per author, preferring stories the viewer has not seen yet.

		Flags can generally be set via environment variables, or in a .env file
		in the working directory, e.g.:

		--api-url => STORIES_API_URL=http://localhost:3000
		--config => STORIES_CONFIG=stories.toml
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration file",
				EnvVars: []string{"STORIES_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the stories API",
				EnvVars: []string{"STORIES_API_URL"},
			},
			&cli.IntFlag{
				Name:    "page-size",
				Usage:   "Stories requested per page",
				EnvVars: []string{"STORIES_PAGE_SIZE"},
			},
			&cli.IntFlag{
				Name:    "max-items",
				Usage:   "Maximum number of stories kept in memory",
				EnvVars: []string{"STORIES_MAX_ITEMS"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"STORIES_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			feedCmd(),
			showCmd(),
			serveCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	// A missing .env file is fine, flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithField("error", err).Warn("Could not read .env file")
	}

	if err := RootApp().Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides on top of it.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	if ctx.IsSet("api-url") {
		cfg.API.BaseURL = ctx.String("api-url")
	}
	if ctx.IsSet("page-size") {
		cfg.Feed.PageSize = ctx.Int("page-size")
	}
	if ctx.IsSet("max-items") {
		cfg.Feed.MaxItemsInMemory = ctx.Int("max-items")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"api":      cfg.API.BaseURL,
		"pageSize": cfg.Feed.PageSize,
		"maxItems": cfg.Feed.MaxItemsInMemory,
	}).Debug("Configuration loaded")
	return cfg, nil
}

func newClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.API.BaseURL,
		api.WithUserAgent(cfg.API.UserAgent),
		api.WithTimeout(cfg.API.Timeout.Duration),
		api.WithRetry(cfg.API.MaxRetries, cfg.API.RetryInterval.Duration),
	)
}

func newEngine(cfg *config.Config, source feeds.Source) (*feeds.Engine, error) {
	engine, err := feeds.NewEngine(source, feeds.Options{
		PageSize:         cfg.Feed.PageSize,
		MaxItemsInMemory: cfg.Feed.MaxItemsInMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating feed: %w", err)
	}
	return engine, nil
}
