package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"stories/feeds"
)

func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Print the stories feed to the command line",
		Description: `Loads the first page of the feed and then up to --pages more pages,
stopping early when the API has no more pages.

Prints the feed collapsed to one story per author, or every loaded story
with --timeline. Returns each story as a JSON object on a single line. Use a
tool like jq to process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "pages",
				Aliases: []string{"p"},
				Usage:   "Number of pages to load after the first one",
				EnvVars: []string{"STORIES_PAGES"},
				Value:   0,
			},
			&cli.BoolFlag{
				Name:  "timeline",
				Usage: "Print every loaded story instead of one per author",
			},
		},
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			engine, err := newEngine(cfg, newClient(cfg))
			if err != nil {
				return err
			}

			if err := loadPages(ctx, engine, ctx.Int("pages")); err != nil {
				return err
			}

			presented := engine.Presented()
			if ctx.Bool("timeline") {
				presented = engine.Timeline()
			}
			return printLines(ctx.App.Writer, presented)
		},
	}
}

// loadPages runs the initial load and at most extra load more calls.
func loadPages(ctx *cli.Context, engine *feeds.Engine, extra int) error {
	if err := engine.InitialLoad(ctx.Context); err != nil {
		return err
	}

	for i := 0; i < extra && engine.State().HasMore; i++ {
		if err := engine.LoadMore(ctx.Context); err != nil {
			return err
		}
	}

	state := engine.State()
	log.WithFields(log.Fields{
		"page":    state.Page,
		"stories": len(state.Stories),
		"hasMore": state.HasMore,
	}).Info("Feed loaded")
	return nil
}

// printLines writes each value as a single line of JSON
func printLines[T any](w io.Writer, values []T) error {
	for _, v := range values {
		line, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(line)); err != nil {
			return err
		}
	}
	return nil
}
