package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"stories/api"
	"stories/feeds"
	"stories/models"
)

func showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a single story with its author",
		ArgsUsage: "<story-id>",
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			if ctx.NArg() != 1 {
				return errors.New("expected exactly one story id")
			}
			id := models.StoryID(ctx.Args().First())

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			client := newClient(cfg)

			story, err := client.FetchStory(ctx.Context, id)
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("story %s not found", id)
				}
				return err
			}

			presented := models.PresentedStory{Story: *story, UserName: feeds.UnknownUserName}
			user, err := client.FetchUser(ctx.Context, story.AuthorID)
			switch {
			case err == nil:
				presented.UserName = user.DisplayName
				presented.UserAvatar = user.AvatarURL
			case api.IsNotFound(err):
				log.WithField("user", story.AuthorID).Warn("Story author not found")
			default:
				return err
			}

			out, err := json.MarshalIndent(presented, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, string(out))
			return nil
		},
	}
}
