package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/tntapple219/discord-ai-bot-template/bot"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the bot and connects to the discord gateway",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		b, err := bot.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		if err = b.Run(ctx); err != nil {
			log.Fatalf("error running bot: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
