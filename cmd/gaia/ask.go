package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/gaia/internal/app"
	"github.com/ent0n29/gaia/internal/chat"
)

var askExport string

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one chat message and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askExport, "export", "", "also write the conversation transcript to this file")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	client, err := app.BuildClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	client.Arbiter.ToggleChat(true)
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CompletionTimeout)
	defer cancel()
	sendErr := client.Arbiter.SendMessage(ctx, args[0])

	msgs := client.Chat.Messages()
	if len(msgs) > 0 && msgs[len(msgs)-1].Role == chat.RoleAssistant {
		fmt.Fprintln(cmd.OutOrStdout(), msgs[len(msgs)-1].Content)
	}

	if askExport != "" {
		f, err := os.Create(askExport)
		if err != nil {
			return errors.Join(sendErr, err)
		}
		err = client.Arbiter.ExportChat(f)
		return errors.Join(sendErr, err, f.Close())
	}
	return sendErr
}
