package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ent0n29/gaia/internal/app"
	"github.com/ent0n29/gaia/internal/tui"
)

var exportDir string

func init() {
	rootCmd.Flags().StringVar(&exportDir, "export-dir", ".", "directory for exported transcripts")
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	client, err := app.BuildClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	model := tui.New(client.Arbiter, client.Persona, tui.Options{ExportDir: exportDir})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}
