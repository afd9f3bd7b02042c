package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"slidecast/config"
)

func newPersonasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List narration personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, personas, err := loadApp()
			if err != nil {
				return err
			}
			printPersonas(cmd.OutOrStdout(), personas, cfg.DefaultPersona)
			return nil
		},
	}
}

func printPersonas(w io.Writer, personas *config.Personas, defaultID string) {
	for _, p := range personas.List {
		marker := " "
		if p.ID == defaultID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-12s %-20s voice=%s openai_voice=%s\n", marker, p.ID, p.Name, p.Voice, p.OpenAIVoice)
		if p.Description != "" {
			fmt.Fprintf(w, "  %s\n", p.Description)
		}
	}
}
