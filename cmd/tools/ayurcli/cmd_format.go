package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ayurscan/backend/internal/model/chat"
	"github.com/ayurscan/backend/internal/render"
)

// formatCmd prints how a chat reply value is displayed.
var formatCmd = &cobra.Command{
	Use:   "format [json]",
	Short: "Format a chat reply value (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw string
		if len(args) == 1 {
			raw = args[0]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			raw = string(data)
		}

		out, err := formatValue(raw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func formatValue(raw string) (string, error) {
	var content chat.Content
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &content); err != nil {
		return "", fmt.Errorf("invalid JSON value: %w", err)
	}
	return render.FormatReply(content), nil
}
