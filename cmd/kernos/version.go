package main

import (
	"github.com/spf13/cobra"

	kernosversion "github.com/kernos-ai/kernos/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the kernos version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			v := kernosversion.FormatVersion(kernosversion.String())
			if formatter.jsonMode {
				return formatter.Print(map[string]any{"version": v})
			}
			return formatter.Print(v)
		},
	}
}
