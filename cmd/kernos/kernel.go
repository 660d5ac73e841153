package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kernos-ai/kernos/internal/kernel"
	"github.com/kernos-ai/kernos/internal/kernel/jskernel"
)

// newKernelCommand runs the built-in JavaScript kernel on stdio. This is
// the process the host spawns; it speaks the framed protocol and is not
// meant to be driven by hand.
func newKernelCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "kernel",
		Short:  "Run the built-in JavaScript kernel over stdio",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eval, err := jskernel.New()
			if err != nil {
				return fmt.Errorf("initialize kernel: %w", err)
			}
			if err := kernel.RestoreFromSnapshotEnv(eval); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			cloner := kernel.NewRespawnCloner(exe, []string{"kernel"}, eval)

			return kernel.New(eval, kernel.WithCloner(cloner)).Run(cmd.Context())
		},
	}
}
