package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kernos-ai/kernos/internal/config"
	store "github.com/kernos-ai/kernos/internal/config/store"
	"github.com/kernos-ai/kernos/internal/constants"
	"github.com/kernos-ai/kernos/internal/host"
	"github.com/kernos-ai/kernos/internal/kernelspec"
	"github.com/kernos-ai/kernos/internal/protocol"
	"github.com/kernos-ai/kernos/internal/schema"
)

// newRunCommand executes a script in a fresh kernel and exits.
func newRunCommand() *cobra.Command {
	var kernelName string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run [code]",
		Short: "Execute code in a fresh kernel session",
		Long: `Run spawns a kernel, executes the given code and prints the results.
Code is read from the argument, or from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args, kernelName, timeout, false)
		},
	}

	cmd.Flags().StringVar(&kernelName, "kernel", "", "Registered kernelspec to run against (default: built-in js)")
	cmd.Flags().DurationVar(&timeout, "timeout", constants.KernelTaskTimeout, "Task deadline")
	return cmd
}

// newEvalCommand evaluates one expression in a fresh kernel and exits.
func newEvalCommand() *cobra.Command {
	var kernelName string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate an expression in a fresh kernel session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args, kernelName, timeout, true)
		},
	}

	cmd.Flags().StringVar(&kernelName, "kernel", "", "Registered kernelspec to run against (default: built-in js)")
	cmd.Flags().DurationVar(&timeout, "timeout", constants.KernelTaskTimeout, "Task deadline")
	return cmd
}

func runOnce(cmd *cobra.Command, args []string, kernelName string, timeout time.Duration, eval bool) error {
	formatter := newOutputFormatter(cmd)

	source, err := readSource(args)
	if err != nil {
		return formatter.Error("Failed to read code", err)
	}
	if strings.TrimSpace(source) == "" {
		return formatter.Error("No code to run", nil)
	}

	spec, err := resolveRunSpec(cmd.Context(), kernelName)
	if err != nil {
		return formatter.Error("Failed to resolve kernel", err)
	}

	paths, err := config.EnsureInstanceDirs(instanceName)
	if err != nil {
		return formatter.Error("Failed to prepare instance", err)
	}

	manager := host.NewManager(host.WithRunDir(paths.RunDir))
	defer manager.Shutdown(context.Background())

	session, err := manager.Spawn(cmd.Context(), spec)
	if err != nil {
		return formatter.Error("Failed to start kernel", err)
	}

	task := protocol.Exec(source)
	if eval {
		// An expression is one line on the wire; strip the trailing
		// newline that piped input usually carries.
		task = protocol.Eval(strings.TrimRight(source, "\r\n"))
	}

	result, err := manager.Submit(cmd.Context(), session.ID, task, timeout)
	if err != nil {
		return formatter.Error("Task failed", err)
	}

	return printTaskResult(formatter, result)
}

// resolveRunSpec maps a kernelspec name to a spawn spec. With no name the
// built-in JavaScript kernel is launched through this same binary.
func resolveRunSpec(ctx context.Context, kernelName string) (host.SpawnSpec, error) {
	if kernelName == "" {
		exe, err := os.Executable()
		if err != nil {
			return host.SpawnSpec{}, fmt.Errorf("resolve executable: %w", err)
		}
		return host.SpawnSpec{Kernel: "js", Command: exe, Args: []string{"kernel"}}, nil
	}

	st, err := store.Open(store.Options{InstanceName: instanceName, ReadOnly: true})
	if err != nil {
		return host.SpawnSpec{}, err
	}
	defer st.Close()

	ks, err := st.GetKernelspec(ctx, kernelName)
	if err != nil {
		return host.SpawnSpec{}, err
	}
	return host.SpawnSpec{
		Kernel:  ks.Name,
		Command: ks.Command,
		Args:    ks.Args,
		Env:     kernelspec.Manifest{Env: ks.Env}.EnvSlice(),
	}, nil
}

func printTaskResult(formatter *OutputFormatter, result *host.TaskResult) error {
	if formatter.jsonMode {
		return formatter.Print(map[string]any{
			"values":   result.Values,
			"messages": result.Messages,
		})
	}

	for _, msg := range result.Messages {
		fmt.Fprintln(os.Stderr, formatMessage(msg))
	}
	for _, value := range result.Values {
		fmt.Println(string(value))
	}
	if hasErrorMessage(result.Messages) {
		return fmt.Errorf("task reported errors")
	}
	return nil
}

func formatMessage(msg schema.ExecutionMessage) string {
	if msg.ErrorType != "" {
		return fmt.Sprintf("[%s] %s: %s", msg.Level, msg.ErrorType, msg.Message)
	}
	return fmt.Sprintf("[%s] %s", msg.Level, msg.Message)
}

func hasErrorMessage(messages []schema.ExecutionMessage) bool {
	for _, msg := range messages {
		if msg.Level == schema.LevelError {
			return true
		}
	}
	return false
}
