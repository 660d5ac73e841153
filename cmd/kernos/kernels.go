package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	store "github.com/kernos-ai/kernos/internal/config/store"
	"github.com/kernos-ai/kernos/internal/kernelspec"
)

// newKernelsCommand manages the kernelspec registry of the instance.
func newKernelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "Manage registered kernelspecs",
	}
	cmd.AddCommand(
		newKernelsListCommand(),
		newKernelsRegisterCommand(),
		newKernelsShowCommand(),
		newKernelsRemoveCommand(),
	)
	return cmd
}

func openInstanceStore(readOnly bool) (*store.Store, error) {
	return store.Open(store.Options{InstanceName: instanceName, ReadOnly: readOnly})
}

func newKernelsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered kernelspecs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)

			st, err := openInstanceStore(true)
			if err != nil {
				return formatter.Error("Failed to open instance store", err)
			}
			defer st.Close()

			specs, err := st.ListKernelspecs(cmd.Context())
			if err != nil {
				return formatter.Error("Failed to list kernelspecs", err)
			}

			if formatter.jsonMode {
				out := make([]map[string]any, 0, len(specs))
				for _, ks := range specs {
					out = append(out, map[string]any{
						"name":     ks.Name,
						"language": ks.Language,
						"command":  ks.Command,
						"args":     ks.Args,
						"env":      ks.Env,
					})
				}
				return formatter.Print(out)
			}

			if len(specs) == 0 {
				fmt.Println("No kernelspecs registered.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLANGUAGE\tCOMMAND")
			for _, ks := range specs {
				command := ks.Command
				if len(ks.Args) > 0 {
					command += " " + strings.Join(ks.Args, " ")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", ks.Name, ks.Language, command)
			}
			return w.Flush()
		},
	}
}

func newKernelsRegisterCommand() *cobra.Command {
	var (
		manifestPath string
		name         string
		language     string
		command      string
		cmdArgs      []string
		envPairs     []string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or update a kernelspec",
		Long: `Register adds a kernelspec to the instance registry, either from a
YAML manifest file or from the --name/--language/--command flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)

			spec, err := buildKernelspec(manifestPath, name, language, command, cmdArgs, envPairs)
			if err != nil {
				return formatter.Error("Invalid kernelspec", err)
			}

			st, err := openInstanceStore(false)
			if err != nil {
				return formatter.Error("Failed to open instance store", err)
			}
			defer st.Close()

			if err := st.UpsertKernelspec(cmd.Context(), spec); err != nil {
				return formatter.Error("Failed to register kernelspec", err)
			}
			return formatter.Success(fmt.Sprintf("Kernelspec %q registered", spec.Name),
				map[string]interface{}{"name": spec.Name})
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to a YAML kernelspec manifest")
	cmd.Flags().StringVar(&name, "name", "", "Kernelspec name")
	cmd.Flags().StringVar(&language, "language", "", "Guest language name")
	cmd.Flags().StringVar(&command, "command", "", "Kernel adapter command")
	cmd.Flags().StringArrayVar(&cmdArgs, "arg", nil, "Command argument (repeatable)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	return cmd
}

// buildKernelspec assembles the store record from a manifest file or the
// individual flags. The two modes are mutually exclusive.
func buildKernelspec(manifestPath, name, language, command string, args, envPairs []string) (store.Kernelspec, error) {
	if manifestPath != "" {
		if name != "" || language != "" || command != "" || len(args) > 0 || len(envPairs) > 0 {
			return store.Kernelspec{}, fmt.Errorf("--manifest cannot be combined with field flags")
		}
		m, raw, err := kernelspec.Load(manifestPath)
		if err != nil {
			return store.Kernelspec{}, err
		}
		return store.Kernelspec{
			Name:     m.Name,
			Language: m.Language,
			Command:  m.Command,
			Args:     m.Args,
			Env:      m.Env,
			Manifest: string(raw),
		}, nil
	}

	env, err := parseKeyValuePairs(envPairs)
	if err != nil {
		return store.Kernelspec{}, err
	}
	m := kernelspec.Manifest{
		Name:     name,
		Language: language,
		Command:  command,
		Args:     args,
		Env:      env,
	}
	if err := m.Validate(); err != nil {
		return store.Kernelspec{}, err
	}
	return store.Kernelspec{
		Name:     m.Name,
		Language: m.Language,
		Command:  m.Command,
		Args:     m.Args,
		Env:      m.Env,
	}, nil
}

func newKernelsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one kernelspec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)

			st, err := openInstanceStore(true)
			if err != nil {
				return formatter.Error("Failed to open instance store", err)
			}
			defer st.Close()

			ks, err := st.GetKernelspec(cmd.Context(), args[0])
			if err != nil {
				if store.IsNotFound(err) {
					return formatter.Error(fmt.Sprintf("Kernelspec %q not found", args[0]), nil)
				}
				return formatter.Error("Failed to load kernelspec", err)
			}

			if formatter.jsonMode {
				return formatter.Print(map[string]any{
					"name":     ks.Name,
					"language": ks.Language,
					"command":  ks.Command,
					"args":     ks.Args,
					"env":      ks.Env,
				})
			}

			fmt.Printf("Name:     %s\n", ks.Name)
			fmt.Printf("Language: %s\n", ks.Language)
			fmt.Printf("Command:  %s\n", ks.Command)
			if len(ks.Args) > 0 {
				fmt.Printf("Args:     %s\n", strings.Join(ks.Args, " "))
			}
			for _, pair := range (kernelspec.Manifest{Env: ks.Env}).EnvSlice() {
				fmt.Printf("Env:      %s\n", pair)
			}
			return nil
		},
	}
}

func newKernelsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a kernelspec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)

			st, err := openInstanceStore(false)
			if err != nil {
				return formatter.Error("Failed to open instance store", err)
			}
			defer st.Close()

			if err := st.DeleteKernelspec(cmd.Context(), args[0]); err != nil {
				if store.IsNotFound(err) {
					return formatter.Error(fmt.Sprintf("Kernelspec %q not found", args[0]), nil)
				}
				return formatter.Error("Failed to remove kernelspec", err)
			}
			return formatter.Success(fmt.Sprintf("Kernelspec %q removed", args[0]),
				map[string]interface{}{"name": args[0]})
		},
	}
}
