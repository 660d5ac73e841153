package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kernos-ai/kernos/internal/config"
	store "github.com/kernos-ai/kernos/internal/config/store"
	"github.com/kernos-ai/kernos/internal/constants"
	"github.com/kernos-ai/kernos/internal/eventbus"
	"github.com/kernos-ai/kernos/internal/host"
	"github.com/kernos-ai/kernos/internal/server"
)

// newServeCommand starts the gateway: kernel sessions over HTTP and
// WebSocket, backed by the instance's kernelspec registry.
func newServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve kernel sessions over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := config.EnsureInstanceDirs(instanceName)
			if err != nil {
				return fmt.Errorf("prepare instance %q: %w", instanceName, err)
			}

			st, err := store.Open(store.Options{InstanceName: instanceName})
			if err != nil {
				return fmt.Errorf("open instance store: %w", err)
			}
			defer st.Close()

			bus := eventbus.New()
			defer bus.Shutdown()

			manager := host.NewManager(
				host.WithBus(bus),
				host.WithRecorder(st),
				host.WithRunDir(paths.RunDir),
			)

			gateway := server.NewGateway(manager,
				server.WithSpecStore(st),
				server.WithBus(bus),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := gateway.Start(ctx, listenAddr); err != nil {
				return fmt.Errorf("start gateway: %w", err)
			}
			log.Printf("[Kernos] gateway listening on %s (instance=%s)", gateway.Addr(), instanceName)

			<-ctx.Done()
			log.Printf("[Kernos] shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GatewayShutdownTimeout)
			defer cancel()
			manager.Shutdown(shutdownCtx)
			return gateway.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8750", "Address to listen on")
	return cmd
}
