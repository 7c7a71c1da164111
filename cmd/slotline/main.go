// Package main provides the CLI entry point for the slotline UDP session server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/slotline/internal/agent"
	"github.com/postalsys/slotline/internal/client"
	"github.com/postalsys/slotline/internal/config"
	"github.com/postalsys/slotline/internal/control"
	"github.com/postalsys/slotline/internal/loadtest"
	"github.com/postalsys/slotline/internal/logging"
	"github.com/postalsys/slotline/internal/protocol"
	"github.com/postalsys/slotline/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "slotline",
		Short: "slotline - connectionless UDP session server",
		Long: `slotline admits UDP clients into a fixed table of slots and routes
their datagrams by traffic class.

Clients identify themselves only by source address. A connection request
binds the address to the lowest free slot; data from unknown addresses
is dropped.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(releaseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle().Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Long:  "Run the setup wizard and write a configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := wizard.New().Run(); err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server",
		Long:  "Start the UDP session server with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			a, err := agent.New(cfg, agent.Options{})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			fmt.Printf("Starting slotline %s...\n", Version)

			if err := a.Start(context.Background()); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}

			for _, l := range a.Listeners() {
				fmt.Printf("Listening on udp://%s\n", l)
			}
			if addr := a.HealthAddress(); addr != "" {
				fmt.Printf("Health endpoint: http://%s/health\n", addr)
			}
			fmt.Printf("Status: running (slots: %d)\n", cfg.Server.MaxClients)

			// Wait for shutdown signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			// Graceful shutdown with timeout
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := a.StopWithContext(ctx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func connectCmd() *cobra.Command {
	var (
		message  string
		reliable bool
		timeout  time.Duration
		attempts int
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "connect <host:port>",
		Short: "Connect to a server as a client",
		Long: `Send connection requests to a server until it accepts or denies.
With --message, send one payload after admission and wait for a reply
(servers running with echo enabled send it back).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if verbose {
				level = "debug"
			}
			logger := logging.NewLogger(level, "text")

			cfg := client.DefaultConfig()
			cfg.Server = args[0]
			cfg.Retry.MaxAttempts = attempts

			c, err := client.Dial(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			err = c.Connect(ctx)
			switch {
			case errors.Is(err, client.ErrDenied):
				fmt.Println(warnStyle().Render("DENIED") + fmt.Sprintf("  %s has no free slot", args[0]))
				return err
			case err != nil:
				return fmt.Errorf("connect %s: %w", args[0], err)
			}

			fmt.Printf("%s  %s from %s (%d attempt(s), %s)\n",
				okStyle().Render("ACCEPTED"), args[0], c.LocalAddr(), c.Attempts(),
				time.Since(start).Round(time.Millisecond))

			if message == "" {
				return nil
			}

			class := protocol.ClassUnreliable
			if reliable {
				class = protocol.ClassReliable
			}
			if err := c.Send(class, []byte(message)); err != nil {
				return err
			}

			h, body, err := c.Receive(ctx)
			if err != nil {
				return fmt.Errorf("no reply: %w", err)
			}
			fmt.Printf("%s  %q\n", dimStyle().Render(h.Class.String()), body)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Payload to send after connecting")
	cmd.Flags().BoolVar(&reliable, "reliable", false, "Send the payload with the reliable traffic class")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 15*time.Second, "Overall timeout")
	cmd.Flags().IntVar(&attempts, "attempts", client.DefaultRetryConfig().MaxAttempts, "Connection attempts (0 = until timeout)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log each attempt")

	return cmd
}

func benchCmd() *cobra.Command {
	var (
		clients  int
		workers  int
		size     int
		duration time.Duration
		reliable bool
	)

	cmd := &cobra.Command{
		Use:   "bench <host:port>",
		Short: "Load test a running server",
		Long: `Open --clients connections at once and report how many were admitted,
then run --workers clients that send --size byte payloads for --duration and
wait for each echo. The echo phase needs a server with echo enabled.

Every admitted client keeps its slot until the server expires it
(server.idle_timeout) or an operator releases it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := client.DefaultConfig()
			cfg.Server = args[0]
			dial := loadtest.ClientDialer(cfg, logging.NopLogger())

			if clients > 0 {
				am, err := loadtest.NewAdmissionTester(clients).Run(cmd.Context(), dial)
				if err != nil {
					return fmt.Errorf("admission test: %w", err)
				}
				printAdmission(os.Stdout, am)
			}

			if workers > 0 {
				class := protocol.ClassUnreliable
				if reliable {
					class = protocol.ClassReliable
				}
				gen := loadtest.NewEchoLoadGenerator(workers, size, duration).WithClass(class)
				em, err := gen.Run(cmd.Context(), dial)
				if err != nil {
					return fmt.Errorf("echo test: %w", err)
				}
				printEcho(os.Stdout, em)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&clients, "clients", 16, "Concurrent connection attempts (0 = skip)")
	cmd.Flags().IntVar(&workers, "workers", 4, "Echo workers (0 = skip)")
	cmd.Flags().IntVar(&size, "size", 512, "Payload size in bytes")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "Echo phase duration")
	cmd.Flags().BoolVar(&reliable, "reliable", false, "Send payloads with the reliable traffic class")

	return cmd
}

func statusCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long:  "Display the status of a running server through its control socket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := control.NewClient(socketPath)
			defer c.Close()

			status, err := c.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("query %s: %w", socketPath, err)
			}

			printStatus(os.Stdout, status, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./slotline.sock", "Path to control socket")

	return cmd
}

func slotsCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List connected clients",
		Long:  "Display every occupied client slot of a running server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := control.NewClient(socketPath)
			defer c.Close()

			slots, err := c.Slots(cmd.Context())
			if err != nil {
				return fmt.Errorf("query %s: %w", socketPath, err)
			}

			printSlots(os.Stdout, slots.Slots, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./slotline.sock", "Path to control socket")

	return cmd
}

func releaseCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "release <slot>",
		Short: "Release a client slot",
		Long:  "Free an occupied slot. The client must send a new connection request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid slot %q", args[0])
			}

			c := control.NewClient(socketPath)
			defer c.Close()

			if _, err := c.Release(cmd.Context(), index); err != nil {
				return fmt.Errorf("release slot %d: %w", index, err)
			}

			fmt.Printf("Slot %d released.\n", index)
			return nil
		},
	}

	cmd.Flags().StringVarP(&socketPath, "socket", "s", "./slotline.sock", "Path to control socket")

	return cmd
}
