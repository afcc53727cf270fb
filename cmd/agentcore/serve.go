package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/vc-agent/core/internal/control"
	"github.com/vc-agent/core/internal/wsfanout"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control server and event WebSocket fan-out",
	Long: `serve starts two long-running listeners:

  - a Unix-domain control socket accepting emergency_stop commands
  - an HTTP server upgrading /events to a WebSocket that streams
    every Event Bus event to connected clients

It runs until interrupted with Ctrl+C.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8642", "address the events WebSocket server listens on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	stack, err := buildEngineStack(cfg)
	if err != nil {
		return err
	}

	ctrlServer, err := control.NewServer(cfg.SocketPath, stack.bus)
	if err != nil {
		return fmt.Errorf("create control server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrlServer.Start(ctx); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	defer ctrlServer.Stop()

	fanout := wsfanout.New(stack.bus)
	defer fanout.Close()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fanout.Add(uuid.New().String(), conn)
	})

	httpServer := &http.Server{Addr: serveAddr, Handler: mux}
	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s Control socket listening at %s\n", green("✓"), cyan(ctrlServer.SocketPath()))
	fmt.Printf("%s Events WebSocket listening at %s/events\n", green("✓"), cyan(serveAddr))
	fmt.Printf("  Press Ctrl+C to stop\n\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-serveErrCh:
		fmt.Fprintf(os.Stderr, "events server error: %v\n", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: events server shutdown: %v\n", err)
	}

	fmt.Printf("%s Stopped\n", green("✓"))
	return nil
}
