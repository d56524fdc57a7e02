package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/samsaffron/banjo-acp/internal/banjo"
	"github.com/samsaffron/banjo-acp/internal/config"
	"github.com/samsaffron/banjo-acp/internal/signal"
	"github.com/samsaffron/banjo-acp/internal/transport"
	"github.com/spf13/cobra"
)

var (
	daemonHost             string
	daemonPort             int
	daemonHandshakeTimeout time.Duration
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run a WebSocket ACP server",
	Long: `Run banjo as a long-lived WebSocket server at ws://<host>:<port>/acp,
accepting one ACP connection per upgraded client and writing a lockfile
editors can discover.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonHost, "host", "127.0.0.1", "Bind host")
	daemonCmd.Flags().IntVar(&daemonPort, "port", 0, "Bind port (overrides acp.daemon.port when non-zero; an ephemeral port is picked when both are 0)")
	daemonCmd.Flags().DurationVar(&daemonHandshakeTimeout, "handshake-timeout", 10*time.Second, "Max time allowed for the WebSocket upgrade handshake")
}

// daemonAllowedPaths names the two WebSocket roles this daemon reserves:
// /acp for the ACP role this adapter implements, /editor reserved for a
// future editor-bridge role. Only the /acp handler calls Upgrade; /editor
// has its own handler that answers 501 Not Implemented rather than a
// generic 404.
var daemonAllowedPaths = map[string]bool{
	"/acp":    true,
	"/editor": true,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	port := daemonPort
	if port == 0 {
		port = cfg.Acp.Daemon.Port
	}

	ctx, stop := signal.NotifyContext()
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/acp", func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.Upgrade(w, r, daemonAllowedPaths, daemonHandshakeTimeout)
		if err != nil {
			slog.Warn("daemon: upgrade failed", "error", err)
			return
		}
		// ctx (not r.Context()) outlives this handler: r.Context() is
		// canceled once this func returns, which happens immediately after
		// Hijack, but the connection itself must run for the daemon's
		// lifetime.
		go serveWSConnection(ctx, ws, cfg)
	})
	mux.HandleFunc("/editor", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "editor-bridge role not implemented", http.StatusNotImplemented)
	})

	addr := fmt.Sprintf("%s:%d", daemonHost, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", addr, err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port

	var workspaceDirs []string
	if cwd, err := os.Getwd(); err == nil {
		workspaceDirs = []string{cwd}
	}
	lockPath, err := banjo.WriteLockFile(actualPort, workspaceDirs)
	if err != nil {
		slog.Warn("daemon: write lockfile", "error", err)
	} else {
		defer func() {
			if err := banjo.RemoveLockFile(actualPort); err != nil {
				slog.Warn("daemon: remove lockfile", "error", err)
			}
		}()
		slog.Info("daemon: lockfile written", "path", lockPath, "port", actualPort)
	}

	srv := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	slog.Info("daemon: listening", "addr", addr, "port", actualPort)

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("daemon: serve: %w", err)
		}
		return nil
	}
}

// serveWSConnection runs one upgraded WebSocket client as its own
// independent ACP connection, each with its own Dispatcher, Handler, and
// HookSocketManager: a connection owns its sessions, per client, not per
// daemon process.
func serveWSConnection(ctx context.Context, ws *transport.Conn, cfg *config.Config) {
	defer ws.Close()

	conn := banjo.NewConn(banjo.NewWSFrame(ws), banjo.NewWSFrame(ws))
	if _, err := newConnectionHandler(conn, cfg); err != nil {
		slog.Warn("daemon: connection setup failed", "error", err)
		return
	}

	if err := conn.Serve(ctx); err != nil {
		slog.Debug("daemon: connection closed", "error", err)
	}
}
