package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/samsaffron/banjo-acp/internal/acp"
	"github.com/samsaffron/banjo-acp/internal/banjo"
	"github.com/samsaffron/banjo-acp/internal/config"
	"github.com/samsaffron/banjo-acp/internal/signal"
	"github.com/samsaffron/banjo-acp/internal/transport"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run as a single stdio ACP agent",
	Long: `Run banjo as an ACP agent speaking newline-delimited JSON-RPC over
stdin/stdout, for editors that spawn the adapter as a single child process
per connection rather than dialing a daemon.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext()
	defer stop()

	conn := banjo.NewConn(transport.NewLineReader(os.Stdin), transport.NewLineWriter(os.Stdout))
	_, err = newConnectionHandler(conn, cfg)
	if err != nil {
		return err
	}

	if err := conn.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent: serve: %w", err)
	}
	return nil
}

// newConnectionHandler wires one Conn up to a fresh Dispatcher/Handler pair.
//
// Dispatcher needs a RequestPermissionFunc that forwards to Handler's own
// RequestPermission method, and a HookSocketManager whose resolver calls
// back into Dispatcher.ResolveHookRequest, but Handler's constructor needs
// an already-built Dispatcher, and Dispatcher's constructor needs an
// already-built HookSocketManager. Both cycles are broken the same way: a
// pointer variable is declared before the object it will point to exists,
// captured by a closure, and assigned once construction completes. The
// closures are never invoked until Conn.Serve starts reading, by which
// point every variable below is assigned.
func newConnectionHandler(conn *banjo.Conn, cfg *config.Config) (*banjo.Handler, error) {
	var dispatcher *banjo.Dispatcher
	var handler *banjo.Handler

	hooks := banjo.NewHookSocketManager(os.TempDir(), func(ctx context.Context, sessionID string, req banjo.HookRequest) (banjo.HookResponse, error) {
		return dispatcher.ResolveHookRequest(ctx, sessionID, req)
	})

	requestPerm := func(ctx context.Context, sessionID, toolCallID, title, kind string, rawInput any) (string, error) {
		return handler.RequestPermission(ctx, sessionID, toolCallID, title, kind, rawInput)
	}

	emit := func(sessionID string) *banjo.Emitter {
		return banjo.NewEmitter(sessionID, func(n *acp.Notification) {
			_ = conn.Notify(n)
		})
	}

	autoContinue := banjo.NewAutoContinueController(cfg.Acp.TaskOracleCommand, 0)
	factory := banjo.NewBridgeFactory(cfg.Acp.ClaudeBin, cfg.Acp.CodexBin)

	dispatcher = banjo.NewDispatcher(factory, emit, requestPerm, hooks, autoContinue)
	handler = banjo.NewHandler(conn, dispatcher, hooks)
	conn.SetHandler(handler)

	return handler, nil
}
