package banjo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// BridgeFactory constructs a fresh, unstarted Bridge for an engine.
// Overridable in tests to avoid spawning real child processes.
type BridgeFactory func(engine Engine) (Bridge, error)

// DefaultBridgeFactory builds the real Claude/Codex bridges, resolving
// each CLI on PATH.
func DefaultBridgeFactory(engine Engine) (Bridge, error) {
	return NewBridgeFactory("", "")(engine)
}

// NewBridgeFactory builds a BridgeFactory pinned to specific CLI binaries
// (from the acp config section); empty strings fall back to PATH lookup.
func NewBridgeFactory(claudeBin, codexBin string) BridgeFactory {
	return func(engine Engine) (Bridge, error) {
		switch engine {
		case EngineClaude:
			return NewClaudeBridge(claudeBin), nil
		case EngineCodex:
			return NewCodexBridge(codexBin), nil
		default:
			return nil, fmt.Errorf("banjo: unknown engine %q", engine)
		}
	}
}

// Dispatcher owns the live sessions and drives each one's bridge lifecycle
// and turn loop. One Dispatcher serves one ACP connection, which owns
// 1..N sessions, each with exactly one engine.
//
// Grounded on internal/llm/engine.go's single-turn-in-flight discipline
// and recover()-guarded goroutine pattern, generalized here from "one
// provider" to "one bridge per session, of either engine".
type Dispatcher struct {
	mu       sync.Mutex
	sessions map[string]*Session

	bridgeFactory BridgeFactory
	emit          func(sessionID string) *Emitter
	requestPerm   RequestPermissionFunc
	hookSockets   *HookSocketManager
	autoContinue  *AutoContinueController

	lastOpts map[string]StartOptions      // sessionID -> options the running bridge was started with
	brokers  map[string]*PermissionBroker // sessionID -> its permission broker, shared across bridge restarts and engines
}

// NewDispatcher constructs a Dispatcher. emit must return a fresh Emitter
// bound to the given session id; requestPerm forwards permission requests
// to the ACP client.
func NewDispatcher(factory BridgeFactory, emit func(sessionID string) *Emitter, requestPerm RequestPermissionFunc, hooks *HookSocketManager, autoContinue *AutoContinueController) *Dispatcher {
	if factory == nil {
		factory = DefaultBridgeFactory
	}
	return &Dispatcher{
		sessions:      make(map[string]*Session),
		bridgeFactory: factory,
		emit:          emit,
		requestPerm:   requestPerm,
		hookSockets:   hooks,
		autoContinue:  autoContinue,
		lastOpts:      make(map[string]StartOptions),
		brokers:       make(map[string]*PermissionBroker),
	}
}

// EmitUserMessageChunk sends a user_message_chunk session/update for text
// that did not arrive via the client's own session/prompt request, e.g. the
// auto-continue controller's synthesized continuation: the client must see
// it before the fresh turn it precedes starts streaming.
func (d *Dispatcher) EmitUserMessageChunk(sessionID, text string) {
	d.emit(sessionID).EmitUserMessageChunk(text)
}

// brokerFor returns sessionID's PermissionBroker, creating it on first use.
// One broker per session is shared across bridge restarts and between the
// hook-socket path (Claude) and the in-band approval path (Codex), so the
// always-allow cache applies regardless of which engine is running.
func (d *Dispatcher) brokerFor(sessionID string) *PermissionBroker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.brokers[sessionID]
	if !ok {
		b = NewPermissionBroker(d.requestPerm)
		d.brokers[sessionID] = b
	}
	return b
}

// ResolveHookRequest answers one Claude permission-prompt hook connection.
// It implements HookDecisionFunc, translating the hook's tool-call preview
// into an ApprovalRequest and running it through the session's broker.
func (d *Dispatcher) ResolveHookRequest(ctx context.Context, sessionID string, req HookRequest) (HookResponse, error) {
	s, ok := d.Session(sessionID)
	if !ok {
		return HookResponse{Decision: "deny", Reason: "unknown session"}, nil
	}
	decision, err := d.brokerFor(sessionID).Resolve(ctx, sessionID, s.PermissionMode(), req.ToolName, string(req.ToolInput), ApprovalRequest{
		CorrelationID: NewCorrelationID(),
		Kind:          "exec",
		Summary:       req.ToolName,
		RawParams:     req.ToolInput,
	}, s.CancelSignal())
	if err != nil {
		return HookResponse{Decision: "deny", Reason: err.Error()}, nil
	}
	return DecisionToHookResponse(decision), nil
}

func (d *Dispatcher) AddSession(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID] = s
}

func (d *Dispatcher) Session(id string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

func (d *Dispatcher) RemoveSession(id string) {
	d.mu.Lock()
	s, ok := d.sessions[id]
	delete(d.sessions, id)
	delete(d.lastOpts, id)
	delete(d.brokers, id)
	d.mu.Unlock()
	if ok {
		if b := s.Bridge(); b != nil {
			_ = b.Stop(context.Background())
		}
	}
}

// ensureBridge starts the session's bridge if it isn't running, or
// restarts it if the running bridge's configuration no longer matches the
// session's: model/permission-mode/cwd changes require a restart.
func (d *Dispatcher) ensureBridge(ctx context.Context, s *Session) (Bridge, error) {
	resumeID := ""
	if b := s.Bridge(); b != nil {
		resumeID = b.ChildSessionID()
	}

	socketPath := ""
	if s.Engine == EngineClaude && d.hookSockets != nil {
		var err error
		socketPath, err = d.hookSockets.EnsureSocket(s.ID)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: hook socket: %w", err)
		}
	}

	opts := s.StartOptions(socketPath, resumeID)

	d.mu.Lock()
	prevOpts, hadPrev := d.lastOpts[s.ID]
	d.mu.Unlock()

	current := s.Bridge()
	if current != nil && current.IsAlive() && hadPrev && prevOpts.Equal(opts) {
		return current, nil
	}
	if current != nil {
		_ = current.Stop(ctx)
	}

	b, err := d.bridgeFactory(s.Engine)
	if err != nil {
		return nil, err
	}
	if resolver, ok := b.(interface{ SetApprovalResolver(ApprovalResolver) }); ok {
		broker := d.brokerFor(s.ID)
		resolver.SetApprovalResolver(func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
			return broker.Resolve(ctx, s.ID, s.PermissionMode(), req.Kind, req.Summary, req, s.CancelSignal())
		})
	}
	if err := b.Start(ctx, opts); err != nil {
		return nil, fmt.Errorf("dispatcher: start bridge: %w", err)
	}

	s.SetBridge(b)
	d.mu.Lock()
	d.lastOpts[s.ID] = opts
	d.mu.Unlock()
	return b, nil
}

// RunTurn drives one full session/prompt: ensures the bridge is running,
// sends the prompt, and pumps bridge events through the emitter until a
// terminal event arrives. It returns the ACP stop reason for the turn.
//
// recover()-guarded per internal/llm/engine.go's turn goroutine: a panic
// inside event translation must surface as an internal error, not take
// the whole dispatcher down.
func (d *Dispatcher) RunTurn(ctx context.Context, s *Session, prompt []PromptBlock) (reason StopReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher: turn panicked", "session", s.ID, "panic", r)
			err = fmt.Errorf("dispatcher: internal error: %v", r)
			reason = StopEndTurn
		}
	}()

	s.BeginTurn()

	b, startErr := d.ensureBridge(ctx, s)
	if startErr != nil {
		s.FinishTurn(StopEndTurn)
		return "", startErr
	}

	if sendErr := b.SendPrompt(ctx, prompt); sendErr != nil {
		s.FinishTurn(StopEndTurn)
		return "", sendErr
	}

	s.EnterStreaming()
	emitter := d.emit(s.ID)

	for {
		ev, evErr := b.NextEvent(ctx)
		if evErr != nil {
			s.FinishTurn(StopEndTurn)
			return "", evErr
		}

		switch ev.Kind {
		case EventToolCall:
			if ev.ToolCall != nil {
				s.RecordToolCall(ev.ToolCall)
			}
			emitter.Emit(ev)
		case EventToolCallUpdate:
			emitter.Emit(ev)
		case EventAuthRequired:
			return s.FinishTurn(StopAuthRequired), nil
		case EventRefusal:
			return s.FinishTurn(StopRefusal), nil
		case EventTerminal:
			// FinishTurn, not the bridge's own ev.StopReason, has the final
			// say: a cancel that raced the bridge's terminal event always
			// resolves to cancelled, never whatever the child reported.
			reason = s.FinishTurn(ev.StopReason)
			if reason == "" {
				// The child went away without a result and without any reply.
				return "", fmt.Errorf("dispatcher: bridge ended the turn without a result")
			}
			if d.autoContinue != nil && reason == StopMaxTurnRequests {
				if cont, ok := d.autoContinue.NextPrompt(ctx, s); ok {
					s.QueueContinuation(cont)
				}
			}
			return reason, nil
		default:
			emitter.Emit(ev)
		}
	}
}

// Cancel interrupts the session's running turn. Interrupt is best-effort
// and the dispatcher still waits for the bridge's own terminal event to
// resolve the in-flight session/prompt response, which RunTurn's FinishTurn
// always reports as StopCancelled once RequestCancel has fired — so this
// never races RunTurn's own state transitions, and any permission rendezvous
// parked on the turn's CancelSignal unblocks immediately.
func (d *Dispatcher) Cancel(ctx context.Context, s *Session) error {
	if !s.RequestCancel() {
		return nil
	}
	b := s.Bridge()
	if b == nil {
		return nil
	}
	return b.Interrupt(ctx)
}
