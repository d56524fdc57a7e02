// Package banjo implements the adapter's runtime: sessions, the two child-
// agent bridges, the engine dispatcher, the permission rendezvous, the
// auto-continue controller and the top-level ACP request handler.
package banjo

import (
	"context"
	"encoding/json"
)

// Engine names the child CLI a bridge hosts.
type Engine string

const (
	EngineClaude Engine = "claude"
	EngineCodex  Engine = "codex"
)

// PermissionMode is one of the per-session permission postures.
type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
	ModeDontAsk           PermissionMode = "dontAsk"
	ModePlan              PermissionMode = "plan"
)

// claudeModels and codexModels constrain the free-form model string per
// engine.
var claudeModels = map[string]bool{"sonnet": true, "opus": true, "haiku": true}
var codexModels = map[string]bool{"o3": true, "o4-mini": true, "gpt-4.1": true}

// ValidModel reports whether model is in the allowed set for engine. An
// empty model is always valid (engine default).
func ValidModel(engine Engine, model string) bool {
	if model == "" {
		return true
	}
	switch engine {
	case EngineClaude:
		return claudeModels[model]
	case EngineCodex:
		return codexModels[model]
	default:
		return false
	}
}

// StartOptions freezes the configuration a bridge is launched with. A
// running bridge is only ever valid for the configuration it was started
// under; any change to these fields requires a restart.
type StartOptions struct {
	WorkingDir     string
	Model          string
	PermissionMode PermissionMode
	ResumeID       string // opaque per-engine child session id, for unstable_resumeSession
	SocketPath     string // Claude hook socket path; empty for Codex
}

// Equal reports whether two StartOptions would produce an equivalent
// running bridge (ignoring ResumeID and SocketPath, which do not require a
// restart on their own).
func (o StartOptions) Equal(other StartOptions) bool {
	return o.WorkingDir == other.WorkingDir &&
		o.Model == other.Model &&
		o.PermissionMode == other.PermissionMode
}

// EventKind discriminates the events a Bridge emits from NextEvent.
type EventKind string

const (
	EventTextChunk      EventKind = "text_chunk"
	EventThoughtChunk   EventKind = "thought_chunk"
	EventToolCall       EventKind = "tool_call"
	EventToolCallUpdate EventKind = "tool_call_update"
	EventPlan           EventKind = "plan"
	EventModelUpdate    EventKind = "model_update"
	EventAuthRequired   EventKind = "auth_required"
	EventRefusal        EventKind = "refusal"
	EventTerminal       EventKind = "terminal"
)

// ToolCallInfo describes a tool invocation as announced or updated by a
// child agent.
type ToolCallInfo struct {
	ToolCallID string
	Title      string
	Kind       string
	Status     string
	RawInput   any
	RawOutput  any
	IsError    bool
}

// Event is one parsed child-agent occurrence, translated into the
// engine-neutral shape the session-update emitter consumes.
type Event struct {
	Kind EventKind

	Text     string // EventTextChunk / EventThoughtChunk
	ToolCall *ToolCallInfo
	Plan     []PlanStep
	ModelID  string // EventModelUpdate

	// EventTerminal
	StopReason   StopReason
	TerminalText string // user-facing error text, if any
}

// PlanStep is one entry of an agent-reported plan.
type PlanStep struct {
	Content  string
	Status   string
	Priority string
}

// StopReason mirrors acp.StopReason without importing the wire package
// from the runtime core, keeping the bridge/dispatcher layer decoupled
// from wire concerns until the emitter translates it.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopCancelled       StopReason = "cancelled"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopAuthRequired    StopReason = "auth_required"
	StopRefusal         StopReason = "refusal"
)

// Bridge is the shared contract both concrete child-agent bridges
// implement.
type Bridge interface {
	// Start launches the child process under the given options.
	Start(ctx context.Context, opts StartOptions) error
	// SendPrompt writes one user turn to the child's input.
	SendPrompt(ctx context.Context, blocks []PromptBlock) error
	// Interrupt asks the running turn to stop (SIGINT then SIGTERM grace
	// for Claude; a cancellation notification for Codex).
	Interrupt(ctx context.Context) error
	// Stop tears the bridge down: it asks the child to exit (SIGTERM for
	// Claude; a shutdown notification, then SIGTERM after a grace period,
	// for Codex), sends SIGKILL if the child outlives the grace period, and
	// reaps it. The child's stdin is not closed first.
	Stop(ctx context.Context) error
	// IsAlive reports whether the child process is still running.
	IsAlive() bool
	// NextEvent blocks for the next parsed child event, or returns
	// (Event{Kind: EventTerminal}, nil) once the turn has concluded, or an
	// error if the bridge failed unrecoverably.
	NextEvent(ctx context.Context) (Event, error)
	// ChildSessionID returns the child's own session/thread id, valid
	// after the first successful turn, for resume.
	ChildSessionID() string
}

// PromptBlock is the bridge-facing projection of an ACP content block: a
// resolved, self-contained piece of prompt content (text always; images/
// audio/resources carry their raw payload already decoded from base64
// where the child protocol wants raw bytes).
type PromptBlock struct {
	Type     string
	Text     string
	Data     []byte
	MimeType string
	URI      string
}

// ToolExecutionSettled reports whether a tool-call status represents a
// terminal state.
func ToolExecutionSettled(status string) bool {
	return status == "completed" || status == "failed"
}

// ApprovalDecision is one of the Codex in-band approval verdicts.
type ApprovalDecision string

const (
	ApprovalAccept           ApprovalDecision = "accept"
	ApprovalAcceptForSession ApprovalDecision = "acceptForSession"
	ApprovalAcceptWithAmend  ApprovalDecision = "acceptWithExecpolicyAmendment"
	ApprovalDecline          ApprovalDecision = "decline"
	ApprovalCancel           ApprovalDecision = "cancel"
)

// ApprovalRequest is a child-initiated request to run a command or apply a
// patch, requiring the ACP client's sign-off before the bridge replies.
type ApprovalRequest struct {
	CorrelationID string // opaque id the bridge must echo back in its reply
	Kind          string // "exec" or "patch"
	ToolCallID    string
	Summary       string // human-readable description (command line or patch title)
	RawParams     any
}

// ApprovalResolver is consulted by a bridge whenever the child asks for
// permission to act. It blocks until a decision is available (from
// auto-approve policy or a round trip to the ACP client) or ctx is done.
type ApprovalResolver func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)

// marshalPreview renders an arbitrary tool input/output for diagnostics
// without failing the caller on a marshal error.
func marshalPreview(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
