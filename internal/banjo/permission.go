package banjo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/banjo-acp/internal/acp"
)

// permissionTimeout bounds how long a forwarded session/request_permission
// round trip may take before the bridge gives up and declines: a hung
// client must not wedge a session forever.
const permissionTimeout = 5 * time.Minute

// safeTools never require a client round trip: they are read-only file
// inspection, listing, search, todo-list bookkeeping, and subagent-task
// dispatch. Grounded on internal/tools/approval.go's allowlist idea,
// covering the tool names Claude Code and Codex actually emit for each
// category the safe set names.
var safeTools = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"ls":           true,
	"NotebookRead": true,
	"TodoRead":     true,
	"TodoWrite":    true,
	"Task":         true,
}

// languageServerToolPrefix matches the MCP tool names Claude Code's
// bundled language-server integration exposes (e.g.
// "mcp__language-server__hover"): read-only code-intelligence queries, so
// they fall under the same safe set as Read/Glob/Grep.
const languageServerToolPrefix = "mcp__language-server__"

// RequestPermissionFunc forwards a permission request to the ACP client
// (a session/request_permission round trip) and returns the option the
// client picked, or an error if the round trip itself failed.
type RequestPermissionFunc func(ctx context.Context, sessionID, toolCallID, title, kind string, rawInput any) (optionID string, err error)

// PermissionBroker is the single correlation point for both bridges'
// approval requests: Claude's out-of-band hook socket and Codex's in-band
// JSON-RPC approval methods both funnel through Resolve.
//
// Grounded on other_examples/4b47c7d7...socket_handler.go's
// register/respond/timeout correlation table, and on
// internal/tools/approval.go's always-allow cache semantics, scoped here
// per session rather than per process: the adapter keeps no durable store
// of approvals across restarts, so the cache only needs to survive one
// session's lifetime.
type PermissionBroker struct {
	mu      sync.Mutex
	always  map[string]bool // cacheKey -> allowed, set by allow_always
	forward RequestPermissionFunc
}

// NewPermissionBroker constructs a broker that forwards unresolved requests
// via forward.
func NewPermissionBroker(forward RequestPermissionFunc) *PermissionBroker {
	return &PermissionBroker{always: make(map[string]bool), forward: forward}
}

func cacheKey(toolName, input string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Resolve decides a single approval request: the session's permission mode
// may auto-decide it outright; otherwise it checks the always-allow cache,
// then falls back to a client round trip. cancelSignal, when non-nil, is the
// owning turn's cancellation channel (Session.CancelSignal): if it closes
// before the client answers, the round trip is abandoned and the request
// resolves as declined with a cancelled reason, per the cancellation
// deadline a parked permission must honor.
func (p *PermissionBroker) Resolve(ctx context.Context, sessionID string, mode PermissionMode, toolName, previewInput string, req ApprovalRequest, cancelSignal <-chan struct{}) (ApprovalDecision, error) {
	if decision, ok := autoApprove(mode, toolName); ok {
		return decision, nil
	}

	key := cacheKey(toolName, previewInput)
	p.mu.Lock()
	allowed := p.always[key]
	p.mu.Unlock()
	if allowed {
		return ApprovalAccept, nil
	}

	ctx, cancel := context.WithTimeout(ctx, permissionTimeout)
	defer cancel()

	if cancelSignal != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-cancelSignal:
				cancel()
			case <-done:
			}
		}()
	}

	optionID, err := p.forward(ctx, sessionID, req.ToolCallID, req.Summary, req.Kind, req.RawParams)
	if err != nil {
		if cancelSignal != nil {
			select {
			case <-cancelSignal:
				return ApprovalCancel, nil
			default:
			}
		}
		return ApprovalDecline, fmt.Errorf("permission broker: forward: %w", err)
	}

	decision := decisionFromOption(optionID)
	if optionID == acp.OptionAllowAlways {
		p.mu.Lock()
		p.always[key] = true
		p.mu.Unlock()
	}
	return decision, nil
}

func decisionFromOption(optionID string) ApprovalDecision {
	switch optionID {
	case acp.OptionAllowOnce, acp.OptionAllowAlways:
		return ApprovalAccept
	default:
		return ApprovalDecline
	}
}

// autoApprove implements the permission-mode bypass rules: bypassPermissions
// accepts everything, acceptEdits accepts file-editing tools outright, and
// any mode accepts the static safe-tool allowlist.
func autoApprove(mode PermissionMode, toolName string) (ApprovalDecision, bool) {
	if safeTools[toolName] || strings.HasPrefix(toolName, languageServerToolPrefix) {
		return ApprovalAccept, true
	}
	switch mode {
	case ModeBypassPermissions, ModeDontAsk:
		return ApprovalAccept, true
	case ModeAcceptEdits:
		if isEditTool(toolName) {
			return ApprovalAccept, true
		}
	}
	return "", false
}

func isEditTool(toolName string) bool {
	lower := strings.ToLower(toolName)
	return strings.Contains(lower, "edit") || strings.Contains(lower, "write") || lower == "patch"
}

// NewCorrelationID generates an opaque id for a permission round trip,
// distinct from any id the child protocol itself assigns.
func NewCorrelationID() string {
	return uuid.NewString()
}
