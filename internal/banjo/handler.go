package banjo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/samsaffron/banjo-acp/internal/acp"
)

// ClientTransport is the half of the transport the handler needs: sending
// outbound notifications and requests, independent of whether the
// connection is stdio or WebSocket.
type ClientTransport interface {
	Notify(n *acp.Notification) error
	Request(ctx context.Context, req *acp.Request) (*acp.Response, error)
}

// Handler is the top-level JSON-RPC method router for one ACP connection.
// It owns the Dispatcher, translates wire params into banjo-internal
// calls, and answers every request the client sends.
//
// Grounded on cmd/serve.go's route-registration style (one method per
// named handler function, explicit error-to-response mapping) but
// generalized from HTTP handlers to JSON-RPC method dispatch.
type Handler struct {
	transport    ClientTransport
	dispatcher   *Dispatcher
	hookSockets  *HookSocketManager
	initialized  bool
	nextReqID    int64
	fsCaps       acp.FileSystemCapability
	terminalCaps bool
}

// NewHandler constructs a Handler bound to transport and dispatcher.
func NewHandler(transport ClientTransport, dispatcher *Dispatcher, hookSockets *HookSocketManager) *Handler {
	return &Handler{transport: transport, dispatcher: dispatcher, hookSockets: hookSockets}
}

// HandleRequest dispatches one inbound JSON-RPC request to the matching
// method, always returning a non-nil Response (success or error): exactly
// one response per request.
func (h *Handler) HandleRequest(ctx context.Context, req *acp.Request) *acp.Response {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "session/new":
		return h.handleNewSession(ctx, req)
	case "session/prompt":
		return h.handlePrompt(ctx, req)
	case "session/set_mode":
		return h.handleSetMode(req)
	case "session/set_model":
		return h.handleSetModel(req)
	case "session/set_config_option":
		return h.handleSetConfigOption(req)
	case "fs/read_text_file", "fs/write_text_file", "terminal/create", "terminal/output", "terminal/wait_for_exit", "terminal/kill":
		return acp.NewError(req.ID, acp.ErrCodeMethodNotFound, fmt.Sprintf("%s is a client-side method and must not be called on the agent", req.Method), nil)
	default:
		return acp.NewError(req.ID, acp.ErrCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// HandleNotification dispatches one inbound one-way message. Unlike
// requests, a malformed or unknown notification is only logged: the
// protocol has no response to carry an error back.
func (h *Handler) HandleNotification(ctx context.Context, n *acp.Notification) {
	switch n.Method {
	case "session/cancel":
		var params acp.CancelParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			slog.Warn("handler: malformed session/cancel", "error", err)
			return
		}
		s, ok := h.dispatcher.Session(params.SessionID)
		if !ok {
			return
		}
		if err := h.dispatcher.Cancel(ctx, s); err != nil {
			slog.Warn("handler: cancel failed", "session", params.SessionID, "error", err)
		}
	default:
		slog.Debug("handler: ignoring unknown notification", "method", n.Method)
	}
}

func (h *Handler) handleInitialize(req *acp.Request) *acp.Response {
	var params acp.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, "malformed initialize params", nil)
	}
	if params.ProtocolVersion != acp.ProtocolVersion {
		return acp.NewError(req.ID, acp.ErrCodeUnsupportedVer,
			fmt.Sprintf("unsupported protocol version %d, adapter supports %d", params.ProtocolVersion, acp.ProtocolVersion), nil)
	}

	if params.ClientCapabilities != nil {
		h.fsCaps = params.ClientCapabilities.FS
		h.terminalCaps = params.ClientCapabilities.Terminal
	}
	h.initialized = true

	return acp.NewResult(req.ID, acp.InitializeResult{
		ProtocolVersion: acp.ProtocolVersion,
		AgentInfo:       &acp.Implementation{Name: "banjo", Version: "0.1.0"},
		AgentCapabilities: acp.AgentCapabilities{
			LoadSession: true,
			PromptCapabilities: acp.PromptCapabilities{
				Image:           true,
				Audio:           false,
				EmbeddedContext: true,
			},
		},
	})
}

func (h *Handler) handleNewSession(ctx context.Context, req *acp.Request) *acp.Response {
	var params acp.NewSessionParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, "malformed session/new params", nil)
	}
	if params.Cwd == "" {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, "cwd is required", nil)
	}

	engine := Engine(params.Engine)
	if engine == "" {
		engine = EngineClaude
	}
	if engine != EngineClaude && engine != EngineCodex {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, fmt.Sprintf("unknown engine %q", params.Engine), nil)
	}
	if !ValidModel(engine, params.Model) {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, fmt.Sprintf("model %q is not valid for engine %q", params.Model, engine), nil)
	}

	mode := PermissionMode(params.PermissionMode)
	if mode == "" {
		mode = ModeDefault
	}

	sessionID := uuid.NewString()
	s := NewSession(sessionID, engine, params.Cwd, params.Model, mode)
	h.dispatcher.AddSession(s)

	return acp.NewResult(req.ID, acp.NewSessionResult{
		SessionID: sessionID,
		Modes: &acp.SessionModeState{
			CurrentModeID:  string(mode),
			AvailableModes: availableModes(),
		},
		Models: availableModels(engine),
	})
}

func availableModes() []acp.SessionMode {
	return []acp.SessionMode{
		{ID: string(ModeDefault), Name: "Default"},
		{ID: string(ModeAcceptEdits), Name: "Accept Edits"},
		{ID: string(ModeBypassPermissions), Name: "Bypass Permissions"},
		{ID: string(ModePlan), Name: "Plan"},
	}
}

func availableModels(engine Engine) []string {
	switch engine {
	case EngineClaude:
		return []string{"sonnet", "opus", "haiku"}
	case EngineCodex:
		return []string{"o3", "o4-mini", "gpt-4.1"}
	default:
		return nil
	}
}

func (h *Handler) handlePrompt(ctx context.Context, req *acp.Request) *acp.Response {
	var params acp.PromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, "malformed session/prompt params", nil)
	}
	s, ok := h.dispatcher.Session(params.SessionID)
	if !ok {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, fmt.Sprintf("unknown session %q", params.SessionID), nil)
	}
	if s.State() != StateIdle {
		return acp.NewError(req.ID, acp.ErrCodeInvalidRequest, "a prompt is already in flight for this session", nil)
	}

	blocks := toPromptBlocks(params.Prompt)
	reason, err := h.dispatcher.RunTurn(ctx, s, blocks)
	if err != nil {
		return acp.NewError(req.ID, acp.ErrCodeInternalError, err.Error(), nil)
	}

	if cont, queued := s.TakeContinuation(); queued {
		go func() {
			h.dispatcher.EmitUserMessageChunk(s.ID, continuationText(cont))
			if _, err := h.dispatcher.RunTurn(context.Background(), s, cont); err != nil {
				slog.Warn("handler: auto-continue turn failed", "session", s.ID, "error", err)
			}
		}()
	}

	return acp.NewResult(req.ID, acp.PromptResult{StopReason: ToACPStopReason(reason)})
}

// continuationText joins a continuation prompt's text blocks back into the
// single string the user_message_chunk announcing it should carry.
func continuationText(blocks []PromptBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func toPromptBlocks(blocks []acp.ContentBlock) []PromptBlock {
	out := make([]PromptBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case acp.ContentText:
			out = append(out, PromptBlock{Type: "text", Text: b.Text})
		case acp.ContentImage, acp.ContentAudio:
			data, err := base64.StdEncoding.DecodeString(b.Data)
			if err != nil {
				continue
			}
			out = append(out, PromptBlock{Type: b.Type, Data: data, MimeType: b.MimeType})
		case acp.ContentResource, acp.ContentResourceLink:
			out = append(out, PromptBlock{Type: "text", Text: b.Name, URI: b.URI})
		}
	}
	return out
}

func (h *Handler) handleSetMode(req *acp.Request) *acp.Response {
	var params acp.SetModeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, "malformed session/set_mode params", nil)
	}
	s, ok := h.dispatcher.Session(params.SessionID)
	if !ok {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, fmt.Sprintf("unknown session %q", params.SessionID), nil)
	}
	s.SetPermissionMode(PermissionMode(params.ModeID))
	return acp.NewResult(req.ID, struct{}{})
}

func (h *Handler) handleSetModel(req *acp.Request) *acp.Response {
	var params acp.SetModelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, "malformed session/set_model params", nil)
	}
	s, ok := h.dispatcher.Session(params.SessionID)
	if !ok {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, fmt.Sprintf("unknown session %q", params.SessionID), nil)
	}
	if !ValidModel(s.Engine, params.ModelID) {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, fmt.Sprintf("model %q is not valid for engine %q", params.ModelID, s.Engine), nil)
	}
	s.SetModel(params.ModelID)
	return acp.NewResult(req.ID, struct{}{})
}

func (h *Handler) handleSetConfigOption(req *acp.Request) *acp.Response {
	var params acp.SetConfigOptionParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, "malformed session/set_config_option params", nil)
	}
	if _, ok := h.dispatcher.Session(params.SessionID); !ok {
		return acp.NewError(req.ID, acp.ErrCodeInvalidParams, fmt.Sprintf("unknown session %q", params.SessionID), nil)
	}
	// Unrecognized config keys are accepted as no-ops: the wire contract
	// treats this as an extensible bag, not a fixed enum.
	return acp.NewResult(req.ID, struct{}{})
}

// ReadTextFile proxies a child tool's file read through the client: the
// agent issues this request, the client answers it. Callers (child-tool-
// call translation) must check FSCapabilities before calling; ReadTextFile
// itself does not gate on it so it stays usable from tests with a
// synthetic transport.
func (h *Handler) ReadTextFile(ctx context.Context, sessionID, path string, line, limit *int) (string, error) {
	id := h.newRequestID()
	resp, err := h.transport.Request(ctx, acp.NewRequest(id, "fs/read_text_file", acp.ReadTextFileParams{
		SessionID: sessionID, Path: path, Line: line, Limit: limit,
	}))
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	var result acp.ReadTextFileResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

// WriteTextFile proxies a child tool's file write through the client: the
// agent issues this request, the client answers it.
func (h *Handler) WriteTextFile(ctx context.Context, sessionID, path, content string) error {
	id := h.newRequestID()
	resp, err := h.transport.Request(ctx, acp.NewRequest(id, "fs/write_text_file", acp.WriteTextFileParams{
		SessionID: sessionID, Path: path, Content: content,
	}))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// FSCapabilities reports the filesystem passthrough the connected client
// advertised at initialize time.
func (h *Handler) FSCapabilities() acp.FileSystemCapability { return h.fsCaps }

func (h *Handler) newRequestID() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`%d`, atomic.AddInt64(&h.nextReqID, 1)))
}

func decodeResult(result any, out any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// RequestPermission forwards a permission request to the client as a
// session/request_permission call and returns the chosen option id. It
// implements RequestPermissionFunc for wiring into a PermissionBroker.
func (h *Handler) RequestPermission(ctx context.Context, sessionID, toolCallID, title, kind string, rawInput any) (string, error) {
	req := acp.NewRequest(h.newRequestID(), "session/request_permission", acp.RequestPermissionParams{
		SessionID: sessionID,
		ToolCall:  acp.RequestPermissionTool{ToolCallID: toolCallID, Title: title, Kind: kind, RawInput: rawInput},
		Options: []acp.PermissionOption{
			{OptionID: acp.OptionAllowOnce, Name: "Allow once", Kind: "allow_once"},
			{OptionID: acp.OptionAllowAlways, Name: "Allow always", Kind: "allow_always"},
			{OptionID: acp.OptionRejectOnce, Name: "Reject once", Kind: "reject_once"},
			{OptionID: acp.OptionRejectAlways, Name: "Reject always", Kind: "reject_always"},
		},
	})

	resp, err := h.transport.Request(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}

	var result acp.RequestPermissionResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return "", err
	}
	if result.Outcome.Outcome == "cancelled" {
		return acp.OptionRejectOnce, nil
	}
	return result.Outcome.OptionID, nil
}
