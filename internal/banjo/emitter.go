package banjo

import "github.com/samsaffron/banjo-acp/internal/acp"

// Emitter translates bridge.Event values into ACP session/update
// notifications, one notification per text-chunk event: consecutive
// text-chunk events are not merged, so notification volume follows the
// child's own flush granularity.
type Emitter struct {
	sessionID string
	send      func(*acp.Notification)
}

// NewEmitter returns an Emitter that calls send for every session/update
// notification it produces.
func NewEmitter(sessionID string, send func(*acp.Notification)) *Emitter {
	return &Emitter{sessionID: sessionID, send: send}
}

// Emit translates one bridge Event into zero or one session/update
// notification. Terminal events produce no notification; the dispatcher
// reads the StopReason directly off the event to answer the in-flight
// session/prompt request.
func (e *Emitter) Emit(ev Event) {
	switch ev.Kind {
	case EventTextChunk:
		if ev.Text == "" {
			return
		}
		e.update(acp.AgentMessageChunk(ev.Text))

	case EventThoughtChunk:
		if ev.Text == "" {
			return
		}
		e.update(acp.AgentThoughtChunk(ev.Text))

	case EventToolCall:
		if ev.ToolCall == nil {
			return
		}
		e.update(acp.SessionUpdate{
			SessionUpdate: acp.UpdateToolCall,
			ToolCallID:    ev.ToolCall.ToolCallID,
			Title:         ev.ToolCall.Title,
			Kind:          ev.ToolCall.Kind,
			Status:        nonEmptyOr(ev.ToolCall.Status, acp.ToolCallPending),
			RawInput:      ev.ToolCall.RawInput,
		})

	case EventToolCallUpdate:
		if ev.ToolCall == nil {
			return
		}
		e.update(acp.SessionUpdate{
			SessionUpdate: acp.UpdateToolCallUpdate,
			ToolCallID:    ev.ToolCall.ToolCallID,
			Status:        ev.ToolCall.Status,
			RawOutput:     ev.ToolCall.RawOutput,
		})

	case EventPlan:
		entries := make([]acp.PlanEntry, len(ev.Plan))
		for i, step := range ev.Plan {
			entries[i] = acp.PlanEntry{Content: step.Content, Status: step.Status, Priority: step.Priority}
		}
		e.update(acp.SessionUpdate{SessionUpdate: acp.UpdatePlan, Entries: entries})

	case EventModelUpdate:
		if ev.ModelID == "" {
			return
		}
		e.update(acp.SessionUpdate{SessionUpdate: acp.UpdateCurrentModelUpdate, ModelID: ev.ModelID})

	case EventAuthRequired, EventRefusal, EventTerminal:
		// Terminal classes carry no session/update payload of their own;
		// the dispatcher surfaces them as the session/prompt stopReason.
	}
}

// EmitUserMessageChunk sends a user_message_chunk update carrying text that
// didn't originate from the ACP client's own session/prompt request — the
// auto-continue controller's synthesized continuation, in particular, which
// the client must see echoed back before the next turn starts streaming.
func (e *Emitter) EmitUserMessageChunk(text string) {
	if text == "" {
		return
	}
	e.update(acp.UserMessageChunk(text))
}

func (e *Emitter) update(u acp.SessionUpdate) {
	e.send(acp.NewNotification("session/update", acp.SessionUpdateNotification{
		SessionID: e.sessionID,
		Update:    u,
	}))
}

func nonEmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ToACPStopReason translates a bridge StopReason to its ACP wire
// equivalent. The two enumerations are kept deliberately separate (see
// bridge.go) so this is the single seam where the mapping happens.
func ToACPStopReason(r StopReason) acp.StopReason {
	switch r {
	case StopEndTurn:
		return acp.StopEndTurn
	case StopCancelled:
		return acp.StopCancelled
	case StopMaxTokens:
		return acp.StopMaxTokens
	case StopMaxTurnRequests:
		return acp.StopMaxTurnRequests
	case StopAuthRequired:
		return acp.StopAuthRequired
	case StopRefusal:
		return acp.StopRefusal
	default:
		return acp.StopEndTurn
	}
}
