package banjo

import (
	"context"
	"encoding/json"
	"testing"
)

func TestCodexHandleNotificationAgentMessageDelta(t *testing.T) {
	b := NewCodexBridge("")
	params, _ := json.Marshal(map[string]string{"delta": "partial answer"})
	go func() {
		terminal := b.handleNotification("item/agentMessage/delta", params)
		if terminal {
			t.Errorf("delta should not be terminal")
		}
	}()
	ev := <-b.events
	if ev.Kind != EventTextChunk || ev.Text != "partial answer" {
		t.Fatalf("got %+v", ev)
	}
}

func TestCodexHandleNotificationItemStartedCommand(t *testing.T) {
	b := NewCodexBridge("")
	params, _ := json.Marshal(map[string]any{
		"item": map[string]any{"id": "item_1", "type": "commandExecution", "command": "ls -la"},
	})
	go b.handleNotification("item/started", params)
	ev := <-b.events
	if ev.Kind != EventToolCall || ev.ToolCall.ToolCallID != "item_1" || ev.ToolCall.Title != "ls -la" {
		t.Fatalf("got %+v", ev)
	}
}

func TestCodexHandleNotificationItemCompletedSuccess(t *testing.T) {
	b := NewCodexBridge("")
	params, _ := json.Marshal(map[string]any{
		"item": map[string]any{"id": "item_1", "type": "commandExecution", "aggregatedOutput": "ok\n", "exitCode": 0},
	})
	go b.handleNotification("item/completed", params)
	ev := <-b.events
	if ev.Kind != EventToolCallUpdate || ev.ToolCall.Status != "completed" || ev.ToolCall.IsError {
		t.Fatalf("got %+v", ev.ToolCall)
	}
}

func TestCodexHandleNotificationItemCompletedFailure(t *testing.T) {
	b := NewCodexBridge("")
	params, _ := json.Marshal(map[string]any{
		"item": map[string]any{"id": "item_2", "type": "commandExecution", "aggregatedOutput": "boom", "exitCode": 1},
	})
	go b.handleNotification("item/completed", params)
	ev := <-b.events
	if ev.Kind != EventToolCallUpdate || ev.ToolCall.Status != "failed" || !ev.ToolCall.IsError {
		t.Fatalf("got %+v", ev.ToolCall)
	}
}

func TestCodexHandleNotificationTurnCompletedMapsReasons(t *testing.T) {
	tests := []struct {
		reason string
		want   StopReason
	}{
		{"completed", StopEndTurn},
		{"cancelled", StopCancelled},
		{"max_tokens", StopMaxTokens},
		{"max_turns", StopMaxTurnRequests},
		{"refusal", StopRefusal},
	}
	for _, tc := range tests {
		t.Run(tc.reason, func(t *testing.T) {
			b := NewCodexBridge("")
			params, _ := json.Marshal(map[string]string{"reason": tc.reason})
			go func() {
				if !b.handleNotification("turn/completed", params) {
					t.Errorf("turn/completed must be terminal")
				}
			}()
			ev := <-b.events
			if ev.Kind != EventTerminal || ev.StopReason != tc.want {
				t.Fatalf("got %+v, want %v", ev, tc.want)
			}
		})
	}
}

func TestCodexHandleNotificationErrorAuthRequired(t *testing.T) {
	b := NewCodexBridge("")
	params, _ := json.Marshal(map[string]string{"code": "auth_required", "message": "please log in"})
	go b.handleNotification("error", params)
	ev := <-b.events
	if ev.Kind != EventAuthRequired {
		t.Fatalf("got %+v", ev)
	}
}

func TestCodexHandleNotificationUnknownIsIgnored(t *testing.T) {
	b := NewCodexBridge("")
	terminal := b.handleNotification("some/future/event", json.RawMessage(`{}`))
	if terminal {
		t.Fatalf("unknown notifications must not be terminal")
	}
	select {
	case ev := <-b.events:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestCodexHandleChildRequestUsesResolver(t *testing.T) {
	b := NewCodexBridge("")
	var buf fakeWriter
	b.stdin = newBufioWriter(&buf)
	b.alive = true

	var gotReq ApprovalRequest
	b.SetApprovalResolver(func(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
		gotReq = req
		return ApprovalAccept, nil
	})

	params, _ := json.Marshal(map[string]any{"itemId": "item_9", "command": "rm -rf /tmp/x"})
	b.handleChildRequest(context.Background(), 42, "item/commandExecution/approval", params)

	if gotReq.ToolCallID != "item_9" || gotReq.Kind != "exec" || gotReq.Summary != "rm -rf /tmp/x" {
		t.Fatalf("got %+v", gotReq)
	}

	var env codexOutbound
	if err := json.Unmarshal(buf.data, &env); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if env.ID == nil || *env.ID != 42 {
		t.Fatalf("reply id mismatch: %+v", env)
	}
}

func TestCodexHandleChildRequestDeclinesWithoutResolver(t *testing.T) {
	b := NewCodexBridge("")
	var buf fakeWriter
	b.stdin = newBufioWriter(&buf)
	b.alive = true

	params, _ := json.Marshal(map[string]any{"itemId": "item_1", "command": "echo hi"})
	b.handleChildRequest(context.Background(), 1, "item/commandExecution/approval", params)

	var result struct {
		Result struct {
			Decision string `json:"decision"`
		} `json:"result"`
	}
	if err := json.Unmarshal(buf.data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Result.Decision != string(ApprovalDecline) {
		t.Fatalf("got decision %q, want decline", result.Result.Decision)
	}
}
