package banjo

import "testing"

func TestSessionLegalTransitions(t *testing.T) {
	s := NewSession("sess_1", EngineClaude, "/tmp/proj", "sonnet", ModeDefault)
	if s.State() != StateIdle {
		t.Fatalf("new session should start Idle, got %v", s.State())
	}
	s.TransitionTo(StatePrompting)
	s.TransitionTo(StateStreaming)
	s.TransitionTo(StateCompleting)
	s.TransitionTo(StateIdle)
	if s.State() != StateIdle {
		t.Fatalf("expected Idle after full cycle, got %v", s.State())
	}
}

func TestSessionCancellingFromPromptingOrStreaming(t *testing.T) {
	s := NewSession("sess_1", EngineClaude, "/tmp/proj", "", ModeDefault)
	s.TransitionTo(StatePrompting)
	s.TransitionTo(StateCancelling)
	s.TransitionTo(StateIdle)
	if s.State() != StateIdle {
		t.Fatalf("got %v", s.State())
	}
}

func TestSessionIllegalTransitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on illegal transition")
		}
	}()
	s := NewSession("sess_1", EngineClaude, "/tmp/proj", "", ModeDefault)
	s.TransitionTo(StateStreaming) // Idle -> Streaming is not legal
}

func TestSessionToolCallRoundTrip(t *testing.T) {
	s := NewSession("sess_1", EngineClaude, "/tmp/proj", "", ModeDefault)
	info := &ToolCallInfo{ToolCallID: "tu_1", Title: "Read", Status: "pending"}
	s.RecordToolCall(info)

	got, ok := s.ToolCall("tu_1")
	if !ok || got.Title != "Read" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	if _, ok := s.ToolCall("missing"); ok {
		t.Fatalf("expected miss for unknown id")
	}
}

func TestSessionContinuationQueue(t *testing.T) {
	s := NewSession("sess_1", EngineClaude, "/tmp/proj", "", ModeDefault)
	if _, ok := s.TakeContinuation(); ok {
		t.Fatalf("expected no continuation queued initially")
	}

	blocks := []PromptBlock{{Type: "text", Text: "keep going"}}
	s.QueueContinuation(blocks)

	got, ok := s.TakeContinuation()
	if !ok || len(got) != 1 || got[0].Text != "keep going" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if _, ok := s.TakeContinuation(); ok {
		t.Fatalf("continuation should be cleared after Take")
	}
}

func TestSessionStartOptionsReflectsConfig(t *testing.T) {
	s := NewSession("sess_1", EngineClaude, "/tmp/proj", "opus", ModeBypassPermissions)
	opts := s.StartOptions("/tmp/sock", "resume-1")
	if opts.WorkingDir != "/tmp/proj" || opts.Model != "opus" || opts.PermissionMode != ModeBypassPermissions {
		t.Fatalf("got %+v", opts)
	}
	if opts.SocketPath != "/tmp/sock" || opts.ResumeID != "resume-1" {
		t.Fatalf("got %+v", opts)
	}
}
