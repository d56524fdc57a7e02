package banjo

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHookSocketManagerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	var gotReq HookRequest
	mgr := NewHookSocketManager(dir, func(ctx context.Context, sessionID string, req HookRequest) (HookResponse, error) {
		gotReq = req
		return HookResponse{Decision: "allow"}, nil
	})

	path, err := mgr.EnsureSocket("sess_1")
	if err != nil {
		t.Fatalf("EnsureSocket: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("socket path %q not under %q", path, dir)
	}

	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := HookRequest{ToolName: "Bash", ToolInput: json.RawMessage(`{"command":"ls"}`)}
	data, _ := json.Marshal(req)
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		t.Fatalf("no response line: %v", sc.Err())
	}
	var resp HookResponse
	if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Decision != "allow" {
		t.Fatalf("got decision %q", resp.Decision)
	}
	if gotReq.ToolName != "Bash" {
		t.Fatalf("resolver saw %+v", gotReq)
	}

	mgr.CloseSocket("sess_1")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected socket file removed, stat err = %v", err)
	}
}

func TestHookSocketManagerEnsureIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	mgr := NewHookSocketManager(dir, func(ctx context.Context, sessionID string, req HookRequest) (HookResponse, error) {
		return HookResponse{Decision: "allow"}, nil
	})
	p1, err := mgr.EnsureSocket("sess_1")
	if err != nil {
		t.Fatalf("EnsureSocket: %v", err)
	}
	p2, err := mgr.EnsureSocket("sess_1")
	if err != nil {
		t.Fatalf("EnsureSocket: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("expected same socket path, got %q and %q", p1, p2)
	}
	mgr.CloseSocket("sess_1")
}

func TestHookSocketManagerMalformedRequestDenies(t *testing.T) {
	dir := t.TempDir()
	mgr := NewHookSocketManager(dir, func(ctx context.Context, sessionID string, req HookRequest) (HookResponse, error) {
		t.Fatalf("resolver should not be called for malformed input")
		return HookResponse{}, nil
	})
	path, err := mgr.EnsureSocket("sess_1")
	if err != nil {
		t.Fatalf("EnsureSocket: %v", err)
	}
	defer mgr.CloseSocket("sess_1")

	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		t.Fatalf("no response: %v", sc.Err())
	}
	var resp HookResponse
	if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Decision != "deny" {
		t.Fatalf("got %q, want deny", resp.Decision)
	}
}

func TestDecisionToHookResponse(t *testing.T) {
	tests := []struct {
		decision ApprovalDecision
		want     string
	}{
		{ApprovalAccept, "allow"},
		{ApprovalAcceptForSession, "allow"},
		{ApprovalAcceptWithAmend, "allow"},
		{ApprovalDecline, "deny"},
		{ApprovalCancel, "deny"},
	}
	for _, tc := range tests {
		got := DecisionToHookResponse(tc.decision)
		if got.Decision != tc.want {
			t.Fatalf("decision %v: got %q, want %q", tc.decision, got.Decision, tc.want)
		}
	}
}
