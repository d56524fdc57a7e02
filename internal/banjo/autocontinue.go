package banjo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// autoContinueGrace bounds how long the task-oracle subprocess may run
// before the controller gives up and treats the turn as finished.
const autoContinueGrace = 15 * time.Second

// defaultAutoContinueBudget is the minimum time that must elapse since a
// session's last auto-continue before the oracle is consulted again.
const defaultAutoContinueBudget = 30 * time.Second

// AutoContinueController queues a continuation prompt when a turn stops
// with max_turn_requests and an external task oracle reports unfinished
// work. Without a configured oracle command the controller is inert:
// every NextPrompt call reports no continuation.
//
// Grounded on cmd/loop.go's --done/--done-file external completion check:
// the same "ask an external process, not the model itself, whether we're
// done" shape, inverted here to ask what remains rather than whether to
// stop, and pinned to the engine the turn was already running under so a
// continuation never silently switches agents mid-task.
type AutoContinueController struct {
	oracleCommand string        // shell command; stdout is a JSON array of pending tasks
	budget        time.Duration // minimum time between auto-continues, per session

	mu      sync.Mutex
	lastRun map[string]time.Time // sessionID -> time of its last auto-continue
}

// NewAutoContinueController builds a controller around oracleCommand. An
// empty oracleCommand disables auto-continue entirely. budget <= 0 uses
// defaultAutoContinueBudget.
func NewAutoContinueController(oracleCommand string, budget time.Duration) *AutoContinueController {
	if budget <= 0 {
		budget = defaultAutoContinueBudget
	}
	return &AutoContinueController{
		oracleCommand: oracleCommand,
		budget:        budget,
		lastRun:       make(map[string]time.Time),
	}
}

// NextPrompt consults the task oracle and returns the next prompt to send
// if work remains, pinned to the same engine s is already running. It is
// called from each session's own turn-ending goroutine, so lastRun (shared
// across every session on the connection) is mutex-guarded rather than a
// plain map.
func (c *AutoContinueController) NextPrompt(ctx context.Context, s *Session) ([]PromptBlock, bool) {
	if c.oracleCommand == "" {
		return nil, false
	}

	c.mu.Lock()
	last, ran := c.lastRun[s.ID]
	c.mu.Unlock()
	if ran && time.Since(last) < c.budget {
		return nil, false
	}

	runCtx, cancel := context.WithTimeout(ctx, autoContinueGrace)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", c.oracleCommand)
	cmd.Dir = s.Cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return nil, false
	}

	tasks, ok := parseOracleTasks(out.Bytes())
	if !ok || len(tasks) == 0 {
		return nil, false
	}

	c.mu.Lock()
	c.lastRun[s.ID] = time.Now()
	c.mu.Unlock()

	text := fmt.Sprintf("Continue with the next pending tasks:\n\n- %s", strings.Join(tasks, "\n- "))
	return []PromptBlock{{Type: "text", Text: text}}, true
}

// parseOracleTasks decodes the oracle's stdout as a JSON array of task
// strings. Any other shape (malformed JSON, an object, a scalar) is
// treated as "no tasks" rather than an error: an oracle that doesn't speak
// the expected shape is the same as one with nothing pending.
func parseOracleTasks(stdout []byte) ([]string, bool) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, true
	}
	var tasks []string
	if err := json.Unmarshal(trimmed, &tasks); err != nil {
		return nil, false
	}
	return tasks, true
}

// Reset clears a session's auto-continue timer, e.g. on a fresh session/new.
func (c *AutoContinueController) Reset(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastRun, sessionID)
}
