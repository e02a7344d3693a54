package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/shipvox/shipvox-backend/internal/calls"
)

const logRingSize = 20

// Session tracks live progress of the current (or last) dispatch session. It
// implements calls.Observer so the dispatcher feeds it directly.
type Session struct {
	mu sync.Mutex

	active    bool
	startedAt time.Time
	total     int
	completed int
	placed    int
	failed    int
	skipped   int
	current   string

	logs []string
	now  func() time.Time
}

// SessionSnapshot is the serializable view of a session.
type SessionSnapshot struct {
	Active    bool       `json:"active"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Placed    int        `json:"placed"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
	Current   string     `json:"current_awb,omitempty"`
	Logs      []string   `json:"recent_logs"`
}

// NewSession builds an empty session tracker.
func NewSession() *Session {
	return &Session{now: func() time.Time { return time.Now().UTC() }}
}

func (s *Session) SessionStarted(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.startedAt = s.now()
	s.total = total
	s.completed = 0
	s.placed = 0
	s.failed = 0
	s.skipped = 0
	s.current = ""
	s.appendLog(fmt.Sprintf("session started with %d candidates", total))
}

func (s *Session) CallStarted(candidate calls.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = candidate.AWB
	s.appendLog(fmt.Sprintf("calling %s (%s)", candidate.AWB, candidate.Reason))
}

func (s *Session) CallPlaced(candidate calls.Candidate, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed++
	s.completed++
	s.appendLog(fmt.Sprintf("placed %s call %s", candidate.AWB, callID))
}

func (s *Session) CallSkipped(candidate calls.Candidate, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
	s.completed++
	s.appendLog(fmt.Sprintf("skipped %s: %s", candidate.AWB, reason))
}

func (s *Session) CallFailed(candidate calls.Candidate, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.completed++
	s.appendLog(fmt.Sprintf("failed %s: %v", candidate.AWB, err))
}

func (s *Session) SessionFinished(summary calls.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.current = ""
	s.appendLog(fmt.Sprintf("session finished: %d placed, %d skipped, %d failed",
		summary.Placed, summary.Skipped, summary.Failed))
}

// Note records a scheduler-level event in the same log ring the dispatch
// progress uses, so the status endpoint shows one merged timeline.
func (s *Session) Note(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLog(fmt.Sprintf(format, args...))
}

// Snapshot copies the current state for the status endpoint.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := SessionSnapshot{
		Active:    s.active,
		Total:     s.total,
		Completed: s.completed,
		Placed:    s.placed,
		Failed:    s.failed,
		Skipped:   s.skipped,
		Current:   s.current,
		Logs:      append([]string(nil), s.logs...),
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		snapshot.StartedAt = &started
	}
	return snapshot
}

// appendLog keeps the last logRingSize entries; callers hold the mutex.
func (s *Session) appendLog(line string) {
	stamped := s.now().Format("15:04:05") + " " + line
	s.logs = append(s.logs, stamped)
	if len(s.logs) > logRingSize {
		s.logs = s.logs[len(s.logs)-logRingSize:]
	}
}
