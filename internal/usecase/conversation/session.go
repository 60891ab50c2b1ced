// Package conversation runs two-agent conversations in batches of rounds and
// keeps the per-session state that survives between batches.
package conversation

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"chatsim/internal/domain"
)

// Defaults fill the fields a start request leaves empty.
type Defaults struct {
	Rounds            int
	BatchSize         int
	MaxResponseLength int
	ContextWindow     int
}

// ModelChoice names the model for each agent.
type ModelChoice struct {
	A string `json:"A,omitempty"`
	B string `json:"B,omitempty"`
}

// StartRequest begins a new conversation or continues the current one.
type StartRequest struct {
	SessionID         string
	Prompt            string
	Rounds            int
	AgentCount        int
	Personality       string
	Models            ModelChoice
	MaxResponseLength int
	VoiceInput        bool
	IsContinuation    bool
}

// Validate checks the request fields that do not depend on session state.
func (r StartRequest) Validate() error {
	const op = "StartRequest.Validate"
	if !r.IsContinuation && r.Prompt == "" {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "No prompt provided")
	}
	if r.AgentCount != 0 && r.AgentCount != 2 {
		return domain.NewDomainError(op, domain.ErrInvalidInput,
			fmt.Sprintf("agent_count %d not supported, only 2 agents", r.AgentCount))
	}
	if r.Rounds < 0 {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "rounds must not be negative")
	}
	if r.MaxResponseLength < 0 {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "max_response_length must not be negative")
	}
	return nil
}

// Session is one conversation's state. The run holding the session is its
// only writer; readers get copies.
type Session struct {
	id string

	running atomic.Bool
	stop    atomic.Bool
	settled bool // guarded by Registry.mu

	mu                  sync.RWMutex
	background          string
	personality         string
	models              ModelChoice
	agentCount          int
	voiceInput          bool
	roundsTotal         int
	roundsDone          int
	batchSize           int
	isContinuation      bool
	maxResponseLength   int
	responseLengthAccum int
	history             []domain.TurnRecord
	createdAt           time.Time
	updatedAt           time.Time
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID                  string              `json:"session_id"`
	Background          string              `json:"background"`
	Personality         string              `json:"personality"`
	Models              ModelChoice         `json:"models"`
	AgentCount          int                 `json:"agent_count"`
	VoiceInput          bool                `json:"voice_input"`
	RoundsTotal         int                 `json:"rounds_total"`
	RoundsDone          int                 `json:"rounds_done"`
	BatchSize           int                 `json:"batch_size"`
	StopRequested       bool                `json:"stop_requested"`
	IsContinuation      bool                `json:"is_continuation"`
	Running             bool                `json:"running"`
	MaxResponseLength   int                 `json:"max_response_length"`
	ResponseLengthAccum int                 `json:"response_length_accum"`
	History             []domain.TurnRecord `json:"history"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{id: id, createdAt: now, updatedAt: now}
}

// NewSessionID returns a fresh ULID for connections that do not name a session.
func NewSessionID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RequestStop sets the stop flag. The run observes it at its next checkpoint.
func (s *Session) RequestStop() { s.stop.Store(true) }

// StopRequested reports whether a stop is pending.
func (s *Session) StopRequested() bool { return s.stop.Load() }

// Running reports whether a run currently holds the session.
func (s *Session) Running() bool { return s.running.Load() }

func (s *Session) tryAcquire() bool { return s.running.CompareAndSwap(false, true) }

func (s *Session) release() { s.running.Store(false) }

func (s *Session) started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.background != ""
}

// apply merges a start request. A new conversation resets history and
// counters; a continuation keeps both. The stop flag is cleared by
// Registry.Acquire, not here.
func (s *Session) apply(req StartRequest, def Defaults) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isContinuation = req.IsContinuation
	s.updatedAt = time.Now()

	if req.IsContinuation {
		if s.background == "" {
			return domain.NewDomainError("Session.apply", domain.ErrSessionNotFound,
				fmt.Sprintf("no conversation to continue for session %q", s.id))
		}
		return nil
	}

	s.background = req.Prompt
	s.personality = req.Personality
	s.models = req.Models
	s.agentCount = 2
	s.voiceInput = req.VoiceInput
	s.roundsTotal = orDefault(req.Rounds, def.Rounds)
	s.batchSize = def.BatchSize
	s.maxResponseLength = orDefault(req.MaxResponseLength, def.MaxResponseLength)
	s.roundsDone = 0
	s.responseLengthAccum = 0
	s.history = nil
	return nil
}

// beginRound advances rounds_done and returns the new round number.
func (s *Session) beginRound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roundsDone < s.roundsTotal {
		s.roundsDone++
	}
	return s.roundsDone
}

// appendTurn records a finished turn and returns the response length before
// and after it.
func (s *Session) appendTurn(rec domain.TurnRecord) (before, after int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before = s.responseLengthAccum
	s.responseLengthAccum += utf8.RuneCountInString(rec.Message)
	s.history = append(s.history, rec)
	s.updatedAt = time.Now()
	return before, s.responseLengthAccum
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Progress returns rounds_done and rounds_total.
func (s *Session) Progress() (done, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roundsDone, s.roundsTotal
}

// History returns a copy of the full turn history.
func (s *Session) History() []domain.TurnRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.TurnRecord, len(s.history))
	copy(cp, s.history)
	return cp
}

// Recent returns a copy of the last n records.
func (s *Session) Recent(n int) []domain.TurnRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.history, n)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := make([]domain.TurnRecord, len(s.history))
	copy(hist, s.history)
	return Snapshot{
		ID:                  s.id,
		Background:          s.background,
		Personality:         s.personality,
		Models:              s.models,
		AgentCount:          s.agentCount,
		VoiceInput:          s.voiceInput,
		RoundsTotal:         s.roundsTotal,
		RoundsDone:          s.roundsDone,
		BatchSize:           s.batchSize,
		StopRequested:       s.stop.Load(),
		IsContinuation:      s.isContinuation,
		Running:             s.running.Load(),
		MaxResponseLength:   s.maxResponseLength,
		ResponseLengthAccum: s.responseLengthAccum,
		History:             hist,
		CreatedAt:           s.createdAt,
		UpdatedAt:           s.updatedAt,
	}
}

type runConfig struct {
	background        string
	personality       string
	models            ModelChoice
	batchSize         int
	maxResponseLength int
}

func (s *Session) config() runConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runConfig{
		background:        s.background,
		personality:       s.personality,
		models:            s.models,
		batchSize:         s.batchSize,
		maxResponseLength: s.maxResponseLength,
	}
}

func lastN(recs []domain.TurnRecord, n int) []domain.TurnRecord {
	if n < 0 {
		n = 0
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	cp := make([]domain.TurnRecord, len(recs))
	copy(cp, recs)
	return cp
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
