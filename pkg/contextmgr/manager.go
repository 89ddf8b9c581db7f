// Package contextmgr keeps per-session conversation context in two tiers.
//
// The local tier holds full-fidelity turns (question, SQL, result rows) for
// the history API. The cloud tier holds a sanitized rendering of the same
// turns, safe to send to an external LLM: result rows are replaced by their
// column schema, row count, and numeric aggregates, and free text is
// scrubbed of emails, phone numbers, and long digit runs.
package contextmgr

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxSessions bounds the number of live sessions before
	// least-recently-used eviction.
	DefaultMaxSessions = 500
	// DefaultMaxTurns bounds turns per session; older turns are trimmed.
	DefaultMaxTurns = 20
	// DefaultSessionTTL expires sessions idle longer than this.
	DefaultSessionTTL = 2 * time.Hour

	janitorInterval = time.Minute
)

// Turn is one question/answer exchange in its full local fidelity.
type Turn struct {
	Question  string    `json:"question"`
	SQL       string    `json:"sql,omitempty"`
	Columns   []string  `json:"columns,omitempty"`
	Rows      [][]any   `json:"rows,omitempty"`
	Analysis  string    `json:"analysis,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CloudMessage is one sanitized prompt message derived from a turn.
type CloudMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type session struct {
	turns    []Turn
	cloud    []CloudMessage
	lastUsed time.Time
}

// Config bounds the manager. Zero values take the defaults above.
type Config struct {
	MaxSessions int
	MaxTurns    int
	SessionTTL  time.Duration
}

// Manager is a concurrency-safe dual-tier session store. A janitor
// goroutine expires idle sessions; Close stops it.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*session
	maxSessions int
	maxTurns    int
	ttl         time.Duration
	logger      *zap.Logger
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a session manager and starts its janitor.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	m := &Manager{
		sessions:    make(map[string]*session),
		maxSessions: cfg.MaxSessions,
		maxTurns:    cfg.MaxTurns,
		ttl:         cfg.SessionTTL,
		logger:      logger.Named("contextmgr"),
		stop:        make(chan struct{}),
	}
	go m.janitor()
	return m
}

// AddTurn records a completed exchange on the session, creating the
// session if needed. Both tiers are updated: the local tier stores the
// turn verbatim, the cloud tier stores its sanitized rendering.
func (m *Manager) AddTurn(sessionID string, turn Turn) {
	if sessionID == "" {
		return
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	userMsg := CloudMessage{Role: "user", Content: ScrubText(turn.Question)}
	assistantMsg := CloudMessage{Role: "assistant", Content: renderCloudAnswer(turn)}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		// Stamp before evicting so the newcomer is never the LRU victim.
		s = &session{lastUsed: time.Now()}
		m.sessions[sessionID] = s
		m.evictLocked()
	}
	s.lastUsed = time.Now()

	s.turns = append(s.turns, turn)
	s.cloud = append(s.cloud, userMsg, assistantMsg)

	// Trim oldest turns past the cap. Cloud messages come in pairs, one
	// per tier entry, so they trim in lockstep.
	if excess := len(s.turns) - m.maxTurns; excess > 0 {
		s.turns = append([]Turn(nil), s.turns[excess:]...)
		s.cloud = append([]CloudMessage(nil), s.cloud[excess*2:]...)
	}
}

// LocalTurns returns the full-fidelity history for the session, newest
// last. Returns nil for unknown sessions.
func (m *Manager) LocalTurns(sessionID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	s.lastUsed = time.Now()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// CloudMessages returns the sanitized history suitable for LLM prompts,
// newest last. Returns nil for unknown sessions.
func (m *Manager) CloudMessages(sessionID string) []CloudMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	s.lastUsed = time.Now()

	out := make([]CloudMessage, len(s.cloud))
	copy(out, s.cloud)
	return out
}

// Drop removes a session from both tiers.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// SessionCount reports the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the janitor. Safe to call more than once.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.expireIdle(time.Now())
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) expireIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for id, s := range m.sessions {
		if now.Sub(s.lastUsed) > m.ttl {
			delete(m.sessions, id)
			expired++
		}
	}
	if expired > 0 {
		m.logger.Debug("Expired idle sessions",
			zap.Int("expired", expired),
			zap.Int("remaining", len(m.sessions)))
	}
}

// evictLocked drops least-recently-used sessions beyond the cap.
// Caller must hold m.mu.
func (m *Manager) evictLocked() {
	for len(m.sessions) > m.maxSessions {
		var oldestID string
		var oldest time.Time
		first := true
		for id, s := range m.sessions {
			if first || s.lastUsed.Before(oldest) {
				oldestID = id
				oldest = s.lastUsed
				first = false
			}
		}
		delete(m.sessions, oldestID)
	}
}
