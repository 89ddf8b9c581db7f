package sqlerrors

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultMaxPatterns bounds the in-memory pattern store.
	DefaultMaxPatterns = 1000
	// DefaultMinSupport is how often a pattern must recur before its hints
	// are trusted.
	DefaultMinSupport = 2

	redisSnapshotKey = "datachat:sqlerrors:patterns"
)

// LearningConfig configures the learning store.
type LearningConfig struct {
	MaxPatterns int
	MinSupport  int
}

// HintStats tracks how a recovery hint performed for one pattern.
type HintStats struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// SuccessRate returns successes/attempts, or 0 when unused.
func (h *HintStats) SuccessRate() float64 {
	total := h.Successes + h.Failures
	if total == 0 {
		return 0
	}
	return float64(h.Successes) / float64(total)
}

// Pattern is one learned error shape with its recovery-hint statistics.
type Pattern struct {
	Class       Class                 `json:"class"`
	Signature   string                `json:"signature"`
	Occurrences int                   `json:"occurrences"`
	LastSeen    time.Time             `json:"last_seen"`
	Hints       map[string]*HintStats `json:"hints"`
}

// LearningStore is a concurrency-safe in-memory store of learned SQL error
// patterns. Every classified error and every recovery outcome is recorded;
// BestHint surfaces the hint with the highest success rate once a pattern
// has minimum support. The store is bounded: beyond MaxPatterns the least
// recently seen pattern is evicted.
//
// A Redis client may be attached for best-effort snapshots so learned
// patterns survive restarts. All Redis failures are logged and swallowed.
type LearningStore struct {
	mu          sync.Mutex
	patterns    map[string]*Pattern
	maxPatterns int
	minSupport  int
	rdb         *redis.Client
	logger      *zap.Logger
}

// NewLearningStore creates a learning store. rdb may be nil.
func NewLearningStore(cfg LearningConfig, rdb *redis.Client, logger *zap.Logger) *LearningStore {
	if cfg.MaxPatterns <= 0 {
		cfg.MaxPatterns = DefaultMaxPatterns
	}
	if cfg.MinSupport <= 0 {
		cfg.MinSupport = DefaultMinSupport
	}

	return &LearningStore{
		patterns:    make(map[string]*Pattern),
		maxPatterns: cfg.MaxPatterns,
		minSupport:  cfg.MinSupport,
		rdb:         rdb,
		logger:      logger.Named("sqlerror-learning"),
	}
}

var (
	quotedIdentPattern = regexp.MustCompile(`'[^']*'|"[^"]*"`)
	numberPattern      = regexp.MustCompile(`\b\d+\b`)
	spacePattern       = regexp.MustCompile(`\s+`)
)

// Signature normalizes an error message so the same shape of failure
// collapses to one pattern: quoted identifiers and numbers become
// placeholders, whitespace is squeezed, and the text is truncated.
func Signature(detail string) string {
	sig := quotedIdentPattern.ReplaceAllString(detail, "?")
	sig = numberPattern.ReplaceAllString(sig, "#")
	sig = spacePattern.ReplaceAllString(sig, " ")
	if r := []rune(sig); len(r) > 160 {
		sig = string(r[:160])
	}
	return sig
}

func key(class Class, signature string) string {
	return string(class) + "|" + signature
}

// RecordError registers an occurrence of the classified error.
func (s *LearningStore) RecordError(c *Classification) {
	if c == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sig := Signature(c.Detail)
	k := key(c.Class, sig)

	p, ok := s.patterns[k]
	if !ok {
		// Stamp before evicting so the newcomer is never the eviction
		// victim.
		p = &Pattern{
			Class:     c.Class,
			Signature: sig,
			LastSeen:  time.Now(),
			Hints:     make(map[string]*HintStats),
		}
		s.patterns[k] = p
		s.evictLocked()
	}
	p.Occurrences++
	p.LastSeen = time.Now()
}

// RecordOutcome registers whether a recovery attempt guided by hint fixed
// an error of this pattern.
func (s *LearningStore) RecordOutcome(c *Classification, hint string, success bool) {
	if c == nil || hint == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sig := Signature(c.Detail)
	k := key(c.Class, sig)

	p, ok := s.patterns[k]
	if !ok {
		p = &Pattern{
			Class:     c.Class,
			Signature: sig,
			LastSeen:  time.Now(),
			Hints:     make(map[string]*HintStats),
		}
		s.patterns[k] = p
		s.evictLocked()
	}
	p.LastSeen = time.Now()

	h, ok := p.Hints[hint]
	if !ok {
		h = &HintStats{}
		p.Hints[hint] = h
	}
	if success {
		h.Successes++
	} else {
		h.Failures++
	}
}

// BestHint returns the highest-success-rate hint for this error pattern,
// or false when the pattern lacks minimum support or has no hint that ever
// succeeded.
func (s *LearningStore) BestHint(c *Classification) (string, bool) {
	if c == nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[key(c.Class, Signature(c.Detail))]
	if !ok || p.Occurrences < s.minSupport {
		return "", false
	}

	var (
		bestHint string
		bestRate float64
	)
	for hint, stats := range p.Hints {
		if stats.Successes == 0 {
			continue
		}
		rate := stats.SuccessRate()
		if rate > bestRate || (rate == bestRate && hint < bestHint) {
			bestHint = hint
			bestRate = rate
		}
	}

	if bestHint == "" {
		return "", false
	}
	return bestHint, true
}

// Stats summarizes the store for the diagnostics endpoint.
type Stats struct {
	PatternCount     int           `json:"pattern_count"`
	TotalOccurrences int           `json:"total_occurrences"`
	ByClass          map[Class]int `json:"by_class"`
}

// Snapshot of current learning state.
func (s *LearningStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{ByClass: make(map[Class]int)}
	for _, p := range s.patterns {
		st.PatternCount++
		st.TotalOccurrences += p.Occurrences
		st.ByClass[p.Class]++
	}
	return st
}

// evictLocked drops least-recently-seen patterns beyond the cap.
// Caller must hold s.mu.
func (s *LearningStore) evictLocked() {
	for len(s.patterns) > s.maxPatterns {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, p := range s.patterns {
			if first || p.LastSeen.Before(oldest) {
				oldestKey = k
				oldest = p.LastSeen
				first = false
			}
		}
		delete(s.patterns, oldestKey)
	}
}

// Save snapshots the pattern store to Redis. Best-effort: no-op without a
// client, and failures are only logged.
func (s *LearningStore) Save(ctx context.Context) {
	if s.rdb == nil {
		return
	}

	s.mu.Lock()
	raw, err := json.Marshal(s.patterns)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to marshal learned patterns", zap.Error(err))
		return
	}

	if err := s.rdb.Set(ctx, redisSnapshotKey, raw, 0).Err(); err != nil {
		s.logger.Warn("Failed to save learned patterns to Redis", zap.Error(err))
		return
	}
	s.logger.Debug("Saved learned patterns", zap.Int("bytes", len(raw)))
}

// Load restores a previous snapshot from Redis. Best-effort.
func (s *LearningStore) Load(ctx context.Context) {
	if s.rdb == nil {
		return
	}

	raw, err := s.rdb.Get(ctx, redisSnapshotKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Failed to load learned patterns from Redis", zap.Error(err))
		}
		return
	}

	patterns := make(map[string]*Pattern)
	if err := json.Unmarshal(raw, &patterns); err != nil {
		s.logger.Warn("Discarding corrupt learned-pattern snapshot", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.patterns = patterns
	s.evictLocked()
	s.mu.Unlock()

	s.logger.Info("Restored learned patterns", zap.Int("count", len(patterns)))
}

// String implements fmt.Stringer for debug logging.
func (s *LearningStore) String() string {
	st := s.Stats()
	return fmt.Sprintf("LearningStore{patterns=%d occurrences=%d}", st.PatternCount, st.TotalOccurrences)
}
