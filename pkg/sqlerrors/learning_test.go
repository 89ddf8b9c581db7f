package sqlerrors

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fieldError(detail string) *Classification {
	return &Classification{Class: ClassFieldNotExists, Detail: detail}
}

func TestSignature_Normalization(t *testing.T) {
	a := Signature(`column "custmer_name" does not exist`)
	b := Signature(`column "regino" does not exist`)
	assert.Equal(t, a, b, "quoted identifiers should collapse to one signature")

	c := Signature("Error 1064: syntax error near line 12")
	d := Signature("Error 1064:   syntax error near line 99")
	assert.Equal(t, c, d, "numbers and whitespace runs should normalize")
}

func TestSignature_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("字段不存在", 50)
	sig := Signature(long)
	assert.True(t, utf8.ValidString(sig), "signature must stay valid UTF-8")
	assert.Equal(t, 160, utf8.RuneCountInString(sig))
}

func TestLearningStore_BestHintNeedsSupport(t *testing.T) {
	store := NewLearningStore(LearningConfig{MaxPatterns: 10, MinSupport: 2}, nil, zap.NewNop())

	c := fieldError(`column "custmer_name" does not exist`)
	store.RecordError(c)
	store.RecordOutcome(c, "use customer_name instead of custmer_name", true)

	_, ok := store.BestHint(c)
	assert.False(t, ok, "a single occurrence is below minimum support")

	store.RecordError(c)
	hint, ok := store.BestHint(c)
	require.True(t, ok)
	assert.Equal(t, "use customer_name instead of custmer_name", hint)
}

func TestLearningStore_SignatureSharing(t *testing.T) {
	store := NewLearningStore(LearningConfig{MaxPatterns: 10, MinSupport: 2}, nil, zap.NewNop())

	first := fieldError(`column "custmer_name" does not exist`)
	second := fieldError(`column "regino" does not exist`)

	store.RecordError(first)
	store.RecordError(second)
	store.RecordOutcome(first, "check the column list in the table schema", true)

	// The two messages share a signature, so the hint learned from the
	// first applies to the second.
	hint, ok := store.BestHint(second)
	require.True(t, ok)
	assert.Equal(t, "check the column list in the table schema", hint)
}

func TestLearningStore_HintRequiresSuccess(t *testing.T) {
	store := NewLearningStore(LearningConfig{MaxPatterns: 10, MinSupport: 1}, nil, zap.NewNop())

	c := &Classification{Class: ClassSyntax, Detail: "Incorrect syntax near the keyword 'FORM'"}
	store.RecordError(c)
	store.RecordOutcome(c, "spell the FROM keyword correctly", false)

	_, ok := store.BestHint(c)
	assert.False(t, ok, "hints that never succeeded must not be offered")
}

func TestLearningStore_BestHintPrefersHigherSuccessRate(t *testing.T) {
	store := NewLearningStore(LearningConfig{MaxPatterns: 10, MinSupport: 1}, nil, zap.NewNop())

	c := &Classification{Class: ClassTableNotExists, Detail: `relation "order_detail" does not exist`}
	store.RecordError(c)

	store.RecordOutcome(c, "qualify the table with the public schema", true)
	store.RecordOutcome(c, "qualify the table with the public schema", false)
	store.RecordOutcome(c, "use order_details (plural)", true)
	store.RecordOutcome(c, "use order_details (plural)", true)

	hint, ok := store.BestHint(c)
	require.True(t, ok)
	assert.Equal(t, "use order_details (plural)", hint)
}

func TestLearningStore_Eviction(t *testing.T) {
	store := NewLearningStore(LearningConfig{MaxPatterns: 3, MinSupport: 1}, nil, zap.NewNop())

	errs := []*Classification{
		{Class: ClassUnknown, Detail: "error one"},
		{Class: ClassUnknown, Detail: "error two"},
		{Class: ClassUnknown, Detail: "error three"},
	}
	for _, c := range errs {
		store.RecordError(c)
		time.Sleep(time.Millisecond)
	}

	// Touch the first pattern so it is no longer the oldest.
	store.RecordError(errs[0])
	time.Sleep(time.Millisecond)

	store.RecordError(&Classification{Class: ClassUnknown, Detail: "error four"})

	stats := store.Stats()
	assert.Equal(t, 3, stats.PatternCount)

	// "error two" was least recently seen and should be gone.
	store.RecordOutcome(errs[1], "hint", true)
	// RecordOutcome recreated the pattern with zero occurrences, so the
	// hint stays below support.
	_, ok := store.BestHint(errs[1])
	assert.False(t, ok)
}

func TestLearningStore_EvictionSparesNewestPattern(t *testing.T) {
	store := NewLearningStore(LearningConfig{MaxPatterns: 2, MinSupport: 1}, nil, zap.NewNop())

	store.RecordError(&Classification{Class: ClassUnknown, Detail: "error a"})
	time.Sleep(time.Millisecond)
	store.RecordError(&Classification{Class: ClassUnknown, Detail: "error b"})
	time.Sleep(time.Millisecond)

	// A new error shape arriving at capacity must displace the oldest
	// pattern, not itself.
	c := &Classification{Class: ClassUnknown, Detail: "error c"}
	store.RecordError(c)
	store.RecordOutcome(c, "hint-c", true)

	hint, ok := store.BestHint(c)
	require.True(t, ok, "the newest pattern must survive eviction")
	assert.Equal(t, "hint-c", hint)
}

func TestLearningStore_Stats(t *testing.T) {
	store := NewLearningStore(LearningConfig{MaxPatterns: 10, MinSupport: 1}, nil, zap.NewNop())

	c := &Classification{Class: ClassSyntax, Detail: "bad grammar"}
	store.RecordError(c)
	store.RecordError(c)
	store.RecordOutcome(c, "fix it", true)

	stats := store.Stats()
	assert.Equal(t, 1, stats.PatternCount)
	assert.Equal(t, 2, stats.TotalOccurrences)
	assert.Equal(t, 1, stats.ByClass[ClassSyntax])
}
