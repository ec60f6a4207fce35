package session

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// turnOfSize builds a turn whose estimated token cost is exactly tokens.
func turnOfSize(label string, tokens int) Turn {
	// (len(query)+len(response))/4 == tokens
	return Turn{
		Query:    label,
		Response: strings.Repeat("x", tokens*4-len(label)),
	}
}

func TestMemoryStore_LazySessionCreation(t *testing.T) {
	s := NewMemoryStore()

	turns, err := s.History("nobody", 1000)
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, s.Append("alice", Turn{Query: "hi", Response: "hello"}))
	assert.Equal(t, 1, s.Len("alice"))
}

func TestMemoryStore_HistoryRespectsBudget(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append("sess", turnOfSize(fmt.Sprintf("q%d", i), 100)))
	}

	turns, err := s.History("sess", 350)
	require.NoError(t, err)

	// 3 turns of 100 tokens fit; a 4th would exceed 350.
	require.Len(t, turns, 3)

	total := 0
	for _, turn := range turns {
		total += turn.EstimatedTokens()
	}
	assert.LessOrEqual(t, total, 350)

	// Newest turns, chronological order.
	assert.Equal(t, "q7", turns[0].Query)
	assert.Equal(t, "q9", turns[2].Query)
}

func TestMemoryStore_NeverSplitsTurn(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append("sess", turnOfSize("big", 500)))
	require.NoError(t, s.Append("sess", turnOfSize("small", 50)))

	// Budget fits the small newest turn but not the big one: the big turn
	// is omitted entirely rather than truncated.
	turns, err := s.History("sess", 100)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "small", turns[0].Query)
}

func TestMemoryStore_OversizedNewestTurnYieldsNothing(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append("sess", turnOfSize("huge", 5000)))

	turns, err := s.History("sess", 100)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestMemoryStore_DefaultBudget(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 30; i++ {
		require.NoError(t, s.Append("sess", turnOfSize(fmt.Sprintf("q%d", i), 100)))
	}

	turns, err := s.History("sess", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 25) // 25 * 100 == DefaultTokenBudget
}

func TestMemoryStore_Trim(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append("sess", Turn{Query: fmt.Sprintf("q%d", i), Response: "r"}))
	}

	s.Trim("sess", 4)
	assert.Equal(t, 4, s.Len("sess"))

	turns, err := s.History("sess", 100000)
	require.NoError(t, err)
	assert.Equal(t, "q6", turns[0].Query)
	assert.Equal(t, "q9", turns[3].Query)
}

func TestMemoryStore_AppendSetsTimestamp(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append("sess", Turn{Query: "q", Response: "r"}))

	turns, err := s.History("sess", 1000)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.WithinDuration(t, time.Now(), turns[0].Timestamp, time.Minute)
}

func TestRender_RecentVerbatimOldCompressed(t *testing.T) {
	turns := make([]Turn, 60)
	for i := range turns {
		turns[i] = Turn{
			Query:    fmt.Sprintf("question %d", i),
			Response: strings.Repeat("long answer ", 40) + fmt.Sprintf("#%d", i),
		}
	}

	out := Render(turns)
	lines := strings.Split(out, "\n")

	// The 10 oldest turns render compressed on one line each; the 50 newest
	// render verbatim as two lines each.
	assert.Len(t, lines, 10+50*2)

	assert.True(t, strings.HasPrefix(lines[0], "[earlier] "))
	assert.LessOrEqual(t, len(lines[0]), len("[earlier] ")+CompressedLimit+3)
	assert.True(t, strings.HasPrefix(lines[10], "User: question 10"))
}

func TestRender_HardCap(t *testing.T) {
	turns := make([]Turn, 200)
	for i := range turns {
		turns[i] = Turn{Query: fmt.Sprintf("q%d", i), Response: "r"}
	}

	out := Render(turns)

	// Turns older than the newest MaxConsidered are absent.
	assert.NotContains(t, out, "q49 ")
	assert.Contains(t, out, "q199")
	assert.Equal(t, MaxConsidered-VerbatimRecent, strings.Count(out, "[earlier]"))
}

func TestRender_Empty(t *testing.T) {
	assert.Equal(t, "", Render(nil))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := OpenSQLite(t.TempDir() + "/sessions.db")
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append("sess", Turn{
			Query:      fmt.Sprintf("q%d", i),
			BrainUsed:  "analytical",
			Response:   "r",
			Confidence: 0.8,
		}))
	}

	turns, err := store.History("sess", 1000)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	assert.Equal(t, "q0", turns[0].Query)
	assert.Equal(t, "q4", turns[4].Query)
	assert.Equal(t, "analytical", turns[0].BrainUsed)

	require.NoError(t, store.Trim("sess", 2))
	turns, err = store.History("sess", 1000)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q3", turns[0].Query)
}

func TestSQLiteStore_BudgetApplies(t *testing.T) {
	store, err := OpenSQLite(t.TempDir() + "/sessions.db")
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Append("sess", turnOfSize(fmt.Sprintf("q%d", i), 100)))
	}

	turns, err := store.History("sess", 250)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q8", turns[0].Query)
}
