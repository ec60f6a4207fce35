package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/arbiter/pkg/brain"
)

// stubProvider scripts per-call outcomes for chain tests.
type stubProvider struct {
	name      string
	available bool
	calls     int
	respond   func(call int, req *ChatRequest) (*ChatResponse, error)
}

func (s *stubProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls++
	return s.respond(s.calls, req)
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return s.available }

func succeeding(name, text string) *stubProvider {
	return &stubProvider{
		name:      name,
		available: true,
		respond: func(_ int, _ *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{Content: text, Model: "stub-model", TokensUsed: 12}, nil
		},
	}
}

func failing(name string) *stubProvider {
	return &stubProvider{
		name:      name,
		available: true,
		respond: func(_ int, _ *ChatRequest) (*ChatResponse, error) {
			return nil, fmt.Errorf("%s: status 503", name)
		},
	}
}

func testBrain() *brain.Brain {
	return &brain.Brain{
		ID:           brain.Analytical,
		ModelVariant: "primary-model",
		Temperature:  0.7,
		MaxTokens:    256,
		Enabled:      true,
	}
}

func TestChain_FirstCandidateSucceeds(t *testing.T) {
	primary := succeeding("cloud-a", "hello")
	secondary := succeeding("cloud-b", "should not be called")
	chain := NewChain(primary,
		WithSecondary(secondary),
		WithBackups(map[string][]string{}),
	)

	inv, err := chain.Invoke(context.Background(), testBrain(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", inv.Text)
	assert.Equal(t, "cloud-a", inv.ProviderUsed)

	// No further candidates are tried after a success.
	assert.Equal(t, 0, secondary.calls)
	assert.Equal(t, int64(1), chain.Stats().Provider("cloud-a").Success)
}

func TestChain_FallsForwardOnFailure(t *testing.T) {
	primary := failing("cloud-a")
	secondary := succeeding("cloud-b", "rescued")
	chain := NewChain(primary,
		WithSecondary(secondary),
		WithBackups(map[string][]string{}),
	)

	inv, err := chain.Invoke(context.Background(), testBrain(), "What's 2+2", nil)
	require.NoError(t, err)
	assert.Equal(t, "cloud-b", inv.ProviderUsed)
	assert.Equal(t, "rescued", inv.Text)
	assert.Len(t, inv.Attempts, 2)

	assert.Equal(t, int64(1), chain.Stats().Provider("cloud-a").Failure)
	assert.Equal(t, int64(1), chain.Stats().Provider("cloud-b").Success)
}

func TestChain_EmptyBodyIsFailure(t *testing.T) {
	empty := &stubProvider{
		name:      "cloud-a",
		available: true,
		respond: func(_ int, _ *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{Content: "   \n"}, nil
		},
	}
	local := succeeding("ollama", "from local")
	chain := NewChain(empty,
		WithLocal(local),
		WithBackups(map[string][]string{}),
	)

	inv, err := chain.Invoke(context.Background(), testBrain(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", inv.ProviderUsed)
	assert.Equal(t, "empty", inv.Attempts[0].ErrKind)
	assert.Equal(t, int64(1), chain.Stats().Provider("cloud-a").Failure)
}

func TestChain_AllCandidatesExhausted(t *testing.T) {
	primary := failing("cloud-a")
	secondary := failing("cloud-b")
	local := failing("ollama")
	chain := NewChain(primary,
		WithSecondary(secondary),
		WithLocal(local),
		WithBackups(map[string][]string{}),
	)

	_, err := chain.Invoke(context.Background(), testBrain(), "q", nil)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Attempts)
	assert.Equal(t, brain.Analytical, ee.Brain)
	assert.ErrorContains(t, ee.Last, "ollama")

	// Every candidate's failure counter incremented by exactly 1.
	for _, name := range []string{"cloud-a", "cloud-b", "ollama"} {
		assert.Equal(t, int64(1), chain.Stats().Provider(name).Failure, name)
		assert.Equal(t, int64(0), chain.Stats().Provider(name).Success, name)
	}
}

func TestChain_BackupVariantsTriedOnPrimary(t *testing.T) {
	var models []string
	primary := &stubProvider{
		name:      "openai",
		available: true,
		respond: func(call int, req *ChatRequest) (*ChatResponse, error) {
			models = append(models, req.Model)
			if call < 3 {
				return nil, fmt.Errorf("openai: status 500")
			}
			return &ChatResponse{Content: "third time lucky"}, nil
		},
	}
	chain := NewChain(primary, WithBackups(map[string][]string{
		"openai": {"backup-1", "backup-2"},
	}))

	inv, err := chain.Invoke(context.Background(), testBrain(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"primary-model", "backup-1", "backup-2"}, models)
	assert.Equal(t, "openai", inv.ProviderUsed)
	assert.Equal(t, "backup-2", inv.ModelUsed)
}

func TestChain_SkipsUnavailableProviders(t *testing.T) {
	primary := &stubProvider{name: "openai", available: false}
	local := succeeding("ollama", "local answer")
	chain := NewChain(primary, WithLocal(local))

	inv, err := chain.Invoke(context.Background(), testBrain(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", inv.ProviderUsed)
	assert.Equal(t, 0, primary.calls)
}

func TestChain_NoProvidersConfigured(t *testing.T) {
	chain := NewChain(&stubProvider{name: "openai", available: false})

	_, err := chain.Invoke(context.Background(), testBrain(), "q", nil)
	assert.True(t, IsExhausted(err))
}

func TestChain_OverridesApply(t *testing.T) {
	var seen ChatRequest
	primary := &stubProvider{
		name:      "openai",
		available: true,
		respond: func(_ int, req *ChatRequest) (*ChatResponse, error) {
			seen = *req
			return &ChatResponse{Content: "ok"}, nil
		},
	}
	chain := NewChain(primary, WithBackups(map[string][]string{}))

	temp := 0.0
	_, err := chain.Invoke(context.Background(), testBrain(), "q", &Overrides{
		Temperature:  &temp,
		MaxTokens:    64,
		SystemPrompt: "rate yourself",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, seen.Temperature)
	assert.Equal(t, 64, seen.MaxTokens)
	assert.Equal(t, "rate yourself", seen.SystemPrompt)
}

func TestChain_ObserverSeesEveryAttempt(t *testing.T) {
	var observed []Attempt
	chain := NewChain(failing("cloud-a"),
		WithLocal(succeeding("ollama", "ok")),
		WithBackups(map[string][]string{}),
		WithAttemptObserver(func(a Attempt) { observed = append(observed, a) }),
	)

	_, err := chain.Invoke(context.Background(), testBrain(), "q", nil)
	require.NoError(t, err)
	require.Len(t, observed, 2)
	assert.False(t, observed[0].OK)
	assert.True(t, observed[1].OK)
}

func TestStats_Snapshot(t *testing.T) {
	s := NewStats()
	s.RecordSuccess("openai")
	s.RecordSuccess("openai")
	s.RecordFailure("ollama")

	snap := s.Snapshot()
	assert.Equal(t, Outcome{Success: 2, Failure: 0}, snap["openai"])
	assert.Equal(t, Outcome{Success: 0, Failure: 1}, snap["ollama"])
}
