package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/references"
	"server/internal/storage"
)

var testRetry = struct {
	prompt    RetryPolicy
	variation RetryPolicy
}{
	prompt:    RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffRate: 2},
	variation: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffRate: 1},
}

type stubSynthesizer struct {
	mu        sync.Mutex
	directive string
	calls     int
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, faceCount, officeCount int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.directive
}

type stubRenderer struct {
	mu           sync.Mutex
	instructions []string
	render       func(instruction string, call int) ([]byte, error)
}

func (s *stubRenderer) Render(ctx context.Context, directive, instruction string, faces, offices []references.Image) ([]byte, error) {
	s.mu.Lock()
	s.instructions = append(s.instructions, instruction)
	call := len(s.instructions)
	s.mu.Unlock()
	if s.render != nil {
		return s.render(instruction, call)
	}
	return []byte("img:" + instruction), nil
}

func (s *stubRenderer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instructions)
}

type testEnv struct {
	store    *MemoryStore
	blobs    *storage.MemoryStore
	synth    *stubSynthesizer
	renderer *stubRenderer
}

func newTestEnv(t *testing.T, seedRefs bool) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    NewMemoryStore(),
		blobs:    storage.NewMemoryStore("http://localhost:8080"),
		synth:    &stubSynthesizer{directive: "studio-grade corporate headshot"},
		renderer: &stubRenderer{},
	}
	if seedRefs {
		for _, key := range []string{"uploads/1-face-a.png", "uploads/2-face-b.png", "uploads/3-office.png"} {
			_, err := env.blobs.Put(context.Background(), key, []byte("ref"), "image/png")
			require.NoError(t, err)
		}
	}
	return env
}

func (env *testEnv) runner() *Runner {
	return NewRunner(Config{
		Store:          env.store,
		References:     references.NewFetcher(env.blobs),
		Prompts:        env.synth,
		Renderer:       env.renderer,
		Blobs:          env.blobs,
		Logger:         zerolog.Nop(),
		PromptRetry:    testRetry.prompt,
		VariationRetry: testRetry.variation,
	})
}

func (env *testEnv) submit(t *testing.T, id string) *Instance {
	t.Helper()
	inst, err := env.store.Create(context.Background(), &Instance{
		ID:         id,
		UID:        "user-1",
		FaceKeys:   []string{"uploads/1-face-a.png", "uploads/2-face-b.png"},
		OfficeKeys: []string{"uploads/3-office.png"},
	})
	require.NoError(t, err)
	return inst
}

func (env *testEnv) claim(t *testing.T) *Instance {
	t.Helper()
	inst, err := env.store.ClaimQueued(context.Background())
	require.NoError(t, err)
	return inst
}

func TestRunnerFullSuccess(t *testing.T) {
	env := newTestEnv(t, true)
	env.submit(t, "abc")

	require.NoError(t, env.runner().Run(context.Background(), env.claim(t)))

	inst, err := env.store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inst.Status)
	require.Len(t, inst.Output, 4)

	for n := 1; n <= 4; n++ {
		key := fmt.Sprintf("results/abc/photo-%d.jpg", n)
		assert.Equal(t, key, inst.StepResults[VariationStep(n)])
		assert.Contains(t, inst.Output[n-1], "results%2Fabc%2Fphoto-")
		obj, err := env.blobs.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", obj.ContentType)
	}
	assert.Equal(t, "studio-grade corporate headshot", inst.StepResults[StepGeneratePrompt])
	assert.Equal(t, 1, env.synth.calls)
	assert.Equal(t, 4, env.renderer.calls())
}

func TestRunnerPartialSuccessStillCompletes(t *testing.T) {
	env := newTestEnv(t, true)
	env.renderer.render = func(instruction string, call int) ([]byte, error) {
		if strings.Contains(instruction, "variation 2") || strings.Contains(instruction, "variation 4") {
			return nil, errors.New("gemini status 503")
		}
		return []byte("img"), nil
	}
	env.submit(t, "abc")

	require.NoError(t, env.runner().Run(context.Background(), env.claim(t)))

	inst, err := env.store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inst.Status)
	require.Len(t, inst.Output, 2)
	assert.Contains(t, inst.Output[0], "photo-1.jpg")
	assert.Contains(t, inst.Output[1], "photo-3.jpg")
	assert.NotContains(t, inst.StepResults, VariationStep(2))
	assert.NotContains(t, inst.StepResults, VariationStep(4))
}

func TestRunnerResumeSkipsCommittedSteps(t *testing.T) {
	env := newTestEnv(t, true)
	env.submit(t, "abc")
	inst := env.claim(t)

	ctx := context.Background()
	require.NoError(t, env.store.CommitStep(ctx, "abc", StepGeneratePrompt, "committed directive"))
	require.NoError(t, env.store.CommitStep(ctx, "abc", VariationStep(1), ResultKey("abc", 1)))
	require.NoError(t, env.store.CommitStep(ctx, "abc", VariationStep(2), ResultKey("abc", 2)))
	_, err := env.blobs.Put(ctx, ResultKey("abc", 1), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	_, err = env.blobs.Put(ctx, ResultKey("abc", 2), []byte("img"), "image/jpeg")
	require.NoError(t, err)

	// Reload to simulate a restart picking the instance back up.
	inst, err = env.store.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, env.runner().Run(ctx, inst))

	assert.Equal(t, 0, env.synth.calls, "committed prompt must not be re-synthesized")
	assert.Equal(t, 2, env.renderer.calls(), "only variations 3 and 4 should render")
	assert.Contains(t, env.renderer.instructions[0], "variation 3")
	assert.Contains(t, env.renderer.instructions[1], "variation 4")

	final, err := env.store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, final.Status)
	assert.Len(t, final.Output, 4)
	assert.Equal(t, "committed directive", final.StepResults[StepGeneratePrompt])
}

func TestRunnerPromptExhaustionIsFatal(t *testing.T) {
	env := newTestEnv(t, true)
	env.synth.directive = "" // empty directive fails the step on every attempt
	env.submit(t, "abc")

	err := env.runner().Run(context.Background(), env.claim(t))
	require.Error(t, err)

	inst, getErr := env.store.Get(context.Background(), "abc")
	require.NoError(t, getErr)
	assert.Equal(t, StatusErrored, inst.Status)
	assert.Contains(t, inst.Error, "generate-prompt")
	assert.Equal(t, testRetry.prompt.MaxAttempts, env.synth.calls)
	assert.Equal(t, 0, env.renderer.calls())
}

func TestRunnerMissingReferenceIsNotRetried(t *testing.T) {
	env := newTestEnv(t, false) // no reference blobs seeded
	env.submit(t, "abc")

	require.NoError(t, env.runner().Run(context.Background(), env.claim(t)))

	inst, err := env.store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inst.Status)
	assert.Empty(t, inst.Output)
	assert.Equal(t, 0, env.renderer.calls(), "renderer must not run without references")
}

func TestRunnerRetriesTransientRenderFailure(t *testing.T) {
	env := newTestEnv(t, true)
	failed := false
	env.renderer.render = func(instruction string, call int) ([]byte, error) {
		if strings.Contains(instruction, "variation 1") && !failed {
			failed = true
			return nil, errors.New("connection reset")
		}
		return []byte("img"), nil
	}
	env.submit(t, "abc")

	require.NoError(t, env.runner().Run(context.Background(), env.claim(t)))

	inst, err := env.store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inst.Status)
	assert.Len(t, inst.Output, 4)
	assert.Equal(t, 5, env.renderer.calls(), "variation 1 takes two attempts")
}

func TestRunnerObservesTerminationAtStepBoundary(t *testing.T) {
	env := newTestEnv(t, true)
	env.renderer.render = func(instruction string, call int) ([]byte, error) {
		// Cancel externally while variation 1 is in flight; the runner
		// must stop at the next step boundary, not mid-step.
		require.NoError(t, env.store.Terminate(context.Background(), "abc"))
		return []byte("img"), nil
	}
	env.submit(t, "abc")

	require.NoError(t, env.runner().Run(context.Background(), env.claim(t)))

	inst, err := env.store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, inst.Status)
	assert.Equal(t, 1, env.renderer.calls())
	assert.Contains(t, inst.StepResults, VariationStep(1), "in-flight step result is still committed")
	assert.NotContains(t, inst.StepResults, VariationStep(2))
	assert.Empty(t, inst.Output)
}

func TestClaimQueuedReclaimsStalledRun(t *testing.T) {
	env := newTestEnv(t, true)
	env.submit(t, "abc")
	inst := env.claim(t)

	ctx := context.Background()
	require.NoError(t, env.store.CommitStep(ctx, inst.ID, StepGeneratePrompt, "committed directive"))

	// The worker dies here without marking the instance terminal. A fresh
	// run stays owned by its worker until it goes stale.
	_, err := env.store.ClaimQueued(ctx)
	require.ErrorIs(t, err, ErrNoneQueued)

	env.store.mu.Lock()
	env.store.instances["abc"].UpdatedAt = time.Now().Add(-(staleRunningAfter + time.Minute))
	env.store.mu.Unlock()

	reclaimed, err := env.store.ClaimQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", reclaimed.ID)
	assert.Equal(t, StatusRunning, reclaimed.Status)
	assert.Equal(t, "committed directive", reclaimed.StepResults[StepGeneratePrompt])

	require.NoError(t, env.runner().Run(ctx, reclaimed))

	assert.Equal(t, 0, env.synth.calls, "reclaimed run must not repeat the committed prompt")
	assert.Equal(t, 4, env.renderer.calls())
	final, err := env.store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, final.Status)
	assert.Len(t, final.Output, 4)
}

func TestMemoryStoreCreateIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Create(ctx, &Instance{ID: "abc", UID: "user-1", FaceKeys: []string{"f"}, OfficeKeys: []string{"o"}})
	require.NoError(t, err)
	require.NoError(t, store.CommitStep(ctx, "abc", StepGeneratePrompt, "directive"))

	second, err := store.Create(ctx, &Instance{ID: "abc", UID: "someone-else", FaceKeys: []string{"x"}, OfficeKeys: []string{"y"}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "user-1", second.UID, "resubmission must not overwrite the live run")
	assert.Equal(t, "directive", second.StepResults[StepGeneratePrompt])

	_, err = store.ClaimQueued(ctx)
	require.NoError(t, err)
	_, err = store.ClaimQueued(ctx)
	assert.ErrorIs(t, err, ErrNoneQueued, "duplicate submission must not enqueue a second run")
}

func TestRetryPolicyDelay(t *testing.T) {
	exponential := RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, BackoffRate: 2}
	assert.Equal(t, 5*time.Second, exponential.Delay(1))
	assert.Equal(t, 10*time.Second, exponential.Delay(2))
	assert.Equal(t, 20*time.Second, exponential.Delay(3))

	linear := RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Second, BackoffRate: 1}
	assert.Equal(t, 10*time.Second, linear.Delay(1))
	assert.Equal(t, 10*time.Second, linear.Delay(2))
}

func TestResultKeyConvention(t *testing.T) {
	assert.Equal(t, "results/abc/photo-1.jpg", ResultKey("abc", 1))
	assert.Equal(t, "results/abc/photo-4.jpg", ResultKey("abc", 4))
}
