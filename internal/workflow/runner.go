package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"server/internal/infra"
	"server/internal/references"
	"server/internal/storage"
)

// PromptSynthesizer produces the base generation directive. It must always
// return a usable directive; internal failures fall back to a static one.
type PromptSynthesizer interface {
	Synthesize(ctx context.Context, faceCount, officeCount int) string
}

// ImageRenderer produces one image per call, or fails.
type ImageRenderer interface {
	Render(ctx context.Context, directive, instruction string, faces, offices []references.Image) ([]byte, error)
}

// ReferenceFetcher resolves reference keys into decoded payloads.
type ReferenceFetcher interface {
	Fetch(ctx context.Context, keys []string) ([]references.Image, error)
}

// RetryPolicy bounds how often a step is attempted and how long to wait
// between attempts. A BackoffRate of 1 yields linear (constant) delays;
// higher rates grow the delay per attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	BackoffRate float64
}

// Delay returns the wait before attempt+1, given the 1-indexed attempt that
// just failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	rate := p.BackoffRate
	if rate < 1 {
		rate = 1
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * rate)
	}
	return delay
}

var (
	defaultPromptRetry    = RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, BackoffRate: 2}
	defaultVariationRetry = RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Second, BackoffRate: 1}
)

// Config wires a Runner. PromptRetry and VariationRetry default to the
// production policies when left zero.
type Config struct {
	Store          Store
	References     ReferenceFetcher
	Prompts        PromptSynthesizer
	Renderer       ImageRenderer
	Blobs          storage.BlobStore
	Logger         infra.Logger
	PromptRetry    RetryPolicy
	VariationRetry RetryPolicy
}

// Runner executes one instance's steps strictly in sequence, committing each
// result before starting the next step. Instances are independent; run as
// many Runners concurrently as you like against the same store.
type Runner struct {
	store          Store
	refs           ReferenceFetcher
	prompts        PromptSynthesizer
	renderer       ImageRenderer
	blobs          storage.BlobStore
	logger         infra.Logger
	promptRetry    RetryPolicy
	variationRetry RetryPolicy
}

func NewRunner(cfg Config) *Runner {
	promptRetry := cfg.PromptRetry
	if promptRetry.MaxAttempts == 0 {
		promptRetry = defaultPromptRetry
	}
	variationRetry := cfg.VariationRetry
	if variationRetry.MaxAttempts == 0 {
		variationRetry = defaultVariationRetry
	}
	return &Runner{
		store:          cfg.Store,
		refs:           cfg.References,
		prompts:        cfg.Prompts,
		renderer:       cfg.Renderer,
		blobs:          cfg.Blobs,
		logger:         cfg.Logger,
		promptRetry:    promptRetry,
		variationRetry: variationRetry,
	}
}

// Run executes inst until it reaches a terminal status or ctx is cancelled.
// inst must already be claimed (status running). Steps whose results are
// already committed are skipped, so re-running a partially executed instance
// resumes where it stopped.
func (r *Runner) Run(ctx context.Context, inst *Instance) error {
	log := r.logger.With().Str("instance_id", inst.ID).Logger()
	steps := inst.StepResults
	if steps == nil {
		steps = make(map[string]string)
	}

	directive, ok := steps[StepGeneratePrompt]
	if ok {
		log.Debug().Msg("workflow: directive already committed, skipping synthesis")
	} else {
		var err error
		directive, err = r.runStep(ctx, inst.ID, StepGeneratePrompt, r.promptRetry, log, func(ctx context.Context) (string, error) {
			d := r.prompts.Synthesize(ctx, min(len(inst.FaceKeys), MaxFaceRefs), min(len(inst.OfficeKeys), MaxOfficeRefs))
			if strings.TrimSpace(d) == "" {
				return "", errors.New("synthesizer returned empty directive")
			}
			return d, nil
		})
		if err != nil {
			// No directive means nothing can be rendered.
			if failErr := r.store.Fail(ctx, inst.ID, fmt.Sprintf("generate-prompt: %v", err)); failErr != nil {
				return failErr
			}
			return fmt.Errorf("generate-prompt: %w", err)
		}
		steps[StepGeneratePrompt] = directive
	}

	for n := 1; n <= VariationCount; n++ {
		stopped, err := r.terminated(ctx, inst.ID)
		if err != nil {
			return err
		}
		if stopped {
			log.Info().Msg("workflow: terminated, stopping at step boundary")
			return nil
		}

		step := VariationStep(n)
		if _, done := steps[step]; done {
			log.Debug().Str("step", step).Msg("workflow: step already committed, skipping")
			continue
		}
		key, err := r.runStep(ctx, inst.ID, step, r.variationRetry, log, func(ctx context.Context) (string, error) {
			return r.renderVariation(ctx, inst, directive, n)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Drop-and-continue: a failed variation costs one output
			// image, never the whole run.
			log.Warn().Err(err).Str("step", step).Msg("workflow: variation dropped after retry exhaustion")
			continue
		}
		steps[step] = key
	}

	stopped, err := r.terminated(ctx, inst.ID)
	if err != nil {
		return err
	}
	if stopped {
		log.Info().Msg("workflow: terminated before aggregation")
		return nil
	}

	urls := make([]string, 0, VariationCount)
	for n := 1; n <= VariationCount; n++ {
		if key, ok := steps[VariationStep(n)]; ok {
			urls = append(urls, r.blobs.PublicURL(key))
		}
	}
	if err := r.store.Complete(ctx, inst.ID, urls); err != nil {
		return fmt.Errorf("complete instance: %w", err)
	}
	log.Info().Int("results", len(urls)).Msg("workflow: complete")
	return nil
}

// runStep attempts fn under the given retry policy and commits the result
// before returning it. Missing reference blobs are not retried; waiting will
// not make an absent object appear.
func (r *Runner) runStep(ctx context.Context, id, step string, policy RetryPolicy, log infra.Logger, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if commitErr := r.store.CommitStep(ctx, id, step, result); commitErr != nil {
				return "", fmt.Errorf("commit %s: %w", step, commitErr)
			}
			return result, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("step", step).Int("attempt", attempt).Msg("workflow: step attempt failed")
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if attempt < policy.MaxAttempts {
			if err := sleepCtx(ctx, policy.Delay(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

func (r *Runner) renderVariation(ctx context.Context, inst *Instance, directive string, n int) (string, error) {
	faces, err := r.refs.Fetch(ctx, references.Cap(inst.FaceKeys, MaxFaceRefs))
	if err != nil {
		return "", err
	}
	offices, err := r.refs.Fetch(ctx, references.Cap(inst.OfficeKeys, MaxOfficeRefs))
	if err != nil {
		return "", err
	}
	data, err := r.renderer.Render(ctx, directive, VariationInstructions[n-1], faces, offices)
	if err != nil {
		return "", err
	}
	key, err := r.blobs.Put(ctx, ResultKey(inst.ID, n), data, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("persist result: %w", err)
	}
	return key, nil
}

func (r *Runner) terminated(ctx context.Context, id string) (bool, error) {
	current, err := r.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("refresh instance: %w", err)
	}
	return current.Status == StatusTerminated, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
