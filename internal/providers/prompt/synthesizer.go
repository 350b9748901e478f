// Package prompt turns reference counts into a photography directive via an
// OpenAI-compatible chat completions endpoint. Synthesis never hard-fails:
// any transport or payload problem falls back to a static directive.
package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FallbackDirective is used whenever the chat model cannot be reached or
// returns nothing usable.
const FallbackDirective = "Professional corporate headshot of a business person in a modern Polish office environment. " +
	"Natural window light with soft studio fill, shot on Sony A7R V with 85mm lens at f/2.0. " +
	"Photorealistic, sharp focus on face with beautiful bokeh background, warm professional color grading."

const systemDirective = "You are a professional photography prompt engineer specializing in corporate headshots " +
	"and business photography. Create a highly detailed, photorealistic image generation prompt for a corporate photoshoot session."

const synthesizerDefaultTimeout = 15 * time.Second

type Options struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	// OnFallback is invoked whenever the static directive is substituted.
	OnFallback func(reason string, err error)
}

// Synthesizer calls the chat model once per run to produce the base
// generation directive.
type Synthesizer struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	client       *http.Client
	onFallback   func(reason string, err error)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewSynthesizer(opts Options) *Synthesizer {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: synthesizerDefaultTimeout}
	}
	return &Synthesizer{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		onFallback:   opts.OnFallback,
	}
}

// Synthesize produces the base directive for a session with the given
// reference counts. It always returns a non-empty directive.
func (s *Synthesizer) Synthesize(ctx context.Context, faceCount, officeCount int) string {
	if s.apiKey == "" {
		return s.fallback("missing_api_key", nil)
	}
	payload := chatRequest{
		Model:       s.model,
		MaxTokens:   300,
		Temperature: 0.7,
		Messages: []chatMessage{
			{Role: "system", Content: systemDirective},
			{Role: "user", Content: buildUserDirective(faceCount, officeCount)},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return s.fallback("encode_request", err)
	}
	endpoint := fmt.Sprintf("%s/chat/completions", s.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return s.fallback("build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	if s.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", s.organization)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return s.fallback("http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return s.fallback(fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("chat completions status %d", resp.StatusCode))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return s.fallback("decode_response", err)
	}
	if len(out.Choices) == 0 {
		return s.fallback("empty_choices", errors.New("no choices"))
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return s.fallback("empty_response", errors.New("empty response"))
	}
	return text
}

func (s *Synthesizer) fallback(reason string, err error) string {
	if s.onFallback != nil {
		s.onFallback(reason, err)
	}
	return FallbackDirective
}

func buildUserDirective(faceCount, officeCount int) string {
	return fmt.Sprintf(`Generate a professional corporate photography prompt for a business headshot session.
The session provides %d face reference photo(s) of the person and %d office/workspace reference photo(s).

Requirements for the prompt:
- Photorealistic, professional corporate headshot
- Natural office lighting (window light + soft studio fill)
- The person should look confident and approachable
- Business attire appropriate for Polish corporate culture
- Sharp focus on face, slightly blurred background (bokeh)
- High-end camera quality feel (shot on Sony A7R V, 85mm lens, f/2.0)
- Color grading: clean, professional, slightly warm tones

Generate ONLY the image prompt, nothing else. Make it 2-3 sentences.`, faceCount, officeCount)
}
