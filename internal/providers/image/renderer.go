// Package image renders photoshoot variations through the Gemini
// generateContent API. Each call is fully stateless: the directive and all
// reference payloads are re-supplied every time so a failed variation can be
// retried in isolation.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/references"
)

// ErrNoImage is returned when the model answers without any inline image
// part. The caller owns the retry policy; this package never retries.
var ErrNoImage = errors.New("image: model returned no image data")

const (
	faceTag   = "Face reference photos of the person (maintain this person's identity, clothing and expression exactly in the generated image):"
	officeTag = "Office/workspace reference photos (use this environment as the background/setting exactly):"

	rendererDefaultTimeout = 90 * time.Second
)

type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Renderer issues one multimodal request per variation.
type Renderer struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

func NewRenderer(opts Options) *Renderer {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-3-pro-image-preview"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: rendererDefaultTimeout}
	}
	return &Renderer{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		httpClient: client,
	}
}

// Model returns the configured model identifier.
func (r *Renderer) Model() string {
	return r.model
}

// Render generates one image for the given directive and variation
// instruction, conditioned on the supplied reference images. It returns the
// first inline image payload found in the response, or ErrNoImage.
func (r *Renderer) Render(ctx context.Context, directive, instruction string, faces, offices []references.Image) ([]byte, error) {
	parts := make([]geminiPart, 0, len(faces)+len(offices)+4)
	parts = append(parts, geminiPart{Text: faceTag})
	for _, img := range faces {
		parts = append(parts, inlinePart(img))
	}
	parts = append(parts, geminiPart{Text: officeTag})
	for _, img := range offices {
		parts = append(parts, inlinePart(img))
	}
	parts = append(parts, geminiPart{Text: directive})
	parts = append(parts, geminiPart{Text: instruction})

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(r.model))
	if err := r.invoke(ctx, path, payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode inline data: %w", err)
			}
			return data, nil
		}
	}
	return nil, ErrNoImage
}

func inlinePart(img references.Image) geminiPart {
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: img.MimeType,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}}
}

func (r *Renderer) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := r.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	if r.apiKey != "" {
		q.Set("key", r.apiKey)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}
