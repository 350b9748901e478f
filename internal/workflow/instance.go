// Package workflow implements the durable generation pipeline: a step-based
// state machine whose per-step results are committed to a store before the
// next step starts, so a crash or restart resumes instead of repeating work.
package workflow

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusComplete   Status = "complete"
	StatusErrored    Status = "errored"
	StatusTerminated Status = "terminated"
)

const (
	// StepGeneratePrompt is the directive-synthesis step name.
	StepGeneratePrompt = "generate-prompt"

	// VariationCount is the number of output photos attempted per session.
	VariationCount = 4

	// MaxFaceRefs and MaxOfficeRefs cap how many reference images are sent
	// to the renderer, in upload order.
	MaxFaceRefs   = 4
	MaxOfficeRefs = 2
)

// VariationInstructions are the fixed per-variation directives, 1-indexed by
// variation number. They vary pose and framing only; the subject's expression
// comes from the reference photos.
var VariationInstructions = [VariationCount]string{
	"Generate variation 1: head-on framing, direct eye contact with the camera. Keep the person's exact facial expression from the reference photos.",
	"Generate variation 2: three-quarter profile framing. Keep the person's exact facial expression from the reference photos.",
	"Generate variation 3: subject looking slightly off-camera. Keep the person's exact facial expression from the reference photos.",
	"Generate variation 4: waist-up framing, facing the camera directly. Keep the person's exact facial expression from the reference photos.",
}

// VariationStep returns the durable step name for variation n (1-indexed).
func VariationStep(n int) string {
	return fmt.Sprintf("generate-variation-%d", n)
}

// ResultKey returns the blob key for variation n of a session. The format is
// fixed; existing clients resolve results by this convention.
func ResultKey(sessionID string, n int) string {
	return fmt.Sprintf("results/%s/photo-%d.jpg", sessionID, n)
}

// Instance is the durable execution record for one generation session. Only
// small values live here: the synthesized directive and result blob keys.
// Reference payloads are re-fetched from the blob store on demand.
type Instance struct {
	ID          string            `json:"id"`
	UID         string            `json:"uid"`
	FaceKeys    []string          `json:"faceKeys"`
	OfficeKeys  []string          `json:"officeKeys"`
	Status      Status            `json:"status"`
	StepResults map[string]string `json:"stepResults"`
	Output      []string          `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the store.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.FaceKeys = append([]string(nil), i.FaceKeys...)
	out.OfficeKeys = append([]string(nil), i.OfficeKeys...)
	out.Output = append([]string(nil), i.Output...)
	out.StepResults = make(map[string]string, len(i.StepResults))
	for k, v := range i.StepResults {
		out.StepResults[k] = v
	}
	return &out
}
