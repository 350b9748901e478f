package workflow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps instances in process memory. It backs tests and
// single-process development runs; production uses PostgresStore.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
	order     []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]*Instance)}
}

func (s *MemoryStore) Create(ctx context.Context, inst *Instance) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[inst.ID]; ok {
		return existing.Clone(), nil
	}
	stored := inst.Clone()
	stored.Status = StatusQueued
	if stored.StepResults == nil {
		stored.StepResults = make(map[string]string)
	}
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.instances[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

func (s *MemoryStore) ClaimQueued(ctx context.Context) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range s.order {
		inst := s.instances[id]
		stalled := inst.Status == StatusRunning && now.Sub(inst.UpdatedAt) >= staleRunningAfter
		if inst.Status != StatusQueued && !stalled {
			continue
		}
		inst.Status = StatusRunning
		inst.UpdatedAt = now
		return inst.Clone(), nil
	}
	return nil, ErrNoneQueued
}

func (s *MemoryStore) CommitStep(ctx context.Context, id, step, result string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	inst.StepResults[step] = result
	inst.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, output []string) error {
	return s.transition(ctx, id, func(inst *Instance) {
		if inst.Status != StatusRunning {
			return
		}
		inst.Status = StatusComplete
		inst.Output = append([]string(nil), output...)
		inst.Error = ""
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id, message string) error {
	return s.transition(ctx, id, func(inst *Instance) {
		if inst.Status != StatusRunning {
			return
		}
		inst.Status = StatusErrored
		inst.Error = message
	})
}

func (s *MemoryStore) Terminate(ctx context.Context, id string) error {
	return s.transition(ctx, id, func(inst *Instance) {
		if inst.Status == StatusQueued || inst.Status == StatusRunning {
			inst.Status = StatusTerminated
		}
	})
}

func (s *MemoryStore) transition(ctx context.Context, id string, apply func(*Instance)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	apply(inst)
	inst.UpdatedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
