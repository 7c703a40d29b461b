package pipeline

import (
	"context"
	"slices"
	"sync"

	"spendcast/internal/core"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
	runs      []RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]Artifact)}
}

func (s *MemoryStore) LoadArtifact(_ context.Context, userID string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[userID]
	if !ok {
		return Artifact{}, core.ErrCheckpointNotFound
	}
	a.Checkpoint.Weights = slices.Clone(a.Checkpoint.Weights)
	return a, nil
}

func (s *MemoryStore) ReplaceArtifact(_ context.Context, a Artifact) error {
	a.Checkpoint.Weights = slices.Clone(a.Checkpoint.Weights)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.UserID] = a
	return nil
}

func (s *MemoryStore) RecordRun(_ context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, userID string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RunRecord
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].UserID != userID {
			continue
		}
		out = append(out, s.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
