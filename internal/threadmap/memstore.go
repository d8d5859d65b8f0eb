package threadmap

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for development and tests. Mappings do not
// survive a restart.
type MemStore struct {
	mu       sync.Mutex
	mappings []*Mapping
	inactive []*Mapping
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) findLocked(externalID, externalType string) *Mapping {
	for _, m := range s.mappings {
		if m.ExternalID == externalID && m.ExternalType == externalType {
			return m
		}
	}
	return nil
}

// GetOrCreate implements [Store].
func (s *MemStore) GetOrCreate(_ context.Context, externalID, externalType, callSID, userName string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findLocked(externalID, externalType); m != nil {
		if callSID != "" {
			m.CallSID = callSID
		}
		if userName != "" {
			m.UserName = userName
		}
		m.UpdatedAt = time.Now()
		return m.ThreadID, false, nil
	}
	now := time.Now()
	m := &Mapping{
		ThreadID:     uuid.NewString(),
		ExternalID:   externalID,
		ExternalType: externalType,
		CallSID:      callSID,
		UserName:     userName,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.mappings = append(s.mappings, m)
	return m.ThreadID, true, nil
}

// ByExternalID implements [Store].
func (s *MemStore) ByExternalID(_ context.Context, externalID, externalType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findLocked(externalID, externalType); m != nil {
		return m.ThreadID, nil
	}
	return "", ErrNotFound
}

// ByCallSID implements [Store].
func (s *MemStore) ByCallSID(_ context.Context, callSID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.CallSID == callSID {
			return m.ThreadID, nil
		}
	}
	return "", ErrNotFound
}

// ByThreadID implements [Store].
func (s *MemStore) ByThreadID(_ context.Context, threadID string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.ThreadID == threadID {
			cp := *m
			cp.Metadata = make(map[string]any, len(m.Metadata))
			for k, v := range m.Metadata {
				cp.Metadata[k] = v
			}
			return cp, nil
		}
	}
	return Mapping{}, ErrNotFound
}

// UpdateCallSID implements [Store].
func (s *MemStore) UpdateCallSID(_ context.Context, threadID, callSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.ThreadID == threadID {
			m.CallSID = callSID
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// UpdateMetadata implements [Store].
func (s *MemStore) UpdateMetadata(_ context.Context, threadID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.ThreadID == threadID {
			for k, v := range metadata {
				m.Metadata[k] = v
			}
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// Deactivate implements [Store].
func (s *MemStore) Deactivate(_ context.Context, externalID, externalType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.mappings {
		if m.ExternalID == externalID && m.ExternalType == externalType {
			s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
			s.inactive = append(s.inactive, m)
			return true, nil
		}
	}
	return false, nil
}

// ForceNew implements [Store].
func (s *MemStore) ForceNew(ctx context.Context, externalID, externalType, callSID, userName string) (string, error) {
	if _, err := s.Deactivate(ctx, externalID, externalType); err != nil {
		return "", err
	}
	threadID, _, err := s.GetOrCreate(ctx, externalID, externalType, callSID, userName)
	return threadID, err
}
