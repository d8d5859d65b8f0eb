package threadmap_test

import (
	"context"
	"errors"
	"testing"

	"github.com/softspoken-ai/dialtone/internal/threadmap"
)

func TestMemStore_GetOrCreateIsStable(t *testing.T) {
	t.Parallel()
	s := threadmap.NewMemStore()
	ctx := context.Background()

	first, created, err := s.GetOrCreate(ctx, "+15551234567", "phone", "CA1", "Mario")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first call must create")
	}
	if first == "" {
		t.Fatal("empty thread id")
	}

	second, created, err := s.GetOrCreate(ctx, "+15551234567", "phone", "CA2", "")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second call must reuse")
	}
	if second != first {
		t.Errorf("thread changed across calls: %q then %q", first, second)
	}

	// The repeat call rebound the call SID but kept the name.
	if got, err := s.ByCallSID(ctx, "CA2"); err != nil || got != first {
		t.Errorf("ByCallSID after refresh: %q, %v", got, err)
	}
	m, err := s.ByThreadID(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if m.UserName != "Mario" {
		t.Errorf("empty userName overwrote stored name: %q", m.UserName)
	}
}

func TestMemStore_DistinctIdentifiersGetDistinctThreads(t *testing.T) {
	t.Parallel()
	s := threadmap.NewMemStore()
	ctx := context.Background()

	a, _, _ := s.GetOrCreate(ctx, "+15551111111", "phone", "", "")
	b, _, _ := s.GetOrCreate(ctx, "+15552222222", "phone", "", "")
	c, _, _ := s.GetOrCreate(ctx, "+15551111111", "session", "", "")
	if a == b || a == c {
		t.Errorf("threads not distinct: %q %q %q", a, b, c)
	}
}

func TestMemStore_Lookups(t *testing.T) {
	t.Parallel()
	s := threadmap.NewMemStore()
	ctx := context.Background()

	threadID, _, err := s.GetOrCreate(ctx, "+15551234567", "phone", "CA100", "Jane")
	if err != nil {
		t.Fatal(err)
	}

	if got, err := s.ByExternalID(ctx, "+15551234567", "phone"); err != nil || got != threadID {
		t.Errorf("ByExternalID: %q, %v", got, err)
	}
	if got, err := s.ByCallSID(ctx, "CA100"); err != nil || got != threadID {
		t.Errorf("ByCallSID: %q, %v", got, err)
	}
	m, err := s.ByThreadID(ctx, threadID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExternalID != "+15551234567" || m.UserName != "Jane" {
		t.Errorf("reverse lookup: %+v", m)
	}

	if _, err := s.ByExternalID(ctx, "+15559999999", "phone"); !errors.Is(err, threadmap.ErrNotFound) {
		t.Errorf("missing lookup: got %v, want ErrNotFound", err)
	}
}

func TestMemStore_UpdateMetadataMerges(t *testing.T) {
	t.Parallel()
	s := threadmap.NewMemStore()
	ctx := context.Background()

	threadID, _, _ := s.GetOrCreate(ctx, "+15551234567", "phone", "", "")
	if err := s.UpdateMetadata(ctx, threadID, map[string]any{"campaign": "spring", "attempts": 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateMetadata(ctx, threadID, map[string]any{"attempts": 2}); err != nil {
		t.Fatal(err)
	}

	m, err := s.ByThreadID(ctx, threadID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Metadata["campaign"] != "spring" {
		t.Errorf("merge dropped key: %v", m.Metadata)
	}
	if m.Metadata["attempts"] != 2 {
		t.Errorf("merge did not overwrite: %v", m.Metadata)
	}

	if err := s.UpdateMetadata(ctx, "no-such-thread", map[string]any{}); !errors.Is(err, threadmap.ErrNotFound) {
		t.Errorf("metadata on missing thread: got %v, want ErrNotFound", err)
	}
}

func TestMemStore_DeactivateAndForceNew(t *testing.T) {
	t.Parallel()
	s := threadmap.NewMemStore()
	ctx := context.Background()

	old, _, _ := s.GetOrCreate(ctx, "+15551234567", "phone", "", "")

	ok, err := s.Deactivate(ctx, "+15551234567", "phone")
	if err != nil || !ok {
		t.Fatalf("Deactivate: %v %v", ok, err)
	}
	if _, err := s.ByExternalID(ctx, "+15551234567", "phone"); !errors.Is(err, threadmap.ErrNotFound) {
		t.Error("deactivated mapping still resolves")
	}
	if ok, _ := s.Deactivate(ctx, "+15551234567", "phone"); ok {
		t.Error("second deactivate reported success")
	}

	fresh, err := s.ForceNew(ctx, "+15551234567", "phone", "CA7", "")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == old {
		t.Error("ForceNew reused the deactivated thread")
	}
	if got, _ := s.ByExternalID(ctx, "+15551234567", "phone"); got != fresh {
		t.Errorf("active thread after ForceNew: %q, want %q", got, fresh)
	}
}
