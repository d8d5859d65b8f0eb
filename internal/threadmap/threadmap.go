// Package threadmap binds external identifiers (phone numbers, call SIDs) to
// agent conversation threads, so a returning caller lands in the thread that
// already knows them. Mappings are soft-deleted; at most one active mapping
// exists per (external_id, external_type) pair.
package threadmap

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no active mapping matches the lookup.
var ErrNotFound = errors.New("threadmap: mapping not found")

// Mapping is one external-identifier-to-thread binding.
type Mapping struct {
	ThreadID     string
	ExternalID   string
	ExternalType string
	CallSID      string
	UserName     string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists thread mappings. All implementations are safe for
// concurrent use.
type Store interface {
	// GetOrCreate returns the active thread for (externalID, externalType),
	// creating one when none exists. callSID and userName refresh the stored
	// values when non-empty. created reports whether a new thread was made.
	GetOrCreate(ctx context.Context, externalID, externalType, callSID, userName string) (threadID string, created bool, err error)

	// ByExternalID returns the active thread for an external identifier.
	ByExternalID(ctx context.Context, externalID, externalType string) (string, error)

	// ByCallSID returns the active thread bound to a telephony call SID.
	ByCallSID(ctx context.Context, callSID string) (string, error)

	// ByThreadID is the reverse lookup returning the full mapping.
	ByThreadID(ctx context.Context, threadID string) (Mapping, error)

	// UpdateCallSID rebinds the active thread to a new call SID.
	UpdateCallSID(ctx context.Context, threadID, callSID string) error

	// UpdateMetadata merges metadata into the active mapping's stored
	// metadata, overwriting colliding keys.
	UpdateMetadata(ctx context.Context, threadID string, metadata map[string]any) error

	// Deactivate soft-deletes the active mapping. It reports whether a
	// mapping was deactivated.
	Deactivate(ctx context.Context, externalID, externalType string) (bool, error)

	// ForceNew deactivates any existing mapping and creates a fresh thread,
	// used when the caller's history must not carry over.
	ForceNew(ctx context.Context, externalID, externalType, callSID, userName string) (string, error)
}
