package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"claw-companion/backend/internal/models"
)

var (
	// ErrEntityNotFound is returned when a mutation names an unknown item, note or rule
	ErrEntityNotFound = errors.New("document: entity not found")
	// ErrInvalidChange wraps validation failures of a mutation
	ErrInvalidChange = errors.New("document: invalid change")
)

// Change is the context a mutation runs in
type Change struct {
	By  models.Writer
	At  int64
	IDs func() string
}

// Mutation edits a copy of the dashboard
type Mutation func(d *models.Dashboard, c Change) error

// Editor applies sub-entity mutations as read-modify-write of the whole
// document under the caller's expected version
type Editor struct {
	store Store
	now   func() time.Time
	ids   func() string
}

type EditorOption func(*Editor)

func WithEditorClock(now func() time.Time) EditorOption {
	return func(e *Editor) { e.now = now }
}

func WithIDs(ids func() string) EditorOption {
	return func(e *Editor) { e.ids = ids }
}

func NewEditor(store Store, opts ...EditorOption) *Editor {
	e := &Editor{store: store, now: time.Now, ids: newID}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying document store
func (e *Editor) Store() Store {
	return e.store
}

// Mutate applies fn to the owner's document. It fails with a
// *VersionConflictError without writing when the stored version already
// differs from expectedVersion.
func (e *Editor) Mutate(ctx context.Context, ownerID string, expectedVersion int64, by models.Writer, fn Mutation) (*Document, error) {
	if !by.Valid() {
		return nil, fmt.Errorf("%w: unknown writer %q", ErrInvalidChange, by)
	}
	doc, err := e.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Version != expectedVersion {
		return nil, &VersionConflictError{OwnerID: ownerID, Expected: expectedVersion, Actual: doc.Version}
	}

	now := e.now()
	payload := doc.Payload.Clone()
	if err := fn(&payload, Change{By: by, At: now.UnixMilli(), IDs: e.ids}); err != nil {
		return nil, err
	}

	version, err := e.store.Put(ctx, ownerID, payload, expectedVersion)
	if err != nil {
		return nil, err
	}
	return &Document{
		OwnerID:      ownerID,
		Payload:      normalize(payload),
		Version:      version,
		LastSyncedAt: now.UnixMilli(),
		UpdatedAt:    now,
	}, nil
}

// Apply runs several mutations in order as one write
func Apply(muts ...Mutation) Mutation {
	return func(d *models.Dashboard, c Change) error {
		for _, m := range muts {
			if err := m(d, c); err != nil {
				return err
			}
		}
		return nil
	}
}
