package reconcile

import (
	"context"
	"errors"
	"strings"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/timeline"
)

// merge applies one remote event to the store and counts the outcome
func (e *Engine) merge(ctx context.Context, ev models.RemoteEvent, res *PassResult) error {
	if timeline.IsDiscarded(ev) {
		if timeline.IsFanoutEcho(ev) {
			res.Echoes++
		} else {
			res.Filtered++
		}
		return nil
	}
	key := timeline.ComputeDedupKey(ev)

	existing, err := e.store.GetByDedupKey(ctx, *key)
	switch {
	case err == nil:
		res.Skipped++
		if ev.Delivered && !existing.Delivered {
			return e.store.MarkDelivered(ctx, existing.ID, ev.DeliveredTo)
		}
		return nil
	case !errors.Is(err, timeline.ErrNotFound):
		return err
	}

	if ev.FromUser && e.isLocalSource(ev.Source) {
		reconciled, err := e.reconcileLocal(ctx, ev, *key)
		if err != nil {
			return err
		}
		if reconciled {
			res.Reconciled++
			return nil
		}
	}

	inserted, err := e.store.Insert(ctx, recordFromEvent(ev, *key))
	if err != nil {
		return err
	}
	if inserted {
		res.Inserted++
	} else {
		res.Skipped++
	}
	return nil
}

// reconcileLocal attaches key to a locally composed record that the remote
// log has now confirmed. Matching is by source, text and a time window, so
// two identical messages sent within the window pair up oldest first.
func (e *Engine) reconcileLocal(ctx context.Context, ev models.RemoteEvent, key string) (bool, error) {
	candidate, err := e.store.FindReconcileCandidate(ctx, ev.Source, ev.Text, ev.Timestamp, e.cfg.ReconcileWindow)
	if errors.Is(err, timeline.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := e.store.AttachDedupKey(ctx, candidate.ID, key)
	if err != nil || !ok {
		return false, err
	}
	if ev.Delivered {
		if err := e.store.MarkDelivered(ctx, candidate.ID, ev.DeliveredTo); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (e *Engine) isLocalSource(source string) bool {
	for _, s := range e.cfg.LocalSources {
		if s == source {
			return true
		}
	}
	return false
}

func recordFromEvent(ev models.RemoteEvent, key string) *models.MessageRecord {
	k := key
	rec := &models.MessageRecord{
		Text:        ev.Text,
		Timestamp:   ev.Timestamp,
		Direction:   ev.Direction(),
		MediaType:   ev.MediaType,
		DedupKey:    &k,
		Synced:      true,
		Delivered:   ev.Delivered,
		DeliveredTo: ev.DeliveredTo,
	}

	if ev.FromUser {
		rec.SourceChannel = ev.Source
		rec.TargetIDs = ev.TargetIDs
		rec.Category = models.CategoryUserToOne
		if len(ev.TargetIDs) > 1 || strings.HasPrefix(ev.Source, timeline.MissionNotifyPrefix) {
			rec.Category = models.CategoryUserBroadcast
		}
		return rec
	}

	rec.Origin = models.OriginEntity{
		ID:           ev.EntityID,
		DisplayName:  ev.EntityName,
		CharacterTag: ev.CharacterTag,
	}
	rec.Category = models.CategoryEntityResponse
	if route, ok := timeline.ParseEntityRoute(ev.Source); ok {
		rec.Category = models.CategoryEntityToEntity
		rec.TargetIDs = route.Targets
		if rec.Origin.CharacterTag == "" {
			rec.Origin.CharacterTag = route.SenderTag
		}
	} else if len(ev.TargetIDs) > 0 {
		rec.TargetIDs = ev.TargetIDs
	}
	return rec
}
