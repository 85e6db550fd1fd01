package integrity

import (
	"fmt"
	"time"
	"unicode/utf8"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/timeline"
)

// Layer names which pair of views a finding compares
type Layer string

const (
	LayerData    Layer = "data"
	LayerDisplay Layer = "display"
)

// CheckType identifies the check that produced a finding
type CheckType string

const (
	CheckMessageCount      CheckType = "message_count"
	CheckContentMismatch   CheckType = "content_mismatch"
	CheckDirectionMismatch CheckType = "direction_mismatch"
	CheckMediaTypeMismatch CheckType = "media_type_mismatch"
	CheckBubbleCount       CheckType = "bubble_count"
	CheckDirection         CheckType = "direction"
	CheckOrdering          CheckType = "ordering"
)

const (
	sampleSize    = 5
	textPreviewAt = 80
)

// Finding is one detected inconsistency between two views of the timeline
type Finding struct {
	Layer       Layer                  `json:"layer"`
	CheckType   CheckType              `json:"checkType"`
	Description string                 `json:"description"`
	Expected    map[string]interface{} `json:"expected,omitempty"`
	Actual      map[string]interface{} `json:"actual,omitempty"`
	AffectedIDs []string               `json:"affectedIds,omitempty"`
	DetectedAt  time.Time              `json:"detectedAt"`
}

// Fingerprint is the cooldown key: check type plus the first affected id
func (f Finding) Fingerprint() string {
	first := "none"
	if len(f.AffectedIDs) > 0 {
		first = f.AffectedIDs[0]
	}
	return string(f.CheckType) + ":" + first
}

// DataConfig bounds the data-layer check
type DataConfig struct {
	// LocalOnlySources are user sources written locally before the remote
	// log assigns them an id. Remote copies of those are not counted missing.
	LocalOnlySources []string
	// MissingThreshold is the number of missing records tolerated before a
	// message_count finding is raised
	MissingThreshold int
	// Window is how many of the most recent remote records get field checks
	Window int
}

// DefaultDataConfig returns the production thresholds
func DefaultDataConfig() DataConfig {
	return DataConfig{
		LocalOnlySources: []string{"android_chat", "android_widget", "web"},
		MissingThreshold: 2,
		Window:           50,
	}
}

// CheckDataLayer compares the remote log against local records keyed by
// dedup key. It returns the first finding or nil.
func CheckDataLayer(local map[string]models.MessageRecord, remote []models.RemoteEvent, cfg DataConfig) *Finding {
	localOnly := make(map[string]bool, len(cfg.LocalOnlySources))
	for _, s := range cfg.LocalOnlySources {
		localOnly[s] = true
	}

	var expected, missing []string
	for _, ev := range remote {
		if timeline.IsDiscarded(ev) || (ev.FromUser && localOnly[ev.Source]) {
			continue
		}
		key := timeline.ComputeDedupKey(ev)
		expected = append(expected, *key)
		if _, ok := local[*key]; !ok {
			missing = append(missing, *key)
		}
	}

	if len(missing) > cfg.MissingThreshold {
		sample := missing
		if len(sample) > sampleSize {
			sample = sample[:sampleSize]
		}
		return &Finding{
			Layer:       LayerData,
			CheckType:   CheckMessageCount,
			Description: fmt.Sprintf("local replica missing %d messages from remote log", len(missing)),
			Expected:    map[string]interface{}{"count": len(expected)},
			Actual:      map[string]interface{}{"count": len(local), "missingCount": len(missing)},
			AffectedIDs: append([]string(nil), sample...),
		}
	}

	window := remote
	if cfg.Window > 0 && len(window) > cfg.Window {
		window = window[len(window)-cfg.Window:]
	}
	for _, ev := range window {
		if timeline.IsDiscarded(ev) {
			continue
		}
		key := timeline.ComputeDedupKey(ev)
		rec, ok := local[*key]
		if !ok {
			continue
		}
		if f := compareRecord(ev, rec); f != nil {
			return f
		}
	}
	return nil
}

func compareRecord(ev models.RemoteEvent, rec models.MessageRecord) *Finding {
	switch {
	case rec.Text != ev.Text:
		return &Finding{
			Layer:       LayerData,
			CheckType:   CheckContentMismatch,
			Description: fmt.Sprintf("message %s text differs", ev.ID),
			Expected:    map[string]interface{}{"text": preview(ev.Text)},
			Actual:      map[string]interface{}{"text": preview(rec.Text)},
			AffectedIDs: []string{ev.ID},
		}
	case rec.Direction != ev.Direction():
		return &Finding{
			Layer:       LayerData,
			CheckType:   CheckDirectionMismatch,
			Description: fmt.Sprintf("message %s direction differs", ev.ID),
			Expected:    map[string]interface{}{"direction": ev.Direction()},
			Actual:      map[string]interface{}{"direction": rec.Direction},
			AffectedIDs: []string{ev.ID},
		}
	case rec.MediaType != ev.MediaType:
		return &Finding{
			Layer:       LayerData,
			CheckType:   CheckMediaTypeMismatch,
			Description: fmt.Sprintf("message %s media type differs", ev.ID),
			Expected:    map[string]interface{}{"mediaType": ev.MediaType},
			Actual:      map[string]interface{}{"mediaType": rec.MediaType},
			AffectedIDs: []string{ev.ID},
		}
	}
	return nil
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= textPreviewAt {
		return s
	}
	return string([]rune(s)[:textPreviewAt])
}

// Materialized is what a rendering layer reports it is actually showing
type Materialized interface {
	MaterializedCount() int
	MaterializedIdentityAt(pos int) (uint, bool)
	MaterializedDirectionAt(pos int) (models.Direction, bool)
}

// RenderedItem is one materialized row as reported by a renderer
type RenderedItem struct {
	ID        uint             `json:"id"`
	Direction models.Direction `json:"direction"`
}

// Snapshot adapts a reported list of rendered rows to Materialized
type Snapshot []RenderedItem

func (s Snapshot) MaterializedCount() int { return len(s) }

func (s Snapshot) MaterializedIdentityAt(pos int) (uint, bool) {
	if pos < 0 || pos >= len(s) {
		return 0, false
	}
	return s[pos].ID, true
}

func (s Snapshot) MaterializedDirectionAt(pos int) (models.Direction, bool) {
	if pos < 0 || pos >= len(s) {
		return "", false
	}
	return s[pos].Direction, true
}

// CheckDisplayLayer compares the list handed to a renderer with what it
// materialized. Only the first window positions are compared row by row.
func CheckDisplayLayer(submitted []models.MessageRecord, view Materialized, window int) *Finding {
	count := view.MaterializedCount()
	if count != len(submitted) {
		return &Finding{
			Layer:       LayerDisplay,
			CheckType:   CheckBubbleCount,
			Description: fmt.Sprintf("renderer has %d items but %d were submitted", count, len(submitted)),
			Expected:    map[string]interface{}{"count": len(submitted)},
			Actual:      map[string]interface{}{"count": count},
		}
	}

	n := len(submitted)
	if window > 0 && n > window {
		n = window
	}
	for i := 0; i < n; i++ {
		want := submitted[i]
		dir, ok := view.MaterializedDirectionAt(i)
		if !ok {
			break
		}
		if dir != want.Direction {
			return &Finding{
				Layer:       LayerDisplay,
				CheckType:   CheckDirection,
				Description: fmt.Sprintf("item %d rendered on the wrong side", i),
				Expected:    map[string]interface{}{"direction": want.Direction},
				Actual:      map[string]interface{}{"direction": dir},
				AffectedIDs: []string{fmt.Sprint(want.ID)},
			}
		}
		id, ok := view.MaterializedIdentityAt(i)
		if !ok {
			break
		}
		if id != want.ID {
			return &Finding{
				Layer:       LayerDisplay,
				CheckType:   CheckOrdering,
				Description: fmt.Sprintf("item %d id mismatch", i),
				Expected:    map[string]interface{}{"id": want.ID},
				Actual:      map[string]interface{}{"id": id},
				AffectedIDs: []string{fmt.Sprint(want.ID), fmt.Sprint(id)},
			}
		}
	}
	return nil
}
