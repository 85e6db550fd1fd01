package integrity

import (
	"fmt"
	"strings"
	"testing"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteEntity(id, text string) models.RemoteEvent {
	return models.RemoteEvent{ID: id, EntityID: 1, Text: text, Source: "entity:1:LOBSTER"}
}

func localOf(ev models.RemoteEvent) models.MessageRecord {
	key := timeline.RemoteKey(ev.ID)
	return models.MessageRecord{
		Text:      ev.Text,
		Direction: ev.Direction(),
		MediaType: ev.MediaType,
		DedupKey:  &key,
	}
}

func replica(events ...models.RemoteEvent) map[string]models.MessageRecord {
	out := make(map[string]models.MessageRecord, len(events))
	for _, ev := range events {
		rec := localOf(ev)
		out[*rec.DedupKey] = rec
	}
	return out
}

func TestCheckDataLayer(t *testing.T) {
	cfg := DefaultDataConfig()

	t.Run("consistent replica has no finding", func(t *testing.T) {
		remote := []models.RemoteEvent{remoteEntity("1", "a"), remoteEntity("2", "b")}
		assert.Nil(t, CheckDataLayer(replica(remote...), remote, cfg))
	})

	t.Run("missing at threshold is tolerated", func(t *testing.T) {
		remote := []models.RemoteEvent{remoteEntity("1", "a"), remoteEntity("2", "b"), remoteEntity("3", "c")}
		assert.Nil(t, CheckDataLayer(replica(remote[0]), remote, cfg))
	})

	t.Run("missing above threshold reports count", func(t *testing.T) {
		var remote []models.RemoteEvent
		for i := 0; i < 10; i++ {
			remote = append(remote, remoteEntity(fmt.Sprint(i), "x"))
		}
		f := CheckDataLayer(replica(remote[:3]...), remote, cfg)
		require.NotNil(t, f)
		assert.Equal(t, CheckMessageCount, f.CheckType)
		assert.Equal(t, LayerData, f.Layer)
		assert.Equal(t, 7, f.Actual["missingCount"])
		assert.Len(t, f.AffectedIDs, 5)
		assert.Equal(t, "remote_3", f.AffectedIDs[0])
	})

	t.Run("local-only user sources are not missing", func(t *testing.T) {
		var remote []models.RemoteEvent
		for i := 0; i < 5; i++ {
			remote = append(remote, models.RemoteEvent{ID: fmt.Sprint(i), FromUser: true, Source: "android_chat", Text: "hi"})
		}
		assert.Nil(t, CheckDataLayer(map[string]models.MessageRecord{}, remote, cfg))
	})

	t.Run("fan-out echoes are not missing", func(t *testing.T) {
		sent := models.RemoteEvent{ID: "10", EntityID: 0, Text: "hello all", Source: "entity:0:LOBSTER->1,2,3", TargetIDs: []string{"1", "2", "3"}}
		remote := []models.RemoteEvent{sent}
		for i := 11; i <= 13; i++ {
			remote = append(remote, models.RemoteEvent{ID: fmt.Sprint(i), EntityID: i - 10, Text: "entity:0:LOBSTER: hello all", Source: "entity:0:LOBSTER"})
		}
		assert.Nil(t, CheckDataLayer(replica(sent), remote, cfg))
		assert.Nil(t, CheckDataLayer(map[string]models.MessageRecord{}, remote[1:], cfg))
	})

	t.Run("first mismatch wins", func(t *testing.T) {
		remote := []models.RemoteEvent{remoteEntity("1", "a"), remoteEntity("2", "b")}
		local := replica(remote...)
		r1 := local["remote_1"]
		r1.Text = "changed"
		local["remote_1"] = r1
		r2 := local["remote_2"]
		r2.Direction = models.DirectionFromLocalUser
		local["remote_2"] = r2

		f := CheckDataLayer(local, remote, cfg)
		require.NotNil(t, f)
		assert.Equal(t, CheckContentMismatch, f.CheckType)
		assert.Equal(t, []string{"1"}, f.AffectedIDs)
	})

	t.Run("direction and media type", func(t *testing.T) {
		remote := []models.RemoteEvent{remoteEntity("1", "a")}
		local := replica(remote...)
		r := local["remote_1"]
		r.Direction = models.DirectionFromLocalUser
		local["remote_1"] = r
		f := CheckDataLayer(local, remote, cfg)
		require.NotNil(t, f)
		assert.Equal(t, CheckDirectionMismatch, f.CheckType)

		local = replica(remote...)
		r = local["remote_1"]
		r.MediaType = "photo"
		local["remote_1"] = r
		f = CheckDataLayer(local, remote, cfg)
		require.NotNil(t, f)
		assert.Equal(t, CheckMediaTypeMismatch, f.CheckType)
	})

	t.Run("field checks only cover the window", func(t *testing.T) {
		var remote []models.RemoteEvent
		for i := 0; i < 60; i++ {
			remote = append(remote, remoteEntity(fmt.Sprint(i), "x"))
		}
		local := replica(remote...)
		r := local["remote_0"]
		r.Text = "stale"
		local["remote_0"] = r
		assert.Nil(t, CheckDataLayer(local, remote, cfg))
	})

	t.Run("text preview is truncated", func(t *testing.T) {
		long := strings.Repeat("é", 200)
		remote := []models.RemoteEvent{remoteEntity("1", long)}
		local := replica(remote...)
		r := local["remote_1"]
		r.Text = "short"
		local["remote_1"] = r
		f := CheckDataLayer(local, remote, cfg)
		require.NotNil(t, f)
		assert.Equal(t, 80, len([]rune(f.Expected["text"].(string))))
	})
}

func submittedList(n int) []models.MessageRecord {
	out := make([]models.MessageRecord, n)
	for i := range out {
		out[i] = models.MessageRecord{ID: uint(i + 1), Direction: models.DirectionFromRemoteEntity}
		if i%2 == 0 {
			out[i].Direction = models.DirectionFromLocalUser
		}
	}
	return out
}

func snapshotOf(recs []models.MessageRecord) Snapshot {
	out := make(Snapshot, len(recs))
	for i, r := range recs {
		out[i] = RenderedItem{ID: r.ID, Direction: r.Direction}
	}
	return out
}

func TestCheckDisplayLayer(t *testing.T) {
	list := submittedList(5)

	t.Run("match", func(t *testing.T) {
		assert.Nil(t, CheckDisplayLayer(list, snapshotOf(list), 100))
	})

	t.Run("count mismatch stops", func(t *testing.T) {
		view := snapshotOf(list[:4])
		view[0].Direction = models.DirectionFromRemoteEntity
		f := CheckDisplayLayer(list, view, 100)
		require.NotNil(t, f)
		assert.Equal(t, CheckBubbleCount, f.CheckType)
		assert.Equal(t, 5, f.Expected["count"])
		assert.Equal(t, 4, f.Actual["count"])
		assert.Equal(t, "bubble_count:none", f.Fingerprint())
	})

	t.Run("direction before identity", func(t *testing.T) {
		view := snapshotOf(list)
		view[2] = RenderedItem{ID: 99, Direction: models.DirectionFromRemoteEntity}
		f := CheckDisplayLayer(list, view, 100)
		require.NotNil(t, f)
		assert.Equal(t, CheckDirection, f.CheckType)
		assert.Equal(t, []string{"3"}, f.AffectedIDs)
	})

	t.Run("ordering", func(t *testing.T) {
		view := snapshotOf(list)
		view[1].ID, view[3].ID = view[3].ID, view[1].ID
		f := CheckDisplayLayer(list, view, 100)
		require.NotNil(t, f)
		assert.Equal(t, CheckOrdering, f.CheckType)
		assert.Equal(t, []string{"2", "4"}, f.AffectedIDs)
		assert.Equal(t, "ordering:2", f.Fingerprint())
	})

	t.Run("positions past the window are not compared", func(t *testing.T) {
		view := snapshotOf(list)
		view[4].ID = 42
		assert.Nil(t, CheckDisplayLayer(list, view, 3))
	})
}
