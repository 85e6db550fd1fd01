package timeline

import (
	"strings"

	"claw-companion/backend/internal/models"
)

// RemoteKeyPrefix prefixes the dedup key of every record pulled from the remote log
const RemoteKeyPrefix = "remote_"

// RemoteKey formats the dedup key for a remote identifier
func RemoteKey(remoteID string) string {
	return RemoteKeyPrefix + remoteID
}

// ComputeDedupKey derives the stable identity of a remote event.
// It returns nil when the event carries no remote identifier yet, which is
// the case for locally composed messages before the remote log accepts them.
func ComputeDedupKey(ev models.RemoteEvent) *string {
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		return nil
	}
	key := RemoteKey(id)
	return &key
}

// RemoteIDFromKey reverses RemoteKey
func RemoteIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, RemoteKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, RemoteKeyPrefix), true
}
