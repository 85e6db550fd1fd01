package models

// RemoteEvent is one entry of the authoritative remote log, already decoded
// from its wire form. ID is assigned by the remote side and never changes.
type RemoteEvent struct {
	ID           string   `json:"id"`
	EntityID     int      `json:"entityId"`
	EntityName   string   `json:"entityName"`
	CharacterTag string   `json:"characterTag"`
	Text         string   `json:"text"`
	Source       string   `json:"source"`
	FromUser     bool     `json:"fromUser"`
	Timestamp    int64    `json:"timestamp"`
	MediaType    string   `json:"mediaType,omitempty"`
	TargetIDs    []string `json:"targetIds,omitempty"`
	Delivered    bool     `json:"delivered"`
	DeliveredTo  []string `json:"deliveredTo,omitempty"`
}

// Direction maps the remote author flag onto the local enum
func (e RemoteEvent) Direction() Direction {
	if e.FromUser {
		return DirectionFromLocalUser
	}
	return DirectionFromRemoteEntity
}
