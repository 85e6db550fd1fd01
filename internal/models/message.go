package models

import (
	"time"

	"gorm.io/datatypes"
)

// Direction tells which side of the conversation produced a record
type Direction string

const (
	DirectionFromLocalUser    Direction = "FROM_LOCAL_USER"
	DirectionFromRemoteEntity Direction = "FROM_REMOTE_ENTITY"
)

// Category classifies a record by its audience
type Category string

const (
	CategoryUserToOne      Category = "USER_TO_ONE"
	CategoryUserBroadcast  Category = "USER_BROADCAST"
	CategoryEntityResponse Category = "ENTITY_RESPONSE"
	CategoryEntityToEntity Category = "ENTITY_TO_ENTITY"
)

// OriginEntity identifies the remote entity that authored a record
type OriginEntity struct {
	ID           int    `json:"id"`
	DisplayName  string `json:"displayName" gorm:"size:128"`
	CharacterTag string `json:"characterTag" gorm:"size:64"`
}

// MessageRecord is one entry of the local chat timeline.
// Text and Timestamp are written once; only the delivery and read flags
// and a missing dedup key may change afterwards.
type MessageRecord struct {
	ID            uint                        `json:"id" gorm:"primaryKey;autoIncrement"`
	Text          string                      `json:"text" gorm:"column:body"`
	Timestamp     int64                       `json:"timestamp" gorm:"column:event_ts;not null;index"`
	Direction     Direction                   `json:"direction" gorm:"size:32;not null"`
	Category      Category                    `json:"category" gorm:"size:32;not null"`
	SourceChannel string                      `json:"sourceChannel,omitempty" gorm:"size:128;index"`
	TargetIDs     datatypes.JSONSlice[string] `json:"targetIds,omitempty"`
	Origin        OriginEntity                `json:"originEntity" gorm:"embedded;embeddedPrefix:origin_"`
	DedupKey      *string                     `json:"dedupKey,omitempty" gorm:"size:191;uniqueIndex"`
	Synced        bool                        `json:"synced" gorm:"not null;default:false"`
	Delivered     bool                        `json:"delivered" gorm:"not null;default:false"`
	DeliveredTo   datatypes.JSONSlice[string] `json:"deliveredTo,omitempty"`
	Read          bool                        `json:"read" gorm:"column:is_read;not null;default:false"`
	MediaType     string                      `json:"mediaType,omitempty" gorm:"size:32"`
	CreatedAt     time.Time                   `json:"createdAt"`
}

// IsFromUser reports whether the record was composed on this side
func (m *MessageRecord) IsFromUser() bool {
	return m.Direction == DirectionFromLocalUser
}

// ComposeMessageRequest is the body accepted by the compose endpoint
type ComposeMessageRequest struct {
	Text          string   `json:"text"`
	TargetIDs     []string `json:"targetIds" binding:"required,min=1"`
	SourceChannel string   `json:"sourceChannel"`
	MediaType     string   `json:"mediaType"`
}

// MarkDeliveredRequest lists the recipients that acknowledged a record
type MarkDeliveredRequest struct {
	DeliveredTo []string `json:"deliveredTo"`
}
