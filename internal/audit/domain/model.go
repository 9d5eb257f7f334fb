package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of a booking or payment action.
type AuditLog struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	ActorID    *snowflake.ID  `json:"actor_id"`
	Action     string         `json:"action" gorm:"type:text;not null"`
	TargetType string         `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string        `json:"target_id"`
	Metadata   datatypes.JSON `json:"metadata" gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Service interface {
	AuditLog(ctx context.Context, actorID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
}

var ErrInvalidAction = errors.New("invalid_action")
