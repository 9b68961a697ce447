package domain

import "time"

// Idempotency represents a recorded result of a previously processed request,
// keyed by (user_id, scope, key). Scope is the form id for publish requests.
// It enables safe retries of POST /publish by returning the originally
// produced response without re-registering the form.
type Idempotency struct {
	ID        string    `gorm:"type:varchar(36);not null;primaryKey"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_scope_key,priority:2"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_user_scope_key,priority:3"`
	Status    int       `gorm:"not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
