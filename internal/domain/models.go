// Package domain defines the persistence models for forms, recipient groups,
// recipients, notifications and publication audit records. These types are
// mapped with GORM and form the core data layer of the publish agent.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Form is a previously generated form document. The raw document is kept
// verbatim in Data (formData, fieldConfigurations, originalJson, metadata,
// pdfMetadata); this service only ever rewrites the fingerprint inside
// metadata.
//
// Fields:
//   - ID: 24-hex object id or an opaque string key.
//   - Name: denormalised metadata.formName used for listing and search.
//   - Data: the full JSON document.
type Form struct {
	ID        string         `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string         `json:"name"       gorm:"type:varchar(255);index:idx_forms_name"`
	Data      datatypes.JSON `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Form.
func (Form) TableName() string { return "forms" }

// RecipientGroup maps an alias (mentioned as @alias) to a set of recipients.
type RecipientGroup struct {
	ID           string         `json:"id"            gorm:"type:varchar(64);primaryKey"`
	AliasName    string         `json:"alias_name"    gorm:"type:varchar(128);not null;index:idx_groups_alias"`
	Description  string         `json:"description"   gorm:"type:text"`
	CreatedBy    string         `json:"created_by"    gorm:"type:varchar(64);index"`
	RecipientIDs datatypes.JSON `json:"recipient_ids"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for RecipientGroup.
func (RecipientGroup) TableName() string { return "recipient_groups" }

// MemberIDs decodes RecipientIDs. Non-string entries are dropped.
func (g RecipientGroup) MemberIDs() []string {
	if len(g.RecipientIDs) == 0 {
		return nil
	}
	var raw []any
	if err := json.Unmarshal(g.RecipientIDs, &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Recipient is a single notification target.
type Recipient struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255)"`
	Email     string    `json:"email"      gorm:"type:varchar(320)"`
	CreatedBy string    `json:"created_by" gorm:"type:varchar(64);index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Recipient.
func (Recipient) TableName() string { return "recipients" }

// NotificationPending is the only status this service writes.
const NotificationPending = "pending"

// Notification is a pending message to one recipient about one published form.
// It is only ever written after a successful publish.
type Notification struct {
	ID              string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	FormID          string    `json:"form_id"               gorm:"type:varchar(64);not null;index:idx_notifications_form"`
	GroupAlias      string    `json:"recipient_group_alias" gorm:"type:varchar(128);not null"`
	RecipientID     string    `json:"recipient_id"          gorm:"type:varchar(64)"`
	RecipientName   string    `json:"recipient_name"        gorm:"type:varchar(255)"`
	RecipientEmail  string    `json:"recipient_email"       gorm:"type:varchar(320);not null"`
	Status          string    `json:"status"                gorm:"type:varchar(16);not null;default:'pending'"`
	Prompt          string    `json:"prompt"                gorm:"type:text"`
	PublicURL       string    `json:"public_url"            gorm:"type:text"`
	TransactionHash string    `json:"transaction_hash"      gorm:"type:varchar(128)"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// PublicationAudit records every successful publish, chat-driven or passive.
type PublicationAudit struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	FormID          string    `json:"form_id"          gorm:"type:varchar(64);not null;index"`
	OriginalPrompt  string    `json:"original_prompt"  gorm:"type:text"`
	PublicURL       string    `json:"public_url"       gorm:"type:text;not null"`
	TransactionHash string    `json:"transaction_hash" gorm:"type:varchar(128)"`
	BlockNumber     int64     `json:"block_number"`
	GasUsed         int64     `json:"gas_used"`
	AutoPublished   bool      `json:"auto_published"`
	Source          string    `json:"source"           gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time `json:"created_at"       gorm:"index"`
}

// TableName returns the database table name for PublicationAudit.
func (PublicationAudit) TableName() string { return "publication_audit" }
