package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
)

// MaxAuditPrompt caps the stored originating prompt, in runes.
const MaxAuditPrompt = 500

// CreateAudit stores a publication record. ID and CreatedAt are filled in when
// empty and the prompt is truncated to MaxAuditPrompt runes.
func CreateAudit(ctx context.Context, db *gorm.DB, a *domain.PublicationAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if r := []rune(a.OriginalPrompt); len(r) > MaxAuditPrompt {
		a.OriginalPrompt = string(r[:MaxAuditPrompt])
	}
	return db.WithContext(ctx).Create(a).Error
}

// ListAudits returns the most recent publication records, optionally for one form.
func ListAudits(ctx context.Context, db *gorm.DB, formID string, limit int) ([]domain.PublicationAudit, error) {
	q := db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if formID != "" {
		q = q.Where("form_id = ?", formID)
	}
	var out []domain.PublicationAudit
	err := q.Find(&out).Error
	return out, err
}
