package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
)

// FindGroupByAlias returns the first recipient group whose alias equals alias
// case-insensitively. A non-empty ownerID restricts the match to groups that
// user created; an empty ownerID searches every group.
func FindGroupByAlias(ctx context.Context, db *gorm.DB, alias, ownerID string) (*domain.RecipientGroup, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil, ErrNotFound
	}
	q := db.WithContext(ctx).Where("LOWER(alias_name) = ?", strings.ToLower(alias))
	if ownerID != "" {
		q = q.Where("created_by = ?", ownerID)
	}
	var g domain.RecipientGroup
	if err := q.Order("created_at ASC").First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ListRecipientsByIDs loads the recipients with the given ids, preserving the
// order of ids. Unknown ids are absent from the result.
func ListRecipientsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []domain.Recipient
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Recipient, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]domain.Recipient, 0, len(rows))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// CreateNotifications inserts all rows in one statement.
func CreateNotifications(ctx context.Context, db *gorm.DB, rows []domain.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}
