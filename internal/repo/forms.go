// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Form model.
//
// Forms are created by an external form generator; the only write this
// service performs is the fingerprint backfill inside the JSON document.
package repo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/sjson"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// IsObjectID reports whether id has the document store's native id shape.
func IsObjectID(id string) bool { return objectIDPattern.MatchString(id) }

// GetForm looks a form up by id. Ids shaped like a native object id are tried
// in their canonical lower-case form first, then as a literal string key.
func GetForm(ctx context.Context, db *gorm.DB, id string) (*domain.Form, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	candidates := []string{id}
	if IsObjectID(id) && strings.ToLower(id) != id {
		candidates = []string{strings.ToLower(id), id}
	}
	for _, cand := range candidates {
		var f domain.Form
		err := db.WithContext(ctx).Where("id = ?", cand).First(&f).Error
		if err == nil {
			return &f, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// CountForms returns the number of stored forms.
func CountForms(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Form{}).Count(&n).Error
	return n, err
}

// ListFormsPage returns forms newest first.
func ListFormsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Form, error) {
	var out []domain.Form
	err := db.WithContext(ctx).
		Order("created_at DESC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// SetFormFingerprint writes metadata.jsonFingerprint and metadata.updatedAt
// into the stored document. Concurrent writers race; the last one wins, which
// is harmless because the value is derived deterministically.
func SetFormFingerprint(ctx context.Context, db *gorm.DB, id, fingerprint string, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f domain.Form
		if err := tx.Where("id = ?", id).First(&f).Error; err != nil {
			return err
		}
		doc := []byte(f.Data)
		if len(doc) == 0 {
			doc = []byte("{}")
		}
		doc, err := sjson.SetBytes(doc, "metadata.jsonFingerprint", fingerprint)
		if err != nil {
			return err
		}
		doc, err = sjson.SetBytes(doc, "metadata.updatedAt", now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		res := tx.Model(&domain.Form{}).Where("id = ?", id).
			Updates(map[string]any{"data": datatypes.JSON(doc), "updated_at": now.UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
