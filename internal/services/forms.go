// Package services – FormService
//
// This file implements the form store adapter: lookups by either id
// spelling, paginated listing and fingerprint resolution. A fingerprint is
// read from the document when one was stored earlier and computed otherwise;
// computed values are written back so later reads and the public link agree.
// Concurrent resolutions of the same form share one computation.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
	"github.com/tbourn/go-publish-agent/internal/utils"
)

// FormRepo defines the repository contract required by FormService.
type FormRepo interface {
	// GetForm resolves an id, trying the native object-id shape first.
	GetForm(ctx context.Context, db *gorm.DB, id string) (*domain.Form, error)

	// CountForms returns the total number of forms for pagination.
	CountForms(ctx context.Context, db *gorm.DB) (int64, error)

	// ListFormsPage returns a page of forms, newest first.
	ListFormsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Form, error)

	// SetFormFingerprint persists a derived fingerprint onto the form document.
	SetFormFingerprint(ctx context.Context, db *gorm.DB, id, fingerprint string, now time.Time) error
}

// FormService reads forms and resolves their fingerprints, deriving and
// backfilling one when the document has none.
type FormService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the form repository used by this service.
	Repo FormRepo
	// Now is the clock used for backfill timestamps.
	Now func() time.Time

	backfill singleflight.Group
}

// NewFormService constructs a FormService.
func NewFormService(db *gorm.DB, r FormRepo) *FormService {
	return &FormService{DB: db, Repo: r, Now: time.Now}
}

// Get returns the form with id or ErrFormNotFound.
func (s *FormService) Get(ctx context.Context, id string) (*domain.Form, error) {
	f, err := s.Repo.GetForm(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFormNotFound
		}
		return nil, err
	}
	return f, nil
}

// ListPage returns a page of forms and the total count.
func (s *FormService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Form, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := s.Repo.CountForms(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Form{}, 0, nil
	}
	items, err := s.Repo.ListFormsPage(ctx, s.DB, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Fingerprint resolves the fingerprint of form id.
func (s *FormService) Fingerprint(ctx context.Context, id string) (string, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.FingerprintOf(ctx, f)
}

// FingerprintOf returns the stored fingerprint of f, or derives one from its
// canonical content and persists it. A failed write-back is logged and the
// derived value is still returned. Concurrent derivations for the same form
// share one computation and one write.
func (s *FormService) FingerprintOf(ctx context.Context, f *domain.Form) (string, error) {
	ctx, span := otel.Tracer("services/forms").Start(ctx, "FingerprintOf",
		trace.WithAttributes(attribute.String("form.id", f.ID)))
	defer span.End()

	if fp := StoredFingerprint(f.Data); fp != "" {
		span.SetAttributes(attribute.Bool("fingerprint.stored", true))
		return fp, nil
	}

	v, err, _ := s.backfill.Do(f.ID, func() (any, error) {
		fp, err := ComputeFingerprint(f.Data)
		if err != nil {
			return "", err
		}
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		if werr := s.Repo.SetFormFingerprint(ctx, s.DB, f.ID, fp, now()); werr != nil {
			log.Warn().Err(werr).Str("form_id", f.ID).Msg("fingerprint write-back failed")
		} else {
			log.Info().Str("form_id", f.ID).Str("fingerprint", fp).Msg("fingerprint generated")
		}
		return fp, nil
	})
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("form_id", f.ID).Msg("fingerprint derivation failed")
		return "", ErrFingerprintNotFound
	}
	return v.(string), nil
}
