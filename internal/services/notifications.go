// Package services – NotificationService
//
// This file turns @alias mentions in the publishing prompt into pending
// notification rows, one per member of each matching recipient group.
// Aliases are scoped to the form owner unless the service runs in global
// mode. Resolution happens in parallel; an alias that matches nothing is
// reported in the summary rather than treated as an error.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
	"github.com/tbourn/go-publish-agent/internal/observability"
	"github.com/tbourn/go-publish-agent/internal/registry"
)

// RecipientRepo defines the repository contract required by NotificationService.
type RecipientRepo interface {
	// FindGroupByAlias matches alias case-insensitively; an empty ownerID searches all groups.
	FindGroupByAlias(ctx context.Context, db *gorm.DB, alias, ownerID string) (*domain.RecipientGroup, error)

	// ListRecipientsByIDs loads recipients in id order, skipping unknown ids.
	ListRecipientsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Recipient, error)

	// CreateNotifications inserts a batch of notifications.
	CreateNotifications(ctx context.Context, db *gorm.DB, rows []domain.Notification) error
}

// NotificationSummary describes the notifications produced for one publish.
type NotificationSummary struct {
	Created         int      `json:"created"`
	GroupsMentioned []string `json:"groups_mentioned"`
	NotificationIDs []string `json:"notification_ids"`
}

// NotificationService turns @alias mentions in a publish prompt into pending
// notifications for the members of the mentioned recipient groups.
type NotificationService struct {
	DB   *gorm.DB
	Repo RecipientRepo

	// Global resolves aliases across all owners instead of the form owner only.
	Global bool
	// Parallelism bounds concurrent alias lookups.
	Parallelism int
	Now         func() time.Time
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, r RecipientRepo, global bool) *NotificationService {
	return &NotificationService{DB: db, Repo: r, Global: global, Parallelism: 4, Now: time.Now}
}

var aliasRe = regexp.MustCompile(`@"([^"]+)"|@([\p{L}\p{N}_]+)`)

// ExtractAliases returns the @alias mentions in text in order of appearance.
// Quoted mentions (@"Board Members") may contain spaces. Repeats are collapsed
// case-insensitively, keeping the first spelling.
func ExtractAliases(text string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, m := range aliasRe.FindAllStringSubmatch(text, -1) {
		alias := strings.TrimSpace(m[1])
		if alias == "" {
			alias = m[2]
		}
		if alias == "" {
			continue
		}
		k := strings.ToLower(alias)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, alias)
	}
	return out
}

// FormOwner returns the creator recorded in a form document. metadata.createdBy
// may be a plain user id or an object carrying userId.
func FormOwner(doc []byte) string {
	r := gjson.GetBytes(doc, "metadata.createdBy")
	if r.IsObject() {
		return strings.TrimSpace(r.Get("userId").String())
	}
	if r.Type == gjson.String {
		return strings.TrimSpace(r.Str)
	}
	return ""
}

// Notify creates one pending notification per member email of every group
// mentioned in prompt. Unknown aliases, empty groups and members without an
// email produce nothing. Nothing is written unless pub succeeded.
func (s *NotificationService) Notify(ctx context.Context, form *domain.Form, prompt string, pub registry.Result) (NotificationSummary, error) {
	sum := NotificationSummary{GroupsMentioned: ExtractAliases(prompt), NotificationIDs: []string{}}
	if !pub.Success || len(sum.GroupsMentioned) == 0 {
		return sum, nil
	}

	ctx, span := otel.Tracer("services/notifications").Start(ctx, "Notify",
		trace.WithAttributes(
			attribute.String("form.id", form.ID),
			attribute.Int("aliases", len(sum.GroupsMentioned)),
		))
	defer span.End()

	owner := ""
	if !s.Global {
		owner = FormOwner(form.Data)
		if owner == "" {
			log.Warn().Str("form_id", form.ID).Strs("aliases", sum.GroupsMentioned).
				Msg("group mentions without form owner; skipping notifications")
			return sum, nil
		}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now().UTC()

	perAlias := make([][]domain.Notification, len(sum.GroupsMentioned))
	g, gctx := errgroup.WithContext(ctx)
	if s.Parallelism > 0 {
		g.SetLimit(s.Parallelism)
	}
	for i, alias := range sum.GroupsMentioned {
		g.Go(func() error {
			rows, err := s.resolveAlias(gctx, form.ID, alias, owner, prompt, pub, ts)
			if err != nil {
				return err
			}
			perAlias[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return sum, err
	}

	var rows []domain.Notification
	for _, r := range perAlias {
		rows = append(rows, r...)
	}
	if err := s.Repo.CreateNotifications(ctx, s.DB, rows); err != nil {
		span.RecordError(err)
		return sum, err
	}
	for _, r := range rows {
		sum.NotificationIDs = append(sum.NotificationIDs, r.ID)
	}
	sum.Created = len(rows)
	observability.NotificationsCreated.Add(float64(sum.Created))
	log.Info().Str("form_id", form.ID).Int("created", sum.Created).
		Strs("aliases", sum.GroupsMentioned).Msg("notifications created")
	return sum, nil
}

func (s *NotificationService) resolveAlias(ctx context.Context, formID, alias, owner, prompt string, pub registry.Result, ts time.Time) ([]domain.Notification, error) {
	g, err := s.Repo.FindGroupByAlias(ctx, s.DB, alias, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Info().Str("alias", alias).Msg("no recipient group for alias")
			return nil, nil
		}
		return nil, err
	}

	ids := validMemberIDs(g.MemberIDs())
	if len(ids) == 0 {
		log.Info().Str("alias", alias).Msg("recipient group has no members")
		return nil, nil
	}
	members, err := s.Repo.ListRecipientsByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}

	var rows []domain.Notification
	seen := map[string]struct{}{}
	for _, m := range members {
		email := strings.TrimSpace(m.Email)
		if email == "" {
			continue
		}
		k := strings.ToLower(email)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, domain.Notification{
			ID:              uuid.NewString(),
			FormID:          formID,
			GroupAlias:      g.AliasName,
			RecipientID:     m.ID,
			RecipientName:   m.Name,
			RecipientEmail:  email,
			Status:          domain.NotificationPending,
			Prompt:          prompt,
			PublicURL:       pub.URL,
			TransactionHash: pub.TransactionHash,
			CreatedAt:       ts,
			UpdatedAt:       ts,
		})
	}
	return rows, nil
}

// validMemberIDs drops blank ids and ids containing whitespace.
func validMemberIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || strings.ContainsAny(id, " \t\r\n") {
			log.Debug().Str("recipient_id", id).Msg("skipping malformed recipient id")
			continue
		}
		out = append(out, id)
	}
	return out
}
