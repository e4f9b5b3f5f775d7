package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/errors"
)

// maxOpenAttempts bounds retries when concurrent writers race on the same open alert.
const maxOpenAttempts = 5

// alertRepository implements AlertRepository.
type alertRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db, now: time.Now}
}

// OpenOrAppend creates or folds into the open alert for the alert's (guild, target, kind).
// Lost races (a concurrent create hitting the open-slot unique index, or a
// concurrent append bumping the version) are retried.
func (r *alertRepository) OpenOrAppend(ctx context.Context, alert *entities.Alert, evidence *entities.AlertEvidence) (*entities.Alert, bool, error) {
	if alert.GuildID == "" || alert.TargetUserID == "" || alert.Kind == "" {
		return nil, false, fmt.Errorf("failed to open alert: guild, target and kind are required: %w", ErrInvalidTransition)
	}
	if evidence == nil {
		return nil, false, fmt.Errorf("failed to open alert: missing evidence: %w", ErrInvalidTransition)
	}

	var lastErr error
	for range maxOpenAttempts {
		result, created, err := r.openOrAppendOnce(ctx, alert, evidence)
		if err == nil {
			return result, created, nil
		}
		if !errors.Is(err, ErrVersionConflict) && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		lastErr = err
	}
	return nil, false, fmt.Errorf("failed to open or append alert after %d attempts: %w", maxOpenAttempts, lastErr)
}

func (r *alertRepository) openOrAppendOnce(ctx context.Context, tmpl *entities.Alert, evidence *entities.AlertEvidence) (*entities.Alert, bool, error) {
	var result entities.Alert
	created := false
	now := r.now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("guild_id = ? AND target_user_id = ? AND kind = ? AND open_slot IS NOT NULL",
			tmpl.GuildID, tmpl.TargetUserID, tmpl.Kind).
			First(&result).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = *tmpl
			result.Evidence = nil
			if result.ID == "" {
				result.ID = uuid.NewString()
			}
			result.State = entities.AlertStateOpen
			result.MarkOpen()
			result.Version = 1
			result.EvidenceCount = 1
			if result.CreatedAt.IsZero() {
				result.CreatedAt = now
			}
			if err := tx.Create(&result).Error; err != nil {
				return fmt.Errorf("failed to create alert: %w", err)
			}
			created = true

		case err != nil:
			return fmt.Errorf("failed to find open alert: %w", err)

		default:
			res := tx.Model(&entities.Alert{}).
				Where("id = ? AND version = ?", result.ID, result.Version).
				Updates(map[string]any{
					"evidence_count": gorm.Expr("evidence_count + 1"),
					"version":        gorm.Expr("version + 1"),
					"updated_at":     now,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to append to alert %s: %w", result.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}
			result.EvidenceCount++
			result.Version++
			result.UpdatedAt = now
		}

		ev := *evidence
		ev.ID = 0
		ev.AlertID = result.ID
		ev.Seq = result.EvidenceCount
		if ev.DetectedAt.IsZero() {
			ev.DetectedAt = now
		}
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("failed to save alert evidence: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// GetAlert returns an alert with its evidence in detection order.
func (r *alertRepository) GetAlert(ctx context.Context, id string) (*entities.Alert, error) {
	var alert entities.Alert
	err := r.db.WithContext(ctx).Preload("Evidence", orderedEvidence).First(&alert, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return &alert, nil
}

// FindByNotification returns the alert whose staff notification is messageID.
func (r *alertRepository) FindByNotification(ctx context.Context, messageID string) (*entities.Alert, error) {
	if messageID == "" {
		return nil, ErrAlertNotFound
	}
	var alert entities.Alert
	err := r.db.WithContext(ctx).Where("notification_message_id = ?", messageID).First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to find alert by notification %s: %w", messageID, err)
	}
	return &alert, nil
}

// SetNotification records the staff message for an alert that has none yet.
func (r *alertRepository) SetNotification(ctx context.Context, id, channelID, messageID string) error {
	result := r.db.WithContext(ctx).Model(&entities.Alert{}).
		Where("id = ? AND notification_message_id IS NULL", id).
		Updates(map[string]any{
			"notification_channel_id": channelID,
			"notification_message_id": messageID,
			"updated_at":              r.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set notification for alert %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// MarkNotifyAttempt stamps a failed notification attempt on an undelivered alert.
func (r *alertRepository) MarkNotifyAttempt(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&entities.Alert{}).
		Where("id = ? AND notification_message_id IS NULL", id).
		Update("notify_attempted_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to record notification attempt for alert %s: %w", id, err)
	}
	return nil
}

// Transition applies a compare-and-swap update keyed on the alert's version.
func (r *alertRepository) Transition(ctx context.Context, alert *entities.Alert, t AlertTransition) error {
	now := r.now()
	updates, err := transitionUpdates(alert, &t, now)
	if err != nil {
		return err
	}

	query := r.db.WithContext(ctx).Model(&entities.Alert{}).
		Where("id = ? AND version = ?", alert.ID, alert.Version)
	if t.Resolve != nil {
		query = query.Where("resolved_at IS NULL")
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition alert %s: %w", alert.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	applyTransition(alert, &t, now)
	return nil
}

// transitionUpdates validates t against the alert invariants and builds the column map.
func transitionUpdates(alert *entities.Alert, t *AlertTransition, now time.Time) (map[string]any, error) {
	if entities.IsTerminalState(alert.State) {
		return nil, fmt.Errorf("alert %s is already %s: %w", alert.ID, alert.State, ErrInvalidTransition)
	}
	terminal := t.State != nil && entities.IsTerminalState(*t.State)
	if terminal != (t.Resolve != nil) {
		return nil, fmt.Errorf("resolution must accompany exactly the terminal states: %w", ErrInvalidTransition)
	}
	if t.Resolve != nil && (t.Resolve.By == "" || t.Resolve.At.IsZero()) {
		return nil, fmt.Errorf("resolution requires both actor and time: %w", ErrInvalidTransition)
	}
	if t.PenaltyApplied != nil && (t.State == nil || *t.State != entities.AlertStatePenalized) {
		return nil, fmt.Errorf("penalty may only be recorded when penalizing: %w", ErrInvalidTransition)
	}
	if t.Claim != nil && t.ReleaseClaim {
		return nil, fmt.Errorf("cannot claim and release in one transition: %w", ErrInvalidTransition)
	}

	updates := map[string]any{
		"version":    alert.Version + 1,
		"updated_at": now,
	}
	if t.State != nil {
		updates["state"] = *t.State
	}
	if t.AwaitingPenalty != nil {
		updates["awaiting_penalty"] = *t.AwaitingPenalty
	}
	if t.Claim != nil {
		updates["pending_action"] = t.Claim.Action
		updates["claimed_by"] = t.Claim.ClaimedBy
		updates["claimed_at"] = t.Claim.ClaimedAt
	}
	if t.ReleaseClaim || terminal {
		updates["pending_action"] = nil
		updates["claimed_by"] = nil
		updates["claimed_at"] = nil
	}
	if t.PenaltyApplied != nil {
		updates["penalty_applied"] = *t.PenaltyApplied
	}
	if terminal {
		updates["open_slot"] = nil
		updates["awaiting_penalty"] = false
		updates["resolved_at"] = t.Resolve.At
		updates["resolved_by"] = t.Resolve.By
	}
	return updates, nil
}

// applyTransition mirrors a successful update on the in-memory alert.
func applyTransition(alert *entities.Alert, t *AlertTransition, now time.Time) {
	alert.Version++
	alert.UpdatedAt = now
	if t.State != nil {
		alert.State = *t.State
	}
	if t.AwaitingPenalty != nil {
		alert.AwaitingPenalty = *t.AwaitingPenalty
	}
	if t.Claim != nil {
		action, by, at := t.Claim.Action, t.Claim.ClaimedBy, t.Claim.ClaimedAt
		alert.PendingAction, alert.ClaimedBy, alert.ClaimedAt = &action, &by, &at
	}
	if t.PenaltyApplied != nil {
		p := *t.PenaltyApplied
		alert.PenaltyApplied = &p
	}
	if t.Resolve != nil {
		by, at := t.Resolve.By, t.Resolve.At
		alert.ResolvedBy, alert.ResolvedAt = &by, &at
		alert.OpenSlot = nil
		alert.AwaitingPenalty = false
	}
	if t.ReleaseClaim || t.Resolve != nil {
		alert.PendingAction, alert.ClaimedBy, alert.ClaimedAt = nil, nil, nil
	}
}

// ListAlerts returns alerts matching the filter, newest first, with the total count.
func (r *alertRepository) ListAlerts(ctx context.Context, filter AlertFilter) ([]entities.Alert, int64, error) {
	var items []entities.Alert
	var total int64

	if err := r.applyFilter(r.db.WithContext(ctx).Model(&entities.Alert{}), filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := r.applyFilter(r.db.WithContext(ctx), filter).Order("created_at DESC").Order("id ASC")
	if filter.WithEvidence {
		query = query.Preload("Evidence", orderedEvidence)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return items, total, nil
}

func (r *alertRepository) applyFilter(query *gorm.DB, filter AlertFilter) *gorm.DB {
	if filter.GuildID != "" {
		query = query.Where("guild_id = ?", filter.GuildID)
	}
	if filter.TargetUserID != "" {
		query = query.Where("target_user_id = ?", filter.TargetUserID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	switch filter.Status {
	case AlertStatusOpen:
		query = query.Where("state IN ?", entities.OpenAlertStates)
	case AlertStatusClosed:
		query = query.Where("state IN ?", entities.ClosedAlertStates)
	}
	return query
}

// ListExpirable returns open alerts created before the cutoff that never got staff input.
func (r *alertRepository) ListExpirable(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Alert, error) {
	var items []entities.Alert
	query := r.db.WithContext(ctx).
		Where("state IN ? AND awaiting_penalty = ? AND pending_action IS NULL AND created_at <= ?",
			entities.OpenAlertStates, false, createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list expirable alerts: %w", err)
	}
	return items, nil
}

// ListUnnotified returns open alerts whose staff notification was never delivered.
// Alerts that were never retried come first by age, then those attempted longest ago,
// so a backlog of undeliverable alerts cannot hold the batch.
func (r *alertRepository) ListUnnotified(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Alert, error) {
	var items []entities.Alert
	query := r.db.WithContext(ctx).
		Where("state IN ? AND notification_message_id IS NULL AND created_at <= ?", entities.OpenAlertStates, createdBefore).
		Order("COALESCE(notify_attempted_at, created_at) ASC").
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list unnotified alerts: %w", err)
	}
	return items, nil
}

// ListStaleClaims returns open alerts with a penalty claim older than claimedBefore.
func (r *alertRepository) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]entities.Alert, error) {
	var items []entities.Alert
	query := r.db.WithContext(ctx).
		Where("state IN ? AND pending_action IS NOT NULL AND claimed_at <= ?", entities.OpenAlertStates, claimedBefore).
		Order("claimed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale penalty claims: %w", err)
	}
	return items, nil
}

func orderedEvidence(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}
