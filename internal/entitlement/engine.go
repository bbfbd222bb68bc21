package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/metrics"
	"locallift/internal/models"
)

// ProfileStore is the slice of the store the engine reads and writes.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	LatestSubscriptionStatus(ctx context.Context, userID string) (*string, error)
	ResetUsage(ctx context.Context, userID string, expected *time.Time, next time.Time) (bool, error)
	SetUsage(ctx context.Context, userID string, feature models.Feature, value int) error
}

// atomicIncrementer is implemented by stores that can bump a counter in one step.
type atomicIncrementer interface {
	IncrementUsage(ctx context.Context, userID string, feature models.Feature) (int, error)
}

type Engine struct {
	store  ProfileStore
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store ProfileStore, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger, now: time.Now}
}

// EffectivePlan loads the profile and subscription status and derives the plan.
// A missing profile yields the free plan.
func (e *Engine) EffectivePlan(ctx context.Context, userID string) (models.PlanRecord, error) {
	profile, found, err := e.loadProfile(ctx, userID)
	if err != nil {
		return models.PlanRecord{}, err
	}
	status, err := e.store.LatestSubscriptionStatus(ctx, userID)
	if err != nil {
		return models.PlanRecord{}, apperr.Unavailable(fmt.Errorf("load subscription: %w", err))
	}
	if !found {
		return Derive(userID, nil, status), nil
	}
	return Derive(userID, &profile, status), nil
}

func (e *Engine) loadProfile(ctx context.Context, userID string) (models.Profile, bool, error) {
	profile, err := e.store.GetProfile(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Profile{}, false, nil
	}
	if err != nil {
		return models.Profile{}, false, apperr.Unavailable(fmt.Errorf("load profile: %w", err))
	}
	return profile, true, nil
}

// CheckUsage reports the quota of feature without consuming it. An expired
// usage window is reset first. Users without a profile row are never allowed.
func (e *Engine) CheckUsage(ctx context.Context, userID string, feature models.Feature) (models.UsageQuota, error) {
	if !feature.Valid() {
		return models.UsageQuota{}, fmt.Errorf("%w: unknown feature %q", apperr.ErrInvalidRequest, feature)
	}

	// A lost reset race means another request already rolled the window;
	// the second pass sees its result.
	for attempt := 0; attempt < 2; attempt++ {
		plan, found, err := e.planWithProfile(ctx, userID)
		if err != nil {
			return models.UsageQuota{}, err
		}
		if !found {
			return models.UsageQuota{Feature: feature, Allowed: false}, nil
		}

		now := e.now().UTC()
		if needsReset(plan, now) {
			next := NextResetDate(now)
			applied, err := e.store.ResetUsage(ctx, userID, plan.UsageResetDate, next)
			if err != nil {
				return models.UsageQuota{}, apperr.Unavailable(fmt.Errorf("reset usage: %w", err))
			}
			if !applied {
				continue
			}
			e.logger.Info("usage window reset", "user_id", userID, "next_reset", next)
			return models.UsageQuota{
				Feature:   feature,
				Allowed:   true,
				Used:      0,
				Limit:     Limit(plan, feature),
				ResetDate: &next,
			}, nil
		}

		used := counter(plan, feature)
		if !IsMetered(plan) {
			return models.UsageQuota{Feature: feature, Allowed: true, Used: used, Limit: 0, ResetDate: plan.UsageResetDate}, nil
		}
		limit := Limit(plan, feature)
		return models.UsageQuota{
			Feature:   feature,
			Allowed:   used < limit,
			Used:      used,
			Limit:     limit,
			ResetDate: plan.UsageResetDate,
		}, nil
	}
	return models.UsageQuota{}, apperr.Unavailable(errors.New("usage window changed concurrently"))
}

func (e *Engine) planWithProfile(ctx context.Context, userID string) (models.PlanRecord, bool, error) {
	profile, found, err := e.loadProfile(ctx, userID)
	if err != nil || !found {
		return models.PlanRecord{}, found, err
	}
	status, err := e.store.LatestSubscriptionStatus(ctx, userID)
	if err != nil {
		return models.PlanRecord{}, false, apperr.Unavailable(fmt.Errorf("load subscription: %w", err))
	}
	return Derive(userID, &profile, status), true, nil
}

func needsReset(plan models.PlanRecord, now time.Time) bool {
	if plan.UsageResetDate == nil {
		return plan.PlanID != models.PlanFree
	}
	return !plan.UsageResetDate.After(now)
}

func counter(plan models.PlanRecord, feature models.Feature) int {
	if feature == models.FeatureAudits {
		return plan.AuditsUsed
	}
	return plan.AIPostsUsed
}

// Reserve checks the quota of feature and turns a denial into an
// EntitlementDeniedError. The caller increments usage only after the
// gated action succeeds.
func (e *Engine) Reserve(ctx context.Context, userID string, feature models.Feature) (models.UsageQuota, error) {
	quota, err := e.CheckUsage(ctx, userID, feature)
	if err != nil {
		return models.UsageQuota{}, err
	}
	if !quota.Allowed {
		metrics.EntitlementDenials.WithLabelValues(string(apperr.DenialQuota), string(feature)).Inc()
		return quota, &apperr.EntitlementDeniedError{
			Reason:    apperr.DenialQuota,
			Feature:   string(feature),
			Limit:     quota.Limit,
			Used:      quota.Used,
			ResetDate: quota.ResetDate,
		}
	}
	return quota, nil
}

// IncrementUsage adds one to the feature counter. Stores without an atomic
// increment fall back to read-modify-write, which can lose concurrent updates.
func (e *Engine) IncrementUsage(ctx context.Context, userID string, feature models.Feature) error {
	if !feature.Valid() {
		return fmt.Errorf("%w: unknown feature %q", apperr.ErrInvalidRequest, feature)
	}
	if inc, ok := e.store.(atomicIncrementer); ok {
		if _, err := inc.IncrementUsage(ctx, userID, feature); err != nil {
			return incrementError(feature, err)
		}
		metrics.UsageIncrements.WithLabelValues(string(feature)).Inc()
		return nil
	}

	e.logger.Debug("store has no atomic increment, using read-modify-write", "feature", feature)
	profile, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return incrementError(feature, err)
	}
	current := profile.AIPostsUsed
	if feature == models.FeatureAudits {
		current = profile.AuditsUsed
	}
	if err := e.store.SetUsage(ctx, userID, feature, current+1); err != nil {
		return incrementError(feature, err)
	}
	metrics.UsageIncrements.WithLabelValues(string(feature)).Inc()
	return nil
}

func incrementError(feature models.Feature, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("increment %s: %w", feature, err)
	}
	return apperr.Unavailable(fmt.Errorf("increment %s: %w", feature, err))
}

// RequirePlan loads the effective plan and fails with an entitlement error
// when allowed rejects it.
func (e *Engine) RequirePlan(ctx context.Context, userID, feature string, allowed func(models.PlanRecord) bool) (models.PlanRecord, error) {
	plan, err := e.EffectivePlan(ctx, userID)
	if err != nil {
		return models.PlanRecord{}, err
	}
	if !allowed(plan) {
		metrics.EntitlementDenials.WithLabelValues(string(apperr.DenialPlan), feature).Inc()
		return plan, PlanDenied(feature)
	}
	return plan, nil
}
