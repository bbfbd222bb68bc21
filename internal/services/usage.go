package services

import (
	"context"

	"locallift/internal/models"
)

// CheckAndReserveUsage fails with an EntitlementDeniedError when the quota
// of feature is exhausted. Callers invoke IncrementUsage after the gated
// action succeeds.
func (s *Service) CheckAndReserveUsage(ctx context.Context, userID string, feature models.Feature) (models.UsageQuota, error) {
	return s.entitlements.Reserve(ctx, userID, feature)
}

func (s *Service) IncrementUsage(ctx context.Context, userID string, feature models.Feature) error {
	return s.entitlements.IncrementUsage(ctx, userID, feature)
}

type PlanSummary struct {
	Plan  models.PlanRecord                    `json:"plan"`
	Usage map[models.Feature]models.UsageQuota `json:"usage"`
}

// PlanSummary reports the effective plan and both quotas.
func (s *Service) PlanSummary(ctx context.Context, userID string) (PlanSummary, error) {
	usage := make(map[models.Feature]models.UsageQuota, 2)
	for _, feature := range []models.Feature{models.FeatureAIPosts, models.FeatureAudits} {
		quota, err := s.entitlements.CheckUsage(ctx, userID, feature)
		if err != nil {
			return PlanSummary{}, err
		}
		usage[feature] = quota
	}
	// Loaded after the checks so a window reset shows up in the counters.
	plan, err := s.entitlements.EffectivePlan(ctx, userID)
	if err != nil {
		return PlanSummary{}, err
	}
	return PlanSummary{Plan: plan, Usage: usage}, nil
}

func (s *Service) DashboardSummary(ctx context.Context, userID string) (models.DashboardSummary, error) {
	return s.store.DashboardSummary(ctx, userID)
}

func (s *Service) EnsureProfile(ctx context.Context, userID, email string) error {
	return s.store.EnsureProfile(ctx, userID, email)
}
