package entitlement

import (
	"time"

	"locallift/internal/apperr"
	"locallift/internal/models"
)

// planLimits holds the monthly quota per metered feature. Only the starter
// tier is metered; other paid tiers are unlimited and free never reaches a
// quota check.
var planLimits = map[models.PlanID]map[models.Feature]int{
	models.PlanStarter: {
		models.FeatureAIPosts: 20,
		models.FeatureAudits:  5,
	},
}

var paidStatuses = map[string]bool{
	string(models.PlanStatusActive):   true,
	string(models.PlanStatusTrialing): true,
	string(models.PlanStatusPastDue):  true,
}

// NormalizePlanID maps unknown or empty plan ids to free.
func NormalizePlanID(raw string) models.PlanID {
	switch id := models.PlanID(raw); id {
	case models.PlanStarter, models.PlanPro, models.PlanAgency:
		return id
	default:
		return models.PlanFree
	}
}

// Derive computes the effective plan of a user from the stored profile and
// the latest subscription status. profile may be nil.
//
//	effective_status = subscription_status OR profile.plan_status OR "free"
//	effective_plan   = plan_type   when effective_status is active, trialing or past_due
//	                   manual_plan otherwise
func Derive(userID string, profile *models.Profile, subscriptionStatus *string) models.PlanRecord {
	var p models.Profile
	if profile != nil {
		p = *profile
	}

	status := firstNonEmpty(subscriptionStatus, p.PlanStatus, string(models.PlanStatusFree))
	manual := NormalizePlanID(firstNonEmpty(p.ManualPlan, nil, ""))

	planID := manual
	if paidStatuses[status] {
		planID = NormalizePlanID(firstNonEmpty(p.PlanType, nil, ""))
	}

	return models.PlanRecord{
		UserID:           userID,
		PlanID:           planID,
		PlanStatus:       models.PlanStatus(status),
		CurrentPeriodEnd: p.PlanCurrentPeriodEnd,
		AIPostsUsed:      p.AIPostsUsed,
		AuditsUsed:       p.AuditsUsed,
		UsageResetDate:   p.UsageResetDate,
		ManualPlan:       manual,
	}
}

func firstNonEmpty(a, b *string, fallback string) string {
	if a != nil && *a != "" {
		return *a
	}
	if b != nil && *b != "" {
		return *b
	}
	return fallback
}

func CanConnectThirdPartyProfile(plan models.PlanRecord) bool {
	return plan.PlanID != models.PlanFree
}

// CanAutomateReviewReplies currently shares the connection rule but is kept
// separate so tiers can diverge.
func CanAutomateReviewReplies(plan models.PlanRecord) bool {
	return plan.PlanID != models.PlanFree
}

func CanUseUnlimitedAudits(plan models.PlanRecord) bool {
	return plan.PlanID != models.PlanFree
}

func CanGenerateContent(plan models.PlanRecord) bool {
	return plan.PlanID != models.PlanFree
}

// IsMetered reports whether the plan has monthly quotas.
func IsMetered(plan models.PlanRecord) bool {
	_, ok := planLimits[plan.PlanID]
	return ok
}

// Limit returns the monthly quota of feature on plan, zero when unlimited.
func Limit(plan models.PlanRecord, feature models.Feature) int {
	return planLimits[plan.PlanID][feature]
}

// NextResetDate is the same calendar day one month after now, at midnight UTC.
// Days missing in the next month roll forward (Jan 31 becomes Mar 3 or Mar 2).
func NextResetDate(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, now.Day(), 0, 0, 0, 0, time.UTC)
}

// PlanDenied builds the error returned when a plan predicate fails.
func PlanDenied(feature string) error {
	return &apperr.EntitlementDeniedError{Reason: apperr.DenialPlan, Feature: feature}
}
