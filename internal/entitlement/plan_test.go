package entitlement

import (
	"testing"
	"time"

	"locallift/internal/models"
)

func strPtr(s string) *string { return &s }

func TestDerive(t *testing.T) {
	tests := []struct {
		name         string
		profile      *models.Profile
		subscription *string
		wantPlan     models.PlanID
		wantStatus   models.PlanStatus
	}{
		{
			name:       "active subscription uses plan type",
			profile:    &models.Profile{PlanType: strPtr("starter"), PlanStatus: strPtr("active"), ManualPlan: strPtr("free")},
			wantPlan:   models.PlanStarter,
			wantStatus: models.PlanStatusActive,
		},
		{
			name:       "past due keeps paid access",
			profile:    &models.Profile{PlanType: strPtr("starter"), PlanStatus: strPtr("past_due")},
			wantPlan:   models.PlanStarter,
			wantStatus: models.PlanStatusPastDue,
		},
		{
			name:       "trialing uses plan type",
			profile:    &models.Profile{PlanType: strPtr("pro"), PlanStatus: strPtr("trialing")},
			wantPlan:   models.PlanPro,
			wantStatus: models.PlanStatusTrialing,
		},
		{
			name:       "canceled falls back to manual plan",
			profile:    &models.Profile{PlanType: strPtr("starter"), PlanStatus: strPtr("canceled"), ManualPlan: strPtr("pro")},
			wantPlan:   models.PlanPro,
			wantStatus: models.PlanStatusCanceled,
		},
		{
			name:       "free status without manual plan",
			profile:    &models.Profile{PlanStatus: strPtr("free")},
			wantPlan:   models.PlanFree,
			wantStatus: models.PlanStatusFree,
		},
		{
			name:       "null status without manual plan",
			profile:    &models.Profile{},
			wantPlan:   models.PlanFree,
			wantStatus: models.PlanStatusFree,
		},
		{
			name:       "no profile at all",
			wantPlan:   models.PlanFree,
			wantStatus: models.PlanStatusFree,
		},
		{
			name:         "subscription status wins over profile status",
			profile:      &models.Profile{PlanType: strPtr("agency"), PlanStatus: strPtr("canceled"), ManualPlan: strPtr("starter")},
			subscription: strPtr("active"),
			wantPlan:     models.PlanAgency,
			wantStatus:   models.PlanStatusActive,
		},
		{
			name:         "canceled subscription overrides stale active profile",
			profile:      &models.Profile{PlanType: strPtr("starter"), PlanStatus: strPtr("active")},
			subscription: strPtr("canceled"),
			wantPlan:     models.PlanFree,
			wantStatus:   models.PlanStatusCanceled,
		},
		{
			name:         "empty subscription status is ignored",
			profile:      &models.Profile{PlanType: strPtr("starter"), PlanStatus: strPtr("active")},
			subscription: strPtr(""),
			wantPlan:     models.PlanStarter,
			wantStatus:   models.PlanStatusActive,
		},
		{
			name:       "active without plan type is free",
			profile:    &models.Profile{PlanStatus: strPtr("active"), ManualPlan: strPtr("pro")},
			wantPlan:   models.PlanFree,
			wantStatus: models.PlanStatusActive,
		},
		{
			name:       "unknown plan id is free",
			profile:    &models.Profile{PlanType: strPtr("enterprise"), PlanStatus: strPtr("active")},
			wantPlan:   models.PlanFree,
			wantStatus: models.PlanStatusActive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive("u1", tt.profile, tt.subscription)
			if got.PlanID != tt.wantPlan {
				t.Fatalf("plan: got %s, want %s", got.PlanID, tt.wantPlan)
			}
			if got.PlanStatus != tt.wantStatus {
				t.Fatalf("status: got %s, want %s", got.PlanStatus, tt.wantStatus)
			}
			if got.UserID != "u1" {
				t.Fatalf("unexpected user id: %s", got.UserID)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	free := models.PlanRecord{PlanID: models.PlanFree}
	starter := models.PlanRecord{PlanID: models.PlanStarter}
	if CanConnectThirdPartyProfile(free) || CanAutomateReviewReplies(free) || CanUseUnlimitedAudits(free) || CanGenerateContent(free) {
		t.Fatalf("free plan must be denied")
	}
	if !CanConnectThirdPartyProfile(starter) || !CanAutomateReviewReplies(starter) {
		t.Fatalf("starter plan must be allowed")
	}
	if !IsMetered(starter) || IsMetered(models.PlanRecord{PlanID: models.PlanPro}) {
		t.Fatalf("only starter is metered")
	}
	if Limit(starter, models.FeatureAIPosts) != 20 || Limit(starter, models.FeatureAudits) != 5 {
		t.Fatalf("unexpected starter limits")
	}
}

func TestNextResetDate(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2025, 4, 15, 13, 45, 0, 0, time.UTC), time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 12, 3, 8, 0, 0, 0, time.UTC), time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC), time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC), time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := NextResetDate(tt.now); !got.Equal(tt.want) {
			t.Fatalf("NextResetDate(%s) = %s, want %s", tt.now, got, tt.want)
		}
	}
}
