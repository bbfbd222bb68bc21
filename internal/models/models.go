package models

import (
	"encoding/json"
	"time"
)

// OAuthConnection is the stored Google Business Profile credential pair.
// At most one row exists per user.
type OAuthConnection struct {
	UserID       string
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	ExpiresAt    time.Time
	Scope        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile holds the plan and usage columns of the profiles table.
// Nullable columns stay pointers; derivation lives in the entitlement package.
type Profile struct {
	UserID               string
	PlanType             *string
	PlanStatus           *string
	ManualPlan           *string
	PlanCurrentPeriodEnd *time.Time
	AIPostsUsed          int
	AuditsUsed           int
	UsageResetDate       *time.Time
}

// PlanRecord is the effective plan of a user with every field populated.
type PlanRecord struct {
	UserID           string     `json:"user_id"`
	PlanID           PlanID     `json:"plan_id"`
	PlanStatus       PlanStatus `json:"plan_status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	AIPostsUsed      int        `json:"ai_posts_used"`
	AuditsUsed       int        `json:"audits_used"`
	UsageResetDate   *time.Time `json:"usage_reset_date"`
	ManualPlan       PlanID     `json:"manual_plan"`
}

// UsageQuota is computed at check time, never stored.
type UsageQuota struct {
	Feature   Feature    `json:"feature"`
	Allowed   bool       `json:"allowed"`
	Used      int        `json:"used"`
	Limit     int        `json:"limit"`
	ResetDate *time.Time `json:"reset_date"`
}

type PlanID string

const (
	PlanFree    PlanID = "free"
	PlanStarter PlanID = "starter"
	PlanPro     PlanID = "pro"
	PlanAgency  PlanID = "agency"
)

type PlanStatus string

const (
	PlanStatusFree     PlanStatus = "free"
	PlanStatusActive   PlanStatus = "active"
	PlanStatusTrialing PlanStatus = "trialing"
	PlanStatusPastDue  PlanStatus = "past_due"
	PlanStatusCanceled PlanStatus = "canceled"
	PlanStatusUnpaid   PlanStatus = "unpaid"
)

// Feature names a metered action.
type Feature string

const (
	FeatureAIPosts Feature = "ai_posts"
	FeatureAudits  Feature = "audits"
)

func (f Feature) Valid() bool {
	return f == FeatureAIPosts || f == FeatureAudits
}

// Column is the profiles column holding the counter for f.
func (f Feature) Column() string {
	if f == FeatureAudits {
		return "audits_used"
	}
	return "ai_posts_used"
}

type Subscription struct {
	ID               string
	UserID           string
	Status           string
	PriceID          *string
	CurrentPeriodEnd *time.Time
	UpdatedAt        time.Time
}

type Location struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	LocationName string    `json:"location_name"`
	Title        *string   `json:"title"`
	StoreCode    *string   `json:"store_code"`
	PlaceID      *string   `json:"place_id"`
	Address      *string   `json:"address"`
	Timezone     *string   `json:"timezone"`
	Raw          []byte    `json:"raw,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Review struct {
	ID               int64      `json:"id"`
	UserID           string     `json:"user_id"`
	LocationID       int64      `json:"location_id"`
	GoogleReviewID   string     `json:"google_review_id"`
	ReviewerName     *string    `json:"reviewer_name"`
	StarRating       *int       `json:"star_rating"`
	Comment          *string    `json:"comment"`
	ReviewUpdateTime *time.Time `json:"review_update_time"`
	LanguageCode     *string    `json:"language_code"`
	ReplyComment     *string    `json:"reply_comment"`
	ReplyUpdateTime  *time.Time `json:"reply_update_time"`
	Status           string     `json:"status"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

const (
	ReviewStatusNew     = "new"
	ReviewStatusReplied = "replied"
)

type ReviewReply struct {
	ID            string
	UserID        string
	ReviewID      int64
	DraftMarkdown string
	Posted        bool
	PostedAt      *time.Time
}

// Lead is a prospect captured by the free audit form.
type Lead struct {
	ID            string
	Email         string
	BusinessQuery string
	City          *string
	Category      *string
	AuditText     string
	Score         *int
	UserAgent     *string
	CreatedAt     time.Time
}

// Project is generated content a user saved for later editing.
type Project struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Type      string          `json:"type"`
	Input     json.RawMessage `json:"input"`
	OutputMD  *string         `json:"output_md"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProjectUpdate holds the editable project fields. Nil keeps the stored value.
type ProjectUpdate struct {
	Title    *string
	OutputMD *string
}

type DashboardSummary struct {
	LocationsCount int `json:"locationsCount"`
	ReviewsCount   int `json:"reviewsCount"`
}
