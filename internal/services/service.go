package services

import (
	"context"
	"log/slog"
	"time"

	"locallift/internal/billing"
	"locallift/internal/entitlement"
	"locallift/internal/gbp"
	"locallift/internal/googleauth"
	"locallift/internal/llm"
	"locallift/internal/models"
)

// Store is the persistence surface used by the request workflows.
type Store interface {
	EnsureProfile(ctx context.Context, userID, email string) error
	UpsertLocation(ctx context.Context, loc models.Location) (models.Location, error)
	GetLocation(ctx context.Context, userID string, id int64) (models.Location, error)
	GetLocationByName(ctx context.Context, userID, locationName string) (models.Location, error)
	ListLocations(ctx context.Context, userID string) ([]models.Location, error)
	UpsertReview(ctx context.Context, r models.Review) (models.Review, error)
	ListReviews(ctx context.Context, userID, locationName string, limit int) ([]models.Review, error)
	GetReviewByGoogleID(ctx context.Context, userID, googleReviewID string) (models.Review, error)
	MarkReviewReplied(ctx context.Context, userID string, reviewID int64, comment string, at time.Time) error
	InsertReviewReply(ctx context.Context, reply models.ReviewReply) error
	InsertLead(ctx context.Context, lead models.Lead) error
	CreateProject(ctx context.Context, p models.Project) (models.Project, error)
	ListProjects(ctx context.Context, userID string) ([]models.Project, error)
	GetProject(ctx context.Context, userID, id string) (models.Project, error)
	UpdateProject(ctx context.Context, userID, id string, upd models.ProjectUpdate) (models.Project, error)
	DeleteProject(ctx context.Context, userID, id string) error
	DashboardSummary(ctx context.Context, userID string) (models.DashboardSummary, error)
}

// AuditMailer delivers free audit reports.
type AuditMailer interface {
	IsConfigured() bool
	SendAuditReport(ctx context.Context, to, businessQuery string, score *int, auditMarkdown string) error
}

type Deps struct {
	Store        Store
	Google       *googleauth.Manager
	Entitlements *entitlement.Engine
	Gateway      *gbp.Gateway
	AI           *llm.Client
	Mailer       AuditMailer
	Billing      *billing.Service
	Logger       *slog.Logger
}

// Service orchestrates the Google connection, entitlement checks and the
// AI workflows for request handlers.
type Service struct {
	store        Store
	google       *googleauth.Manager
	entitlements *entitlement.Engine
	gateway      *gbp.Gateway
	ai           *llm.Client
	mailer       AuditMailer
	billing      *billing.Service
	logger       *slog.Logger
	now          func() time.Time
}

func New(d Deps) *Service {
	return &Service{
		store:        d.Store,
		google:       d.Google,
		entitlements: d.Entitlements,
		gateway:      d.Gateway,
		ai:           d.AI,
		mailer:       d.Mailer,
		billing:      d.Billing,
		logger:       d.Logger,
		now:          time.Now,
	}
}
