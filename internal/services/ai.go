package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"locallift/internal/apperr"
	"locallift/internal/entitlement"
	"locallift/internal/llm"
	"locallift/internal/models"
)

type GenerateContentRequest struct {
	Type         string `json:"type" validate:"required,oneof=blog gbp_post faq"`
	BusinessName string `json:"businessName" validate:"required"`
	City         string `json:"city" validate:"required"`
	Service      string `json:"service" validate:"required"`
	Tone         string `json:"tone" validate:"required"`
}

// GenerateContent writes marketing content for a paid user and counts it
// against the ai_posts quota once generation succeeds.
func (s *Service) GenerateContent(ctx context.Context, userID string, req GenerateContentRequest) (string, error) {
	if _, err := s.entitlements.RequirePlan(ctx, userID, string(models.FeatureAIPosts), entitlement.CanGenerateContent); err != nil {
		return "", err
	}
	if _, err := s.CheckAndReserveUsage(ctx, userID, models.FeatureAIPosts); err != nil {
		return "", err
	}

	markdown, err := s.ai.GenerateContent(ctx, llm.ContentType(req.Type), llm.ContentInput{
		BusinessName: req.BusinessName,
		City:         req.City,
		Service:      req.Service,
		Tone:         req.Tone,
	})
	if err != nil {
		return "", err
	}
	if err := s.IncrementUsage(ctx, userID, models.FeatureAIPosts); err != nil {
		return "", err
	}
	return markdown, nil
}

type ReviewReplyRequest struct {
	BusinessName string `json:"businessName" validate:"required"`
	City         string `json:"city" validate:"required"`
	Rating       int    `json:"rating" validate:"required,min=1,max=5"`
	Text         string `json:"text" validate:"required"`
}

func (s *Service) DraftReviewReply(ctx context.Context, userID string, req ReviewReplyRequest) (string, error) {
	if _, err := s.entitlements.RequirePlan(ctx, userID, featureReviewAutomation, entitlement.CanAutomateReviewReplies); err != nil {
		return "", err
	}
	return s.ai.DraftReviewReply(ctx, llm.ReviewInput{
		BusinessName: req.BusinessName,
		City:         req.City,
		Rating:       req.Rating,
		Text:         req.Text,
	})
}

type AuditRequest struct {
	Mode       string `json:"mode"`
	LocationID int64  `json:"locationId"`
	URLOrName  string `json:"urlOrName"`
	City       string `json:"city"`
	Category   string `json:"category"`
}

// Audit produces a profile audit. Connected audits need a signed-in paid
// user and consume the audits quota; quick audits are public. userID is
// empty for anonymous callers.
func (s *Service) Audit(ctx context.Context, userID string, req AuditRequest) (string, error) {
	switch llm.AuditMode(req.Mode) {
	case llm.AuditConnected:
		return s.connectedAudit(ctx, userID, req)
	case llm.AuditQuick:
		if strings.TrimSpace(req.URLOrName) == "" {
			return "", fmt.Errorf("%w: missing urlOrName", apperr.ErrInvalidRequest)
		}
		return s.ai.ProfileAudit(ctx, llm.AuditInput{
			Mode:      llm.AuditQuick,
			City:      req.City,
			Category:  req.Category,
			URLOrName: req.URLOrName,
		})
	default:
		return "", fmt.Errorf("%w: invalid mode", apperr.ErrInvalidRequest)
	}
}

func (s *Service) connectedAudit(ctx context.Context, userID string, req AuditRequest) (string, error) {
	if userID == "" {
		return "", apperr.ErrUnauthorized
	}
	if req.LocationID == 0 {
		return "", fmt.Errorf("%w: missing locationId", apperr.ErrInvalidRequest)
	}
	if _, err := s.entitlements.RequirePlan(ctx, userID, string(models.FeatureAudits), entitlement.CanUseUnlimitedAudits); err != nil {
		return "", err
	}
	if _, err := s.CheckAndReserveUsage(ctx, userID, models.FeatureAudits); err != nil {
		return "", err
	}

	location, err := s.store.GetLocation(ctx, userID, req.LocationID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("%w: location not found", apperr.ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	input, err := auditInputFromLocation(location, req)
	if err != nil {
		return "", err
	}
	markdown, err := s.ai.ProfileAudit(ctx, input)
	if err != nil {
		return "", err
	}
	if err := s.IncrementUsage(ctx, userID, models.FeatureAudits); err != nil {
		return "", err
	}
	return markdown, nil
}

type rawListing struct {
	Title             string `json:"title"`
	PrimaryCategoryID string `json:"primaryCategoryId"`
	Address           struct {
		Locality string `json:"locality"`
	} `json:"address"`
	Storefront struct {
		Title             string `json:"title"`
		PrimaryCategoryID string `json:"primaryCategoryId"`
		Address           struct {
			Locality string `json:"locality"`
		} `json:"address"`
	} `json:"storefront"`
}

func auditInputFromLocation(loc models.Location, req AuditRequest) (llm.AuditInput, error) {
	var raw rawListing
	if len(loc.Raw) > 0 {
		// Unexpected shapes leave the fallbacks empty.
		_ = json.Unmarshal(loc.Raw, &raw)
	}

	title := ""
	if loc.Title != nil {
		title = *loc.Title
	}
	gbpData, err := json.Marshal(map[string]any{
		"id":            loc.ID,
		"location_name": loc.LocationName,
		"title":         loc.Title,
		"store_code":    loc.StoreCode,
		"place_id":      loc.PlaceID,
		"address":       loc.Address,
		"timezone":      loc.Timezone,
		"raw":           rawOrNull(loc.Raw),
	})
	if err != nil {
		return llm.AuditInput{}, err
	}

	return llm.AuditInput{
		Mode:         llm.AuditConnected,
		BusinessName: firstOf(title, raw.Title, raw.Storefront.Title),
		City:         firstOf(req.City, raw.Storefront.Address.Locality, raw.Address.Locality),
		Category:     firstOf(req.Category, raw.Storefront.PrimaryCategoryID, raw.PrimaryCategoryID),
		URLOrName:    loc.LocationName,
		GBPData:      gbpData,
	}, nil
}

func rawOrNull(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("null")
	}
	return raw
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type FreeAuditRequest struct {
	BusinessQuery string `json:"businessQuery" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	City          string `json:"city"`
	Category      string `json:"category"`
}

type FreeAuditResult struct {
	AuditText string `json:"auditText"`
	Score     *int   `json:"score"`
}

var scorePattern = regexp.MustCompile(`(?i)(?:score|scores):?\s+(\d{1,3})/100`)

// ExtractScore finds a "Score: NN/100" line and clamps it to 0..100.
func ExtractScore(markdown string) *int {
	m := scorePattern.FindStringSubmatch(markdown)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	n = max(0, min(100, n))
	return &n
}

// FreeAudit runs a public quick audit for a prospect. Capturing the lead and
// mailing the report are best-effort.
func (s *Service) FreeAudit(ctx context.Context, req FreeAuditRequest) (FreeAuditResult, error) {
	query := strings.TrimSpace(req.BusinessQuery)
	email := strings.TrimSpace(req.Email)
	if query == "" || email == "" {
		return FreeAuditResult{}, fmt.Errorf("%w: missing required fields", apperr.ErrInvalidRequest)
	}

	text, err := s.ai.ProfileAudit(ctx, llm.AuditInput{
		Mode:      llm.AuditQuick,
		City:      req.City,
		Category:  req.Category,
		URLOrName: query,
	})
	if err != nil {
		return FreeAuditResult{}, err
	}
	score := ExtractScore(text)

	if err := s.store.InsertLead(ctx, models.Lead{
		Email:         email,
		BusinessQuery: query,
		City:          optional(strings.TrimSpace(req.City)),
		Category:      optional(strings.TrimSpace(req.Category)),
		AuditText:     text,
		Score:         score,
	}); err != nil {
		s.logger.Error("free audit lead insert failed", "error", err)
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		if err := s.mailer.SendAuditReport(ctx, email, query, score, text); err != nil {
			s.logger.Warn("free audit email failed", "error", err)
		}
	}
	return FreeAuditResult{AuditText: text, Score: score}, nil
}

type LeadRequest struct {
	Email       string `json:"email" validate:"required,email"`
	QueryText   string `json:"query_text" validate:"required"`
	AuditResult string `json:"audit_result"`
	UserAgent   string `json:"user_agent"`
}

// CaptureLead records a prospect who ran an audit on the marketing site.
// requestUA is used when the body does not carry a user agent.
func (s *Service) CaptureLead(ctx context.Context, req LeadRequest, requestUA string) error {
	email := strings.TrimSpace(req.Email)
	query := strings.TrimSpace(req.QueryText)
	if email == "" || query == "" {
		return fmt.Errorf("%w: email and query_text are required", apperr.ErrInvalidRequest)
	}
	ua := strings.TrimSpace(req.UserAgent)
	if ua == "" {
		ua = strings.TrimSpace(requestUA)
	}
	return s.store.InsertLead(ctx, models.Lead{
		Email:         email,
		BusinessQuery: query,
		AuditText:     req.AuditResult,
		Score:         ExtractScore(req.AuditResult),
		UserAgent:     optional(ua),
	})
}
