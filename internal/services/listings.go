package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/entitlement"
	"locallift/internal/gbp"
	"locallift/internal/models"
)

const featureReviewAutomation = "review_automation"

// ListLocations fetches the user's locations from Google. Caching them
// locally is best-effort.
func (s *Service) ListLocations(ctx context.Context, userID string) ([]json.RawMessage, error) {
	locations, err := s.gateway.ListLocations(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, len(locations))
	for _, loc := range locations {
		out = append(out, loc.Raw)
	}

	for _, loc := range locations {
		if loc.Name == "" {
			continue
		}
		_, err := s.store.UpsertLocation(ctx, models.Location{
			UserID:       userID,
			LocationName: loc.Name,
			Title:        optional(loc.Title),
			StoreCode:    optional(loc.StoreCode),
			PlaceID:      optional(loc.PlaceID),
		})
		if err != nil {
			s.logger.Warn("cache location failed", "user_id", userID, "location", loc.Name, "error", err)
		}
	}
	return out, nil
}

// SyncLocations walks every account of the user and stores its locations.
// A failed write fails the sync.
func (s *Service) SyncLocations(ctx context.Context, userID string) ([]models.Location, error) {
	accounts, err := s.gateway.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		locations, err := s.gateway.ListAccountLocations(ctx, userID, acc.Name)
		if err != nil {
			return nil, err
		}
		for _, loc := range locations {
			record := models.Location{
				UserID:       userID,
				LocationName: loc.Name,
				Title:        optional(loc.Title),
				Timezone:     optional(loc.Timezone),
				Raw:          loc.Raw,
			}
			if len(loc.StorefrontAddress) > 0 && string(loc.StorefrontAddress) != "null" {
				addr := string(loc.StorefrontAddress)
				record.Address = &addr
			}
			if _, err := s.store.UpsertLocation(ctx, record); err != nil {
				return nil, fmt.Errorf("store location %s: %w", loc.Name, err)
			}
		}
	}

	latest, err := s.store.ListLocations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		latest = []models.Location{}
	}
	s.logger.Info("locations synced", "user_id", userID, "accounts", len(accounts), "locations", len(latest))
	return latest, nil
}

// SyncReviews imports the reviews of a locally known location and returns
// how many were stored.
func (s *Service) SyncReviews(ctx context.Context, userID, locationName string) (int, error) {
	if _, err := s.entitlements.RequirePlan(ctx, userID, featureReviewAutomation, entitlement.CanAutomateReviewReplies); err != nil {
		return 0, err
	}
	if strings.TrimSpace(locationName) == "" {
		return 0, fmt.Errorf("%w: locationName required", apperr.ErrInvalidRequest)
	}

	reviews, err := s.gateway.ListReviews(ctx, userID, locationName)
	if err != nil {
		return 0, err
	}

	location, err := s.store.GetLocationByName(ctx, userID, locationName)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, fmt.Errorf("%w: location not found locally", apperr.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, r := range reviews {
		if r.ReviewID == "" {
			continue
		}
		if _, err := s.store.UpsertReview(ctx, reviewRecord(userID, location.ID, r)); err != nil {
			return imported, fmt.Errorf("store review %s: %w", r.ReviewID, err)
		}
		imported++
	}
	s.logger.Info("reviews synced", "user_id", userID, "location", locationName, "imported", imported)
	return imported, nil
}

func reviewRecord(userID string, locationID int64, r gbp.Review) models.Review {
	record := models.Review{
		UserID:           userID,
		LocationID:       locationID,
		GoogleReviewID:   r.ReviewID,
		ReviewerName:     optional(r.Reviewer.DisplayName),
		Comment:          optional(r.Comment),
		ReviewUpdateTime: parseTime(r.UpdateTime),
		Status:           models.ReviewStatusNew,
	}
	if stars := r.Stars(); stars > 0 {
		record.StarRating = &stars
	}
	if r.ReviewReply != nil {
		record.LanguageCode = optional(r.ReviewReply.LanguageCode)
		record.ReplyComment = optional(r.ReviewReply.Comment)
		record.ReplyUpdateTime = parseTime(r.ReviewReply.UpdateTime)
		if record.ReplyComment != nil {
			record.Status = models.ReviewStatusReplied
		}
	}
	return record
}

type PostReplyRequest struct {
	ReviewID     string `json:"reviewId" validate:"required"`
	LocationName string `json:"locationName" validate:"required"`
	Reply        string `json:"reply" validate:"required"`
}

// PostReply publishes a reply on Google. Recording it locally is best-effort.
func (s *Service) PostReply(ctx context.Context, userID string, req PostReplyRequest) error {
	if req.ReviewID == "" || req.LocationName == "" || strings.TrimSpace(req.Reply) == "" {
		return fmt.Errorf("%w: reviewId, locationName and reply are required", apperr.ErrInvalidRequest)
	}
	if err := s.gateway.UpdateReply(ctx, userID, req.LocationName, req.ReviewID, req.Reply); err != nil {
		return err
	}

	review, err := s.store.GetReviewByGoogleID(ctx, userID, req.ReviewID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("load review for reply failed", "user_id", userID, "review_id", req.ReviewID, "error", err)
		}
		return nil
	}
	now := s.now().UTC()
	if err := s.store.InsertReviewReply(ctx, models.ReviewReply{
		UserID:        userID,
		ReviewID:      review.ID,
		DraftMarkdown: req.Reply,
		Posted:        true,
		PostedAt:      &now,
	}); err != nil {
		s.logger.Warn("record review reply failed", "user_id", userID, "review_id", req.ReviewID, "error", err)
	}
	if err := s.store.MarkReviewReplied(ctx, userID, review.ID, req.Reply, now); err != nil {
		s.logger.Warn("mark review replied failed", "user_id", userID, "review_id", req.ReviewID, "error", err)
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

const reviewListLimit = 100

// ListReviews returns the locally stored reviews for one location, newest
// first. An empty location yields no reviews.
func (s *Service) ListReviews(ctx context.Context, userID, locationName string) ([]models.Review, error) {
	locationName = strings.TrimSpace(locationName)
	if locationName == "" {
		return []models.Review{}, nil
	}
	return s.store.ListReviews(ctx, userID, locationName, reviewListLimit)
}
