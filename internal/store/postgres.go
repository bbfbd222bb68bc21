package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres is the relational store behind every component.
type Postgres struct {
	db     *sql.DB
	sealer *Sealer
}

func NewPostgres(db *sql.DB, sealer *Sealer) *Postgres {
	return &Postgres{db: db, sealer: sealer}
}

func (s *Postgres) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *Postgres) GetConnection(ctx context.Context, userID string) (models.OAuthConnection, error) {
	var conn models.OAuthConnection
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, refresh_token, expires_at, scope, created_at, updated_at
		FROM gbp_connections WHERE user_id = $1`, userID,
	).Scan(&conn.UserID, &conn.AccessToken, &conn.RefreshToken, &conn.ExpiresAt, &conn.Scope, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return models.OAuthConnection{}, classify(err)
	}
	if conn.AccessToken, err = s.sealer.Open(conn.AccessToken); err != nil {
		return models.OAuthConnection{}, err
	}
	if conn.RefreshToken, err = s.sealer.Open(conn.RefreshToken); err != nil {
		return models.OAuthConnection{}, err
	}
	return conn, nil
}

// UpsertConnection writes the callback result keyed on user_id. An empty
// refresh token never replaces a stored one.
func (s *Postgres) UpsertConnection(ctx context.Context, conn models.OAuthConnection) error {
	access, refresh, err := s.sealPair(conn)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gbp_connections (user_id, access_token, refresh_token, expires_at, scope, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), gbp_connections.refresh_token),
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			updated_at = NOW()`,
		conn.UserID, access, refresh, conn.ExpiresAt, conn.Scope)
	return classify(err)
}

// UpdateConnectionTokens touches only the token columns of an existing row.
func (s *Postgres) UpdateConnectionTokens(ctx context.Context, conn models.OAuthConnection) error {
	access, refresh, err := s.sealPair(conn)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE gbp_connections
		SET access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			expires_at = $4,
			scope = COALESCE($5, scope),
			updated_at = NOW()
		WHERE user_id = $1`,
		conn.UserID, access, refresh, conn.ExpiresAt, conn.Scope)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

func (s *Postgres) DeleteConnection(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM gbp_connections WHERE user_id = $1`, userID)
	return classify(err)
}

func (s *Postgres) sealPair(conn models.OAuthConnection) (string, string, error) {
	access, err := s.sealer.Seal(conn.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.sealer.Seal(conn.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("seal refresh token: %w", err)
	}
	return access, refresh, nil
}

func (s *Postgres) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, plan_type, plan_status, manual_plan, plan_current_period_end,
			ai_posts_used, audits_used, usage_reset_date
		FROM profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.PlanType, &p.PlanStatus, &p.ManualPlan, &p.PlanCurrentPeriodEnd,
		&p.AIPostsUsed, &p.AuditsUsed, &p.UsageResetDate)
	if err != nil {
		return models.Profile{}, classify(err)
	}
	return p, nil
}

func (s *Postgres) EnsureProfile(ctx context.Context, userID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, email) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (user_id) DO NOTHING`, userID, email)
	return classify(err)
}

// LatestSubscriptionStatus returns nil when the user never subscribed.
func (s *Postgres) LatestSubscriptionStatus(ctx context.Context, userID string) (*string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC LIMIT 1`, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &status, nil
}

// ResetUsage zeroes both counters only if usage_reset_date still equals
// expected, so two concurrent resets apply once.
func (s *Postgres) ResetUsage(ctx context.Context, userID string, expected *time.Time, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET ai_posts_used = 0, audits_used = 0, usage_reset_date = $2, updated_at = NOW()
		WHERE user_id = $1 AND usage_reset_date IS NOT DISTINCT FROM $3`,
		userID, next, expected)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

var incrementQueries = map[models.Feature]string{
	models.FeatureAIPosts: `UPDATE profiles SET ai_posts_used = ai_posts_used + 1, updated_at = NOW() WHERE user_id = $1 RETURNING ai_posts_used`,
	models.FeatureAudits:  `UPDATE profiles SET audits_used = audits_used + 1, updated_at = NOW() WHERE user_id = $1 RETURNING audits_used`,
}

var setUsageQueries = map[models.Feature]string{
	models.FeatureAIPosts: `UPDATE profiles SET ai_posts_used = $2, updated_at = NOW() WHERE user_id = $1`,
	models.FeatureAudits:  `UPDATE profiles SET audits_used = $2, updated_at = NOW() WHERE user_id = $1`,
}

// IncrementUsage bumps the counter in a single statement and returns the new value.
func (s *Postgres) IncrementUsage(ctx context.Context, userID string, feature models.Feature) (int, error) {
	query, ok := incrementQueries[feature]
	if !ok {
		return 0, apperr.ErrInvalidRequest
	}
	var used int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&used); err != nil {
		return 0, classify(err)
	}
	return used, nil
}

func (s *Postgres) SetUsage(ctx context.Context, userID string, feature models.Feature, value int) error {
	query, ok := setUsageQueries[feature]
	if !ok {
		return apperr.ErrInvalidRequest
	}
	res, err := s.db.ExecContext(ctx, query, userID, value)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

func (s *Postgres) UpdateProfilePlan(ctx context.Context, userID string, planType models.PlanID, status string, periodEnd *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, plan_type, plan_status, plan_current_period_end)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET plan_type = EXCLUDED.plan_type,
			plan_status = EXCLUDED.plan_status,
			plan_current_period_end = EXCLUDED.plan_current_period_end,
			updated_at = NOW()`,
		userID, string(planType), status, periodEnd)
	return classify(err)
}

func (s *Postgres) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, status, price_id, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id)
		DO UPDATE SET status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = NOW()`,
		sub.ID, sub.UserID, sub.Status, sub.PriceID, sub.CurrentPeriodEnd)
	return classify(err)
}

func (s *Postgres) GetStripeCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID string
	err := s.db.QueryRowContext(ctx, `SELECT stripe_customer_id FROM user_billing WHERE user_id = $1`, userID).Scan(&customerID)
	if err != nil {
		return "", classify(err)
	}
	return customerID, nil
}

func (s *Postgres) SaveStripeCustomer(ctx context.Context, userID, customerID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_billing (user_id, stripe_customer_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET stripe_customer_id = EXCLUDED.stripe_customer_id`,
		userID, customerID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: stripe customer %s already linked", apperr.ErrConflict, customerID)
	}
	return classify(err)
}

func (s *Postgres) UserIDForCustomer(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM user_billing WHERE stripe_customer_id = $1`, customerID).Scan(&userID)
	if err != nil {
		return "", classify(err)
	}
	return userID, nil
}

const locationColumns = `id, user_id, location_name, title, store_code, place_id, address, timezone, raw, updated_at`

// UpsertLocation keys on (user_id, location_name). Optional fields missing
// from loc keep their stored values.
func (s *Postgres) UpsertLocation(ctx context.Context, loc models.Location) (models.Location, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO gbp_locations (user_id, location_name, title, store_code, place_id, address, timezone, raw, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id, location_name)
		DO UPDATE SET title = COALESCE(EXCLUDED.title, gbp_locations.title),
			store_code = COALESCE(EXCLUDED.store_code, gbp_locations.store_code),
			place_id = COALESCE(EXCLUDED.place_id, gbp_locations.place_id),
			address = COALESCE(EXCLUDED.address, gbp_locations.address),
			timezone = COALESCE(EXCLUDED.timezone, gbp_locations.timezone),
			raw = COALESCE(EXCLUDED.raw, gbp_locations.raw),
			updated_at = NOW()
		RETURNING `+locationColumns,
		loc.UserID, loc.LocationName, loc.Title, loc.StoreCode, loc.PlaceID, loc.Address, loc.Timezone, nullableJSON(loc.Raw))
	return scanLocation(row)
}

func (s *Postgres) GetLocation(ctx context.Context, userID string, id int64) (models.Location, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM gbp_locations WHERE user_id = $1 AND id = $2`, userID, id)
	return scanLocation(row)
}

func (s *Postgres) GetLocationByName(ctx context.Context, userID, locationName string) (models.Location, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM gbp_locations WHERE user_id = $1 AND location_name = $2`, userID, locationName)
	return scanLocation(row)
}

// ListLocations returns the cached locations of userID, most recently
// updated first.
func (s *Postgres) ListLocations(ctx context.Context, userID string) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+locationColumns+` FROM gbp_locations WHERE user_id = $1 ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []models.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (models.Location, error) {
	var loc models.Location
	err := row.Scan(&loc.ID, &loc.UserID, &loc.LocationName, &loc.Title, &loc.StoreCode, &loc.PlaceID,
		&loc.Address, &loc.Timezone, &loc.Raw, &loc.UpdatedAt)
	if err != nil {
		return models.Location{}, classify(err)
	}
	return loc, nil
}

const reviewColumns = `id, user_id, location_id, google_review_id, reviewer_name, star_rating, comment,
	review_update_time, language_code, reply_comment, reply_update_time, status, updated_at`

func (s *Postgres) UpsertReview(ctx context.Context, r models.Review) (models.Review, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reviews (user_id, location_id, google_review_id, reviewer_name, star_rating, comment,
			review_update_time, language_code, reply_comment, reply_update_time, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (user_id, google_review_id)
		DO UPDATE SET location_id = EXCLUDED.location_id,
			reviewer_name = EXCLUDED.reviewer_name,
			star_rating = EXCLUDED.star_rating,
			comment = EXCLUDED.comment,
			review_update_time = EXCLUDED.review_update_time,
			language_code = EXCLUDED.language_code,
			reply_comment = EXCLUDED.reply_comment,
			reply_update_time = EXCLUDED.reply_update_time,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING `+reviewColumns,
		r.UserID, r.LocationID, r.GoogleReviewID, r.ReviewerName, r.StarRating, r.Comment,
		r.ReviewUpdateTime, r.LanguageCode, r.ReplyComment, r.ReplyUpdateTime, r.Status)
	return scanReview(row)
}

func (s *Postgres) GetReviewByGoogleID(ctx context.Context, userID, googleReviewID string) (models.Review, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE user_id = $1 AND google_review_id = $2`, userID, googleReviewID)
	return scanReview(row)
}

// ListReviews returns the synced reviews of one location, newest first.
func (s *Postgres) ListReviews(ctx context.Context, userID, locationName string, limit int) ([]models.Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.location_id, r.google_review_id, r.reviewer_name, r.star_rating, r.comment,
			r.review_update_time, r.language_code, r.reply_comment, r.reply_update_time, r.status, r.updated_at
		FROM reviews r
		JOIN gbp_locations l ON l.id = r.location_id
		WHERE r.user_id = $1 AND l.location_name = $2
		ORDER BY r.review_update_time DESC NULLS LAST, r.id DESC
		LIMIT $3`, userID, locationName, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []models.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func scanReview(row rowScanner) (models.Review, error) {
	var r models.Review
	err := row.Scan(&r.ID, &r.UserID, &r.LocationID, &r.GoogleReviewID, &r.ReviewerName, &r.StarRating, &r.Comment,
		&r.ReviewUpdateTime, &r.LanguageCode, &r.ReplyComment, &r.ReplyUpdateTime, &r.Status, &r.UpdatedAt)
	if err != nil {
		return models.Review{}, classify(err)
	}
	return r, nil
}

func (s *Postgres) MarkReviewReplied(ctx context.Context, userID string, reviewID int64, comment string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews
		SET reply_comment = $3, reply_update_time = $4, status = $5, updated_at = NOW()
		WHERE user_id = $1 AND id = $2`,
		userID, reviewID, comment, at, models.ReviewStatusReplied)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

func (s *Postgres) InsertReviewReply(ctx context.Context, reply models.ReviewReply) error {
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_replies (id, user_id, review_id, draft_markdown, posted, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		reply.ID, reply.UserID, reply.ReviewID, reply.DraftMarkdown, reply.Posted, reply.PostedAt)
	return classify(err)
}

func (s *Postgres) InsertLead(ctx context.Context, lead models.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, email, business_query, city, category, audit_text, score, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lead.ID, lead.Email, lead.BusinessQuery, lead.City, lead.Category, lead.AuditText, lead.Score, lead.UserAgent)
	return classify(err)
}

const projectColumns = `id, user_id, title, type, input, output_md, created_at, updated_at`

func (s *Postgres) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, user_id, title, type, input, output_md)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+projectColumns,
		p.ID, p.UserID, p.Title, p.Type, string(p.Input), p.OutputMD)
	return scanProject(row)
}

// ListProjects returns the projects of userID, newest first.
func (s *Postgres) ListProjects(ctx context.Context, userID string) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Postgres) GetProject(ctx context.Context, userID, id string) (models.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	return scanProject(row)
}

// UpdateProject changes the non-nil fields of upd. A project owned by
// another user is reported as not found.
func (s *Postgres) UpdateProject(ctx context.Context, userID, id string, upd models.ProjectUpdate) (models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET title = COALESCE($3, title), output_md = COALESCE($4, output_md), updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+projectColumns,
		id, userID, upd.Title, upd.OutputMD)
	return scanProject(row)
}

// DeleteProject removes the project. Missing rows are not an error.
func (s *Postgres) DeleteProject(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	return classify(err)
}

func scanProject(row rowScanner) (models.Project, error) {
	var (
		p     models.Project
		input []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Type, &input, &p.OutputMD, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Project{}, classify(err)
	}
	p.Input = input
	return p, nil
}

func (s *Postgres) DashboardSummary(ctx context.Context, userID string) (models.DashboardSummary, error) {
	var summary models.DashboardSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM gbp_locations WHERE user_id = $1),
			(SELECT COUNT(*) FROM reviews WHERE user_id = $1)`, userID,
	).Scan(&summary.LocationsCount, &summary.ReviewsCount)
	if err != nil {
		return models.DashboardSummary{}, classify(err)
	}
	return summary, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// classify maps driver errors onto the shared taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apperr.ErrNotFound
	case isUnavailable(err):
		return apperr.Unavailable(err)
	default:
		return err
	}
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 53: insufficient resources, 57P: operator intervention
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "57P")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.Timeout(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
