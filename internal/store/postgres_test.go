package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, sealer *Sealer) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgres(db, sealer), mock
}

// captureArg matches any value and remembers it.
type captureArg struct {
	value driver.Value
}

func (c *captureArg) Match(v driver.Value) bool {
	c.value = v
	return true
}

var connectionColumns = []string{"user_id", "access_token", "refresh_token", "expires_at", "scope", "created_at", "updated_at"}

func TestPostgresGetConnectionNotFound(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery("FROM gbp_connections WHERE user_id").WithArgs("u1").WillReturnError(sql.ErrNoRows)

	_, err := s.GetConnection(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresUpsertConnectionKeepsStoredRefreshToken(t *testing.T) {
	s, mock := newMockStore(t, nil)
	expires := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("COALESCE(NULLIF(EXCLUDED.refresh_token, ''), gbp_connections.refresh_token)")).
		WithArgs("u1", "access-1", "", expires, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertConnection(context.Background(), models.OAuthConnection{
		UserID:      "u1",
		AccessToken: "access-1",
		ExpiresAt:   expires,
	})
	require.NoError(t, err)
}

func TestPostgresUpdateConnectionTokensMissingRow(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectExec("UPDATE gbp_connections").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateConnectionTokens(context.Background(), models.OAuthConnection{
		UserID:      "u1",
		AccessToken: "access-2",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresSealsTokensAtRest(t *testing.T) {
	sealer, err := NewSealer("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)
	s, mock := newMockStore(t, sealer)

	access, refresh := &captureArg{}, &captureArg{}
	expires := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO gbp_connections").
		WithArgs("u1", access, refresh, expires, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpsertConnection(context.Background(), models.OAuthConnection{
		UserID:       "u1",
		AccessToken:  "plain-access",
		RefreshToken: "plain-refresh",
		ExpiresAt:    expires,
	}))
	require.IsType(t, "", access.value)
	assert.NotContains(t, access.value.(string), "plain-access")
	assert.NotContains(t, refresh.value.(string), "plain-refresh")

	mock.ExpectQuery("FROM gbp_connections").WithArgs("u1").WillReturnRows(
		sqlmock.NewRows(connectionColumns).AddRow("u1", access.value, refresh.value, expires, nil, expires, expires))

	conn, err := s.GetConnection(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "plain-access", conn.AccessToken)
	assert.Equal(t, "plain-refresh", conn.RefreshToken)
	assert.Nil(t, conn.Scope)
}

func TestPostgresDeleteConnectionIsIdempotent(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectExec("DELETE FROM gbp_connections").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM gbp_connections").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DeleteConnection(context.Background(), "u1"))
	require.NoError(t, s.DeleteConnection(context.Background(), "u1"))
}

func TestPostgresIncrementUsageIsSingleStatement(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SET audits_used = audits_used + 1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"audits_used"}).AddRow(3))

	used, err := s.IncrementUsage(context.Background(), "u1", models.FeatureAudits)
	require.NoError(t, err)
	assert.Equal(t, 3, used)

	_, err = s.IncrementUsage(context.Background(), "u1", models.Feature("bogus"))
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestPostgresResetUsageIsConditional(t *testing.T) {
	s, mock := newMockStore(t, nil)
	expected := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("usage_reset_date IS NOT DISTINCT FROM")).
		WithArgs("u1", next, expected).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := s.ResetUsage(context.Background(), "u1", &expected, next)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPostgresConnectionFailureIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery("FROM profiles").WithArgs("u1").
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	_, err := s.GetProfile(context.Background(), "u1")
	assert.True(t, apperr.IsStoreUnavailable(err), "got %v", err)
}

func TestPostgresLatestSubscriptionStatus(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery("FROM subscriptions").WithArgs("u1").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM subscriptions").WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("past_due"))

	status, err := s.LatestSubscriptionStatus(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, status)

	status, err = s.LatestSubscriptionStatus(context.Background(), "u2")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "past_due", *status)
}

func TestPostgresSaveStripeCustomerConflict(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectExec("INSERT INTO user_billing").WithArgs("u1", "cus_1").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.SaveStripeCustomer(context.Background(), "u1", "cus_1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPostgresDashboardSummary(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery("COUNT").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"locations", "reviews"}).AddRow(2, 17))

	summary, err := s.DashboardSummary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.DashboardSummary{LocationsCount: 2, ReviewsCount: 17}, summary)
}

var reviewRowColumns = []string{"id", "user_id", "location_id", "google_review_id", "reviewer_name", "star_rating", "comment",
	"review_update_time", "language_code", "reply_comment", "reply_update_time", "status", "updated_at"}

func TestPostgresListReviewsNewestFirstWithLimit(t *testing.T) {
	s, mock := newMockStore(t, nil)
	at := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY r.review_update_time DESC NULLS LAST, r.id DESC")).
		WithArgs("u1", "accounts/1/locations/2", 100).
		WillReturnRows(sqlmock.NewRows(reviewRowColumns).
			AddRow(7, "u1", 3, "r7", "Ann", 5, "Great", at, "en", nil, nil, "new", at))
	mock.ExpectQuery("FROM reviews r").
		WithArgs("u1", "accounts/1/locations/9", 100).
		WillReturnRows(sqlmock.NewRows(reviewRowColumns))

	reviews, err := s.ListReviews(context.Background(), "u1", "accounts/1/locations/2", 100)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "r7", reviews[0].GoogleReviewID)
	assert.Equal(t, 5, *reviews[0].StarRating)

	empty, err := s.ListReviews(context.Background(), "u1", "accounts/1/locations/9", 100)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

var projectRowColumns = []string{"id", "user_id", "title", "type", "input", "output_md", "created_at", "updated_at"}

func TestPostgresCreateProjectStoresInputAsJSON(t *testing.T) {
	s, mock := newMockStore(t, nil)
	now := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	id := &captureArg{}
	mock.ExpectQuery("INSERT INTO projects").
		WithArgs(id, "u1", "Post", "blog", `{"city":"Reno"}`, nil).
		WillReturnRows(sqlmock.NewRows(projectRowColumns).
			AddRow("3f1c3c0e-8d1a-4d7e-9d7b-2a4f0e1b9c11", "u1", "Post", "blog", []byte(`{"city":"Reno"}`), nil, now, now))

	p, err := s.CreateProject(context.Background(), models.Project{UserID: "u1", Title: "Post", Type: "blog", Input: []byte(`{"city":"Reno"}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, id.value)
	assert.JSONEq(t, `{"city":"Reno"}`, string(p.Input))
	assert.Nil(t, p.OutputMD)
}

func TestPostgresUpdateProjectMissingRow(t *testing.T) {
	s, mock := newMockStore(t, nil)
	title := "New title"
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE($3, title)")).
		WithArgs("p1", "u2", &title, nil).
		WillReturnError(sql.ErrNoRows)

	_, err := s.UpdateProject(context.Background(), "u2", "p1", models.ProjectUpdate{Title: &title})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresDeleteProjectIsIdempotent(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectExec("DELETE FROM projects").WithArgs("p1", "u1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DeleteProject(context.Background(), "u1", "p1"))
}
