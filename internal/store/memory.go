package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/models"

	"github.com/google/uuid"
)

// Memory is an in-process test double with the same semantics as Postgres.
type Memory struct {
	mu            sync.Mutex
	failure       error
	connections   map[string]models.OAuthConnection
	profiles      map[string]models.Profile
	subscriptions map[string]models.Subscription
	customers     map[string]string
	locations     map[string]models.Location
	reviews       map[string]models.Review
	replies       []models.ReviewReply
	leads         []models.Lead
	projects      map[string]models.Project
	nextID        int64
}

func NewMemory() *Memory {
	return &Memory{
		connections:   map[string]models.OAuthConnection{},
		profiles:      map[string]models.Profile{},
		subscriptions: map[string]models.Subscription{},
		customers:     map[string]string{},
		locations:     map[string]models.Location{},
		reviews:       map[string]models.Review{},
		projects:      map[string]models.Project{},
	}
}

// FailWith makes every subsequent call return a StoreUnavailableError
// wrapping err. Passing nil restores normal operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *Memory) check() error {
	if m.failure != nil {
		return apperr.Unavailable(m.failure)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *Memory) GetConnection(ctx context.Context, userID string) (models.OAuthConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.OAuthConnection{}, err
	}
	conn, ok := m.connections[userID]
	if !ok {
		return models.OAuthConnection{}, apperr.ErrNotFound
	}
	return conn, nil
}

func (m *Memory) UpsertConnection(ctx context.Context, conn models.OAuthConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing, ok := m.connections[conn.UserID]; ok {
		if conn.RefreshToken == "" {
			conn.RefreshToken = existing.RefreshToken
		}
		conn.CreatedAt = existing.CreatedAt
	} else {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	m.connections[conn.UserID] = conn
	return nil
}

func (m *Memory) UpdateConnectionTokens(ctx context.Context, conn models.OAuthConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	existing, ok := m.connections[conn.UserID]
	if !ok {
		return apperr.ErrNotFound
	}
	existing.AccessToken = conn.AccessToken
	existing.ExpiresAt = conn.ExpiresAt
	if conn.RefreshToken != "" {
		existing.RefreshToken = conn.RefreshToken
	}
	if conn.Scope != nil {
		existing.Scope = conn.Scope
	}
	existing.UpdatedAt = time.Now().UTC()
	m.connections[conn.UserID] = existing
	return nil
}

func (m *Memory) DeleteConnection(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.connections, userID)
	return nil
}

// ConnectionCount reports how many connection rows exist for userID.
func (m *Memory) ConnectionCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[userID]; ok {
		return 1
	}
	return 0
}

// PutProfile replaces the profile row for p.UserID.
func (m *Memory) PutProfile(p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Profile{}, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return models.Profile{}, apperr.ErrNotFound
	}
	return p, nil
}

func (m *Memory) EnsureProfile(ctx context.Context, userID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.profiles[userID]; !ok {
		m.profiles[userID] = models.Profile{UserID: userID}
	}
	return nil
}

func (m *Memory) LatestSubscriptionStatus(ctx context.Context, userID string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var latest *models.Subscription
	for _, sub := range m.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if latest == nil || sub.UpdatedAt.After(latest.UpdatedAt) {
			s := sub
			latest = &s
		}
	}
	if latest == nil {
		return nil, nil
	}
	status := latest.Status
	return &status, nil
}

func (m *Memory) ResetUsage(ctx context.Context, userID string, expected *time.Time, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	p, ok := m.profiles[userID]
	if !ok || !sameTime(p.UsageResetDate, expected) {
		return false, nil
	}
	p.AIPostsUsed = 0
	p.AuditsUsed = 0
	p.UsageResetDate = &next
	m.profiles[userID] = p
	return true, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *Memory) IncrementUsage(ctx context.Context, userID string, feature models.Feature) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	if !feature.Valid() {
		return 0, apperr.ErrInvalidRequest
	}
	p, ok := m.profiles[userID]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	var used int
	if feature == models.FeatureAudits {
		p.AuditsUsed++
		used = p.AuditsUsed
	} else {
		p.AIPostsUsed++
		used = p.AIPostsUsed
	}
	m.profiles[userID] = p
	return used, nil
}

func (m *Memory) SetUsage(ctx context.Context, userID string, feature models.Feature, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if !feature.Valid() {
		return apperr.ErrInvalidRequest
	}
	p, ok := m.profiles[userID]
	if !ok {
		return apperr.ErrNotFound
	}
	if feature == models.FeatureAudits {
		p.AuditsUsed = value
	} else {
		p.AIPostsUsed = value
	}
	m.profiles[userID] = p
	return nil
}

func (m *Memory) UpdateProfilePlan(ctx context.Context, userID string, planType models.PlanID, status string, periodEnd *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	p := m.profiles[userID]
	p.UserID = userID
	pt, st := string(planType), status
	p.PlanType = &pt
	p.PlanStatus = &st
	p.PlanCurrentPeriodEnd = periodEnd
	m.profiles[userID] = p
	return nil
}

func (m *Memory) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().UTC()
	m.subscriptions[sub.ID] = sub
	return nil
}

func (m *Memory) GetStripeCustomerID(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", err
	}
	customerID, ok := m.customers[userID]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return customerID, nil
}

func (m *Memory) SaveStripeCustomer(ctx context.Context, userID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for uid, cid := range m.customers {
		if cid == customerID && uid != userID {
			return apperr.ErrConflict
		}
	}
	m.customers[userID] = customerID
	return nil
}

func (m *Memory) UserIDForCustomer(ctx context.Context, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", err
	}
	for uid, cid := range m.customers {
		if cid == customerID {
			return uid, nil
		}
	}
	return "", apperr.ErrNotFound
}

func locationKey(userID, name string) string { return userID + "\x00" + name }

func (m *Memory) UpsertLocation(ctx context.Context, loc models.Location) (models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Location{}, err
	}
	key := locationKey(loc.UserID, loc.LocationName)
	if existing, ok := m.locations[key]; ok {
		loc.ID = existing.ID
		loc.Title = coalesce(loc.Title, existing.Title)
		loc.StoreCode = coalesce(loc.StoreCode, existing.StoreCode)
		loc.PlaceID = coalesce(loc.PlaceID, existing.PlaceID)
		loc.Address = coalesce(loc.Address, existing.Address)
		loc.Timezone = coalesce(loc.Timezone, existing.Timezone)
		if len(loc.Raw) == 0 {
			loc.Raw = existing.Raw
		}
	} else {
		m.nextID++
		loc.ID = m.nextID
	}
	loc.UpdatedAt = time.Now().UTC()
	m.locations[key] = loc
	return loc, nil
}

func coalesce(v, fallback *string) *string {
	if v != nil {
		return v
	}
	return fallback
}

func (m *Memory) GetLocation(ctx context.Context, userID string, id int64) (models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Location{}, err
	}
	for _, loc := range m.locations {
		if loc.UserID == userID && loc.ID == id {
			return loc, nil
		}
	}
	return models.Location{}, apperr.ErrNotFound
}

func (m *Memory) GetLocationByName(ctx context.Context, userID, locationName string) (models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Location{}, err
	}
	loc, ok := m.locations[locationKey(userID, locationName)]
	if !ok {
		return models.Location{}, apperr.ErrNotFound
	}
	return loc, nil
}

func (m *Memory) ListLocations(ctx context.Context, userID string) ([]models.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []models.Location
	for _, loc := range m.locations {
		if loc.UserID == userID {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Locations returns the cached locations of userID ordered by id.
func (m *Memory) Locations(userID string) []models.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Location
	for _, loc := range m.locations {
		if loc.UserID == userID {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) UpsertReview(ctx context.Context, r models.Review) (models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Review{}, err
	}
	key := locationKey(r.UserID, r.GoogleReviewID)
	if existing, ok := m.reviews[key]; ok {
		r.ID = existing.ID
	} else {
		m.nextID++
		r.ID = m.nextID
	}
	r.UpdatedAt = time.Now().UTC()
	m.reviews[key] = r
	return r, nil
}

func (m *Memory) GetReviewByGoogleID(ctx context.Context, userID, googleReviewID string) (models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Review{}, err
	}
	r, ok := m.reviews[locationKey(userID, googleReviewID)]
	if !ok {
		return models.Review{}, apperr.ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListReviews(ctx context.Context, userID, locationName string, limit int) ([]models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := []models.Review{}
	loc, ok := m.locations[locationKey(userID, locationName)]
	if !ok {
		return out, nil
	}
	for _, r := range m.reviews {
		if r.UserID == userID && r.LocationID == loc.ID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ReviewUpdateTime, out[j].ReviewUpdateTime
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkReviewReplied(ctx context.Context, userID string, reviewID int64, comment string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for key, r := range m.reviews {
		if r.UserID == userID && r.ID == reviewID {
			r.ReplyComment = &comment
			r.ReplyUpdateTime = &at
			r.Status = models.ReviewStatusReplied
			m.reviews[key] = r
			return nil
		}
	}
	return apperr.ErrNotFound
}

func (m *Memory) InsertReviewReply(ctx context.Context, reply models.ReviewReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	m.replies = append(m.replies, reply)
	return nil
}

// Replies returns every recorded review reply.
func (m *Memory) Replies() []models.ReviewReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ReviewReply(nil), m.replies...)
}

func (m *Memory) InsertLead(ctx context.Context, lead models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	lead.CreatedAt = time.Now().UTC()
	m.leads = append(m.leads, lead)
	return nil
}

// Leads returns every captured lead.
func (m *Memory) Leads() []models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Lead(nil), m.leads...)
}

func (m *Memory) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Project{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.projects[p.ID] = p
	return p, nil
}

func (m *Memory) ListProjects(ctx context.Context, userID string) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := []models.Project{}
	for _, p := range m.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetProject(ctx context.Context, userID, id string) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Project{}, err
	}
	p, ok := m.projects[id]
	if !ok || p.UserID != userID {
		return models.Project{}, apperr.ErrNotFound
	}
	return p, nil
}

func (m *Memory) UpdateProject(ctx context.Context, userID, id string, upd models.ProjectUpdate) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.Project{}, err
	}
	p, ok := m.projects[id]
	if !ok || p.UserID != userID {
		return models.Project{}, apperr.ErrNotFound
	}
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.OutputMD != nil {
		p.OutputMD = upd.OutputMD
	}
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return p, nil
}

func (m *Memory) DeleteProject(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if p, ok := m.projects[id]; ok && p.UserID == userID {
		delete(m.projects, id)
	}
	return nil
}

func (m *Memory) DashboardSummary(ctx context.Context, userID string) (models.DashboardSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return models.DashboardSummary{}, err
	}
	var summary models.DashboardSummary
	for _, loc := range m.locations {
		if loc.UserID == userID {
			summary.LocationsCount++
		}
	}
	for _, r := range m.reviews {
		if r.UserID == userID {
			summary.ReviewsCount++
		}
	}
	return summary, nil
}
