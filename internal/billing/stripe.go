// Package billing runs Stripe checkout and keeps plan fields in sync with
// subscription webhooks.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"locallift/internal/apperr"
	"locallift/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Store interface {
	EnsureProfile(ctx context.Context, userID, email string) error
	GetStripeCustomerID(ctx context.Context, userID string) (string, error)
	SaveStripeCustomer(ctx context.Context, userID, customerID string) error
	UserIDForCustomer(ctx context.Context, customerID string) (string, error)
	UpsertSubscription(ctx context.Context, sub models.Subscription) error
	UpdateProfilePlan(ctx context.Context, userID string, planType models.PlanID, status string, periodEnd *time.Time) error
}

type Config struct {
	SecretKey      string
	WebhookSecret  string
	StarterPriceID string
	TrialDays      int
	AppURL         string
	// Backends overrides the Stripe API endpoints; nil uses the defaults.
	Backends *stripe.Backends
}

// Service wraps a Stripe client built on first use.
type Service struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	once sync.Once
	api  *client.API
}

func NewService(cfg Config, store Store, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, store: store, logger: logger}
}

func (s *Service) Configured() bool {
	return s.cfg.SecretKey != "" && s.cfg.StarterPriceID != ""
}

func (s *Service) client() (*client.API, error) {
	if s.cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: %w", apperr.ErrNotConfigured)
	}
	s.once.Do(func() {
		s.api = client.New(s.cfg.SecretKey, s.cfg.Backends)
	})
	return s.api, nil
}

// Checkout creates a subscription checkout session for the starter plan and
// returns its URL.
func (s *Service) Checkout(ctx context.Context, userID, email string) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("stripe checkout: %w", apperr.ErrNotConfigured)
	}
	api, err := s.client()
	if err != nil {
		return "", err
	}
	if err := s.store.EnsureProfile(ctx, userID, email); err != nil {
		return "", apperr.Unavailable(fmt.Errorf("ensure profile: %w", err))
	}
	customerID, err := s.ensureCustomer(ctx, api, userID, email)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.StarterPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID},
		},
		SuccessURL:          stripe.String(s.cfg.AppURL + "/settings?success=1"),
		CancelURL:           stripe.String(s.cfg.AppURL + "/settings?canceled=1"),
		AllowPromotionCodes: stripe.Bool(true),
	}
	if s.cfg.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(s.cfg.TrialDays))
	}
	params.Context = ctx

	sess, err := api.CheckoutSessions.New(params)
	if err != nil {
		return "", stripeError("create checkout session", err)
	}
	if sess.URL == "" {
		return "", errors.New("stripe checkout url missing")
	}
	s.logger.Info("stripe checkout session created", "user_id", userID, "session_id", sess.ID)
	return sess.URL, nil
}

// Portal returns a billing portal URL for the user's customer.
func (s *Service) Portal(ctx context.Context, userID, email string) (string, error) {
	api, err := s.client()
	if err != nil {
		return "", err
	}
	customerID, err := s.ensureCustomer(ctx, api, userID, email)
	if err != nil {
		return "", err
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.cfg.AppURL + "/settings"),
	}
	params.Context = ctx
	sess, err := api.BillingPortalSessions.New(params)
	if err != nil {
		return "", stripeError("create portal session", err)
	}
	if sess.URL == "" {
		return "", errors.New("stripe portal url missing")
	}
	return sess.URL, nil
}

// ensureCustomer returns the mapped customer, else finds one by email or
// creates it, then records the mapping.
func (s *Service) ensureCustomer(ctx context.Context, api *client.API, userID, email string) (string, error) {
	customerID, err := s.store.GetStripeCustomerID(ctx, userID)
	if err == nil && customerID != "" {
		return customerID, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.Unavailable(fmt.Errorf("load stripe customer: %w", err))
	}
	if email == "" {
		return "", fmt.Errorf("%w: account has no email", apperr.ErrInvalidRequest)
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Limit = stripe.Int64(1)
	listParams.Context = ctx
	it := api.Customers.List(listParams)
	if it.Next() {
		customerID = it.Customer().ID
	}
	if err := it.Err(); err != nil {
		return "", stripeError("list customers", err)
	}
	if customerID == "" {
		createParams := &stripe.CustomerParams{
			Email:    stripe.String(email),
			Metadata: map[string]string{"user_id": userID},
		}
		createParams.Context = ctx
		cust, err := api.Customers.New(createParams)
		if err != nil {
			return "", stripeError("create customer", err)
		}
		customerID = cust.ID
	}

	if err := s.store.SaveStripeCustomer(ctx, userID, customerID); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return "", fmt.Errorf("stripe customer %s belongs to another user: %w", customerID, err)
		}
		return "", apperr.Unavailable(fmt.Errorf("save stripe customer: %w", err))
	}
	return customerID, nil
}

func stripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe %s: %s - %s: %w", op, stripeErr.Code, stripeErr.Msg, err)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

// HandleWebhook verifies the signature and applies subscription changes.
// Events for customers without a user mapping are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.cfg.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook: %w", apperr.ErrNotConfigured)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
		}
		return s.applyCheckout(ctx, &sess)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
		}
		return s.applySubscription(ctx, &sub, planForStatus(sub.Status))
	default:
		s.logger.Debug("stripe event ignored", "type", event.Type)
		return nil
	}
}

func (s *Service) applyCheckout(ctx context.Context, sess *stripe.CheckoutSession) error {
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return nil
	}
	api, err := s.client()
	if err != nil {
		return err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := api.Subscriptions.Get(sess.Subscription.ID, params)
	if err != nil {
		return stripeError("retrieve subscription", err)
	}
	if sub.Customer == nil && sess.Customer != nil {
		sub.Customer = sess.Customer
	}
	return s.applySubscription(ctx, sub, models.PlanStarter)
}

func planForStatus(status stripe.SubscriptionStatus) models.PlanID {
	if status == stripe.SubscriptionStatusCanceled || status == stripe.SubscriptionStatusUnpaid {
		return models.PlanFree
	}
	return models.PlanStarter
}

func (s *Service) applySubscription(ctx context.Context, sub *stripe.Subscription, plan models.PlanID) error {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil
	}
	userID, err := s.store.UserIDForCustomer(ctx, sub.Customer.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("stripe event for unmapped customer", "customer_id", sub.Customer.ID, "subscription_id", sub.ID)
		return nil
	}
	if err != nil {
		return apperr.Unavailable(fmt.Errorf("map stripe customer: %w", err))
	}

	record := models.Subscription{
		ID:     sub.ID,
		UserID: userID,
		Status: string(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID := sub.Items.Data[0].Price.ID
		record.PriceID = &priceID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		record.CurrentPeriodEnd = &end
	}

	if err := s.store.UpsertSubscription(ctx, record); err != nil {
		return apperr.Unavailable(fmt.Errorf("upsert subscription: %w", err))
	}
	if err := s.store.UpdateProfilePlan(ctx, userID, plan, record.Status, record.CurrentPeriodEnd); err != nil {
		return apperr.Unavailable(fmt.Errorf("update profile plan: %w", err))
	}
	s.logger.Info("subscription synced", "user_id", userID, "subscription_id", sub.ID, "status", record.Status, "plan", plan)
	return nil
}
