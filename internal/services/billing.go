package services

import "context"

// StartCheckout returns a Stripe checkout URL for the starter plan.
func (s *Service) StartCheckout(ctx context.Context, userID, email string) (string, error) {
	return s.billing.Checkout(ctx, userID, email)
}

func (s *Service) BillingPortal(ctx context.Context, userID, email string) (string, error) {
	return s.billing.Portal(ctx, userID, email)
}

func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	return s.billing.HandleWebhook(ctx, payload, signature)
}
