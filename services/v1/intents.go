package v1

import (
	"context"
	"fmt"
	"log"

	"servicecatalog-cron/models"
)

// Billing is the external billing system. Both calls must be idempotent.
type Billing interface {
	Suspend(ctx context.Context, enrollmentID string) error
	Resume(ctx context.Context, enrollmentID string) error
}

// Notifier accepts notification deliveries. Delivery failures are the
// notifier's to retry; Enqueue only fails when the message cannot be accepted.
type Notifier interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

// IntentRouter executes intents against billing and notification systems
// and mirrors every executed intent to the event hub.
type IntentRouter struct {
	billing    Billing
	notifier   Notifier
	deliveries DeliveryLog
	hub        *EventHub
}

func NewIntentRouter(billing Billing, notifier Notifier, deliveries DeliveryLog, hub *EventHub) *IntentRouter {
	return &IntentRouter{billing: billing, notifier: notifier, deliveries: deliveries, hub: hub}
}

// DeliveryKey identifies one delivery of a notification intent.
func DeliveryKey(intentKey string, n models.Notification) string {
	return fmt.Sprintf("%s:%s:%s", intentKey, n.Channel, n.Destination)
}

func (r *IntentRouter) Execute(ctx context.Context, intent models.Intent) error {
	switch intent.Kind {
	case models.BillingSuspend:
		if err := r.billing.Suspend(ctx, intent.EnrollmentID); err != nil {
			return fmt.Errorf("suspend billing for %s: %w", intent.EnrollmentID, err)
		}
		log.Printf("[BILLING] Suspended billing for enrollment %s (episode %d, runs %v)", intent.EnrollmentID, intent.Episode, intent.CauseRunIDs)
	case models.BillingResume:
		if err := r.billing.Resume(ctx, intent.EnrollmentID); err != nil {
			return fmt.Errorf("resume billing for %s: %w", intent.EnrollmentID, err)
		}
		log.Printf("[BILLING] Resumed billing for enrollment %s (episode %d)", intent.EnrollmentID, intent.Episode)
	case models.NotifySuspend, models.NotifyResolve:
		if err := r.notify(ctx, intent); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
	if r.hub != nil {
		r.hub.Publish(intent)
	}
	return nil
}

// notify hands every delivery not yet accepted to the notifier. It keeps
// going past a rejected delivery and reports the first rejection, leaving
// the intent pending for the rest.
func (r *IntentRouter) notify(ctx context.Context, intent models.Intent) error {
	var first error
	for _, n := range intent.Deliveries {
		key := DeliveryKey(intent.Key, n)
		sent, err := r.deliveries.Delivered(ctx, key)
		if err != nil {
			return fmt.Errorf("look up delivery %s: %w", key, err)
		}
		if sent {
			continue
		}
		if err := r.notifier.Enqueue(ctx, n); err != nil {
			if first == nil {
				first = fmt.Errorf("enqueue %s notification to %s: %w", n.Channel, n.Destination, err)
			}
			continue
		}
		if err := r.deliveries.MarkDelivered(ctx, key); err != nil {
			log.Printf("[NOTIFY] Error recording delivery %s: %v", key, err)
		}
	}
	return first
}
