package pickup

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vendorhub/fulfillment-service/internal/order"
)

// Scheduling window rejections. Each wraps ErrInvalidWindow so callers
// can classify while the message names the rule that failed.
var (
	ErrInvalidWindow   = fmt.Errorf("invalid scheduling window")
	ErrPastTime        = fmt.Errorf("%w: requested time is in the past", ErrInvalidWindow)
	ErrMinLeadTime     = fmt.Errorf("%w: requested time is below the minimum lead time", ErrInvalidWindow)
	ErrClosedDay       = fmt.Errorf("%w: store is closed on the requested day", ErrInvalidWindow)
	ErrOutsideBusiness = fmt.Errorf("%w: requested time is outside business hours", ErrInvalidWindow)
)

// WindowConfig describes the acceptable pickup window. Hours are local
// to the store; CloseHour is exclusive.
type WindowConfig struct {
	MinLead   time.Duration
	ClosedDay time.Weekday
	OpenHour  int
	CloseHour int
}

// DefaultWindow matches the reference deployment: two hours of lead
// time, closed Sundays, open 09:00-20:00.
var DefaultWindow = WindowConfig{
	MinLead:   2 * time.Hour,
	ClosedDay: time.Sunday,
	OpenHour:  9,
	CloseHour: 20,
}

// OrderPlacer is the slice of the order service the scheduler needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, input order.PlaceOrderInput) (*order.Order, error)
}

// Scheduler validates a requested pickup slot and, on success, places an
// offline-pickup order through the shared reservation saga, so stock is
// reserved at scheduling time rather than payment time.
type Scheduler struct {
	orders OrderPlacer
	window WindowConfig
	now    func() time.Time
}

func NewScheduler(orders OrderPlacer, window WindowConfig) *Scheduler {
	return &Scheduler{orders: orders, window: window, now: time.Now}
}

// WithClock overrides the scheduler's clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Schedule validates the slot (first failure wins, in rule order) and
// places the pickup order.
func (s *Scheduler) Schedule(ctx context.Context, userID uuid.UUID, requestedAt time.Time) (*order.Order, error) {
	if err := s.ValidateWindow(requestedAt); err != nil {
		return nil, err
	}

	scheduledAt := requestedAt
	o, err := s.orders.PlaceOrder(ctx, order.PlaceOrderInput{
		UserID:          userID,
		FulfillmentType: order.FulfillmentOfflinePickup,
		ScheduledAt:     &scheduledAt,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", o.ID).Time("scheduled_at", scheduledAt).Msg("scheduler: pickup slot reserved")
	return o, nil
}

// ValidateWindow applies the four slot rules in order: strictly future,
// minimum lead time, not the closed day, within business hours.
func (s *Scheduler) ValidateWindow(requestedAt time.Time) error {
	now := s.now()

	if !requestedAt.After(now) {
		return ErrPastTime
	}
	if requestedAt.Sub(now) < s.window.MinLead {
		return ErrMinLeadTime
	}
	if requestedAt.Weekday() == s.window.ClosedDay {
		return ErrClosedDay
	}
	if hour := requestedAt.Hour(); hour < s.window.OpenHour || hour >= s.window.CloseHour {
		return ErrOutsideBusiness
	}
	return nil
}
