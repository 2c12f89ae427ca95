package offer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/moto-driver/internal/models"
	"github.com/example/moto-driver/internal/observability"
)

// State is the controller's externally visible state, derived from its fields.
type State int

const (
	StateOffline State = iota
	StateIdle
	StateOfferPending
	StateAccepting
	StateRideAccepted
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateIdle:
		return "online_idle"
	case StateOfferPending:
		return "online_offer_pending"
	case StateAccepting:
		return "online_accepting"
	case StateRideAccepted:
		return "online_ride_accepted"
	default:
		return "unknown"
	}
}

// Subscription is a handle on one realtime subscription. Close must
// eventually close the Messages channel.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Feed is the realtime channel delivering raw offer payloads.
type Feed interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Backend is the authority deciding who wins an offer.
type Backend interface {
	AcceptRide(ctx context.Context, driverID, offerID string) (models.AcceptedRide, error)
}

// Presence keeps the OS-level "working" indicator in sync. Fire and forget.
type Presence interface {
	SetStatus(text string)
	Stop()
}

// EventSink receives outward notifications. Publish must not block.
type EventSink interface {
	Publish(ev models.Event)
}

// RideRecorder persists accepted rides. Optional.
type RideRecorder interface {
	SaveRide(ctx context.Context, r *models.AcceptedRide) error
	UpdateStatus(ctx context.Context, rideID, status string) error
}

const (
	StatusOnline  = "You are online"
	StatusOffline = "You are offline"

	MsgOfferUnavailable = "Ride no longer available."
	MsgAcceptFailed     = "Connection error while accepting ride."
	MsgConnectionLost   = "Lost connection to the ride feed."
)

type Config struct {
	DriverID string
	Topic    string
	// AcceptTimeout bounds the backend accept call; zero leaves it to the caller's context.
	AcceptTimeout time.Duration
}

type Deps struct {
	Feed     Feed
	Backend  Backend
	Presence Presence
	Events   EventSink
	Rides    RideRecorder
	Logger   *slog.Logger
}

// Controller owns one driver's offer lifecycle. All mutations happen under mu;
// network calls run with mu released.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu         sync.Mutex
	online     bool
	connecting bool
	accepting  bool
	closed     bool
	pending    *models.RideOffer
	accepted   *models.AcceptedRide
	sub        Subscription
	gen        uint64
}

func New(cfg Config, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Presence == nil {
		deps.Presence = nopPresence{}
	}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	return &Controller{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With("driver_id", cfg.DriverID),
	}
}

func (c *Controller) stateLocked() State {
	switch {
	case !c.online:
		return StateOffline
	case c.accepted != nil:
		return StateRideAccepted
	case c.accepting:
		return StateAccepting
	case c.pending != nil:
		return StateOfferPending
	default:
		return StateIdle
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Pending returns a copy of the pending offer, if any.
func (c *Controller) Pending() (models.RideOffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return models.RideOffer{}, false
	}
	return *c.pending, true
}

// Accepted returns a copy of the accepted ride, if any.
func (c *Controller) Accepted() (models.AcceptedRide, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accepted == nil {
		return models.AcceptedRide{}, false
	}
	return *c.accepted, true
}

// SubscriptionActive reports whether a realtime subscription is held.
func (c *Controller) SubscriptionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

// GoOnline subscribes to the offer feed. Calling it while online is a no-op.
func (c *Controller) GoOnline(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ErrSessionClosed
	}
	if c.online || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	sub, err := c.deps.Feed.Subscribe(ctx, c.cfg.Topic)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("subscribe failed", "topic", c.cfg.Topic, "error", err)
		return fmt.Errorf("%w: %v", models.ErrSubscription, err)
	}
	if c.closed {
		c.mu.Unlock()
		_ = sub.Close()
		return models.ErrSessionClosed
	}
	c.online = true
	c.sub = sub
	c.gen++
	gen := c.gen
	observability.DriverOnline.Set(1)
	c.emitLocked(models.EventStateChanged, "", nil, nil)
	c.mu.Unlock()

	go c.pump(gen, sub)
	c.deps.Presence.SetStatus(StatusOnline)
	c.log.Info("driver online", "topic", c.cfg.Topic)
	return nil
}

// GoOffline drops the subscription and any pending offer. An accepted ride is kept.
func (c *Controller) GoOffline() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ErrSessionClosed
	}
	if !c.online {
		c.mu.Unlock()
		return nil
	}
	sub := c.goOfflineLocked()
	c.emitLocked(models.EventStateChanged, "", nil, nil)
	c.mu.Unlock()

	c.closeSub(sub)
	c.deps.Presence.SetStatus(StatusOffline)
	c.log.Info("driver offline")
	return nil
}

func (c *Controller) goOfflineLocked() Subscription {
	sub := c.sub
	c.sub = nil
	c.online = false
	c.pending = nil
	c.gen++
	observability.DriverOnline.Set(0)
	return sub
}

func (c *Controller) closeSub(sub Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		c.log.Warn("unsubscribe failed", "error", err)
	}
}

// OfferArrived hands an offer to the controller as if it came from the current subscription.
func (c *Controller) OfferArrived(o models.RideOffer) bool {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.deliver(gen, o)
}

func (c *Controller) deliver(gen uint64, o models.RideOffer) bool {
	observability.OffersReceived.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		c.drop(o, "stale_subscription")
		return false
	}
	if st := c.stateLocked(); st != StateIdle {
		c.drop(o, st.String())
		return false
	}
	offer := o
	c.pending = &offer
	c.emitLocked(models.EventOfferArrived, "", &offer, nil)
	c.log.Info("offer pending", "offer_id", o.ID, "value", o.Value)
	return true
}

func (c *Controller) drop(o models.RideOffer, reason string) {
	observability.OffersDropped.WithLabelValues(reason).Inc()
	c.log.Debug("offer dropped", "offer_id", o.ID, "reason", reason)
}

func (c *Controller) pump(gen uint64, sub Subscription) {
	for msg := range sub.Messages() {
		o, err := models.DecodeRideOffer(msg)
		if err != nil {
			observability.OffersMalformed.Inc()
			c.log.Warn("malformed offer dropped", "error", err)
			continue
		}
		c.deliver(gen, o)
	}

	c.mu.Lock()
	if gen != c.gen || !c.online || c.closed {
		c.mu.Unlock()
		return
	}
	lost := c.goOfflineLocked()
	c.emitLocked(models.EventConnectionLost, MsgConnectionLost, nil, nil)
	c.mu.Unlock()

	c.closeSub(lost)
	c.deps.Presence.SetStatus(StatusOffline)
	c.log.Warn("offer feed closed unexpectedly")
}

// Decline drops the pending offer locally. The backend is not told.
func (c *Controller) Decline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.ErrSessionClosed
	}
	if c.stateLocked() != StateOfferPending {
		return models.ErrInvalidState
	}
	c.log.Info("offer declined", "offer_id", c.pending.ID)
	c.pending = nil
	c.emitLocked(models.EventStateChanged, "", nil, nil)
	return nil
}

// Accept claims the pending offer. The offer leaves the pending slot before the
// backend is called. An explicit rejection loses it; an indeterminate transport
// failure puts it back.
func (c *Controller) Accept(ctx context.Context) (models.AcceptedRide, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.AcceptedRide{}, models.ErrSessionClosed
	}
	if c.stateLocked() != StateOfferPending {
		c.mu.Unlock()
		return models.AcceptedRide{}, models.ErrInvalidState
	}
	offer := *c.pending
	c.pending = nil
	c.accepting = true
	c.emitLocked(models.EventStateChanged, "", nil, nil)
	c.mu.Unlock()

	if c.cfg.AcceptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AcceptTimeout)
		defer cancel()
	}
	start := time.Now()
	ride, err := c.deps.Backend.AcceptRide(ctx, c.cfg.DriverID, offer.ID)
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, models.ErrRideUnavailable) && !errors.Is(err, models.ErrTransport) {
		err = fmt.Errorf("%w: %v", models.ErrTransport, err)
	}

	if err == nil {
		c.normalize(&ride, offer.ID)
	}

	c.mu.Lock()
	c.accepting = false
	if c.closed {
		c.mu.Unlock()
		if err == nil {
			// the backend assigned the ride even though the session is gone
			c.log.Warn("ride accepted after logout", "ride_id", ride.ID)
			c.record(ctx, &ride)
		}
		return models.AcceptedRide{}, models.ErrSessionClosed
	}

	switch {
	case err == nil:
		accepted := ride
		c.accepted = &accepted
		c.emitLocked(models.EventRideAccepted, "", nil, &accepted)
		c.mu.Unlock()

		observability.AcceptOutcomes.WithLabelValues("accepted").Inc()
		c.log.Info("ride accepted", "offer_id", offer.ID, "ride_id", ride.ID)
		c.record(ctx, &ride)
		return ride, nil

	case errors.Is(err, models.ErrRideUnavailable):
		c.emitLocked(models.EventOfferUnavailable, MsgOfferUnavailable, &offer, nil)
		c.mu.Unlock()

		observability.AcceptOutcomes.WithLabelValues("unavailable").Inc()
		c.log.Info("offer no longer available", "offer_id", offer.ID, "error", err)
		return models.AcceptedRide{}, err

	default:
		if c.online && c.accepted == nil && c.pending == nil {
			restored := offer
			c.pending = &restored
		}
		c.emitLocked(models.EventAcceptFailed, MsgAcceptFailed, &offer, nil)
		c.mu.Unlock()

		observability.AcceptOutcomes.WithLabelValues("transport_failure").Inc()
		c.log.Warn("accept outcome unknown", "offer_id", offer.ID, "error", err)
		return models.AcceptedRide{}, err
	}
}

func (c *Controller) normalize(ride *models.AcceptedRide, offerID string) {
	if ride.ID == "" {
		ride.ID = offerID
	}
	if ride.Status == "" {
		ride.Status = models.RideStatusAccepted
	}
	if ride.DriverID == "" {
		ride.DriverID = c.cfg.DriverID
	}
	if ride.AcceptedAt.IsZero() {
		ride.AcceptedAt = time.Now()
	}
}

func (c *Controller) record(ctx context.Context, r *models.AcceptedRide) {
	if c.deps.Rides == nil {
		return
	}
	// the accept already happened, so persist even if ctx is done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.deps.Rides.SaveRide(ctx, r); err != nil {
		c.log.Error("save accepted ride failed", "ride_id", r.ID, "error", err)
	}
}

// FinishRide clears the accepted ride once the driver leaves the ride context.
func (c *Controller) FinishRide(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ErrSessionClosed
	}
	if c.accepted == nil {
		c.mu.Unlock()
		return models.ErrInvalidState
	}
	ride := *c.accepted
	c.accepted = nil
	ride.Status = models.RideStatusCompleted
	c.emitLocked(models.EventRideFinished, "", nil, &ride)
	c.mu.Unlock()

	if c.deps.Rides != nil {
		if err := c.deps.Rides.UpdateStatus(ctx, ride.ID, models.RideStatusCompleted); err != nil {
			c.log.Error("mark ride completed failed", "ride_id", ride.ID, "error", err)
		}
	}
	c.log.Info("ride finished", "ride_id", ride.ID)
	return nil
}

// Logout tears the controller down for good.
func (c *Controller) Logout() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	sub := c.goOfflineLocked()
	c.accepted = nil
	c.closed = true
	c.emitLocked(models.EventStateChanged, "", nil, nil)
	c.mu.Unlock()

	c.closeSub(sub)
	c.deps.Presence.Stop()
	c.log.Info("driver logged out")
}

func (c *Controller) emitLocked(t models.EventType, msg string, o *models.RideOffer, r *models.AcceptedRide) {
	c.deps.Events.Publish(models.Event{
		Type:    t,
		State:   c.stateLocked().String(),
		Message: msg,
		Offer:   o,
		Ride:    r,
		At:      time.Now(),
	})
}

type nopPresence struct{}

func (nopPresence) SetStatus(string) {}
func (nopPresence) Stop()            {}

type nopSink struct{}

func (nopSink) Publish(models.Event) {}
