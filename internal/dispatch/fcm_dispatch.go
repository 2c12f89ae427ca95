package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/moto-driver/internal/models"
)

// FCMDispatcher raises a push alert on the driver's device when an offer
// arrives. Other events are ignored.
type FCMDispatcher struct {
	Endpoint    string
	Key         string
	DeviceToken string
	Client      *http.Client
	Logger      *slog.Logger
}

func NewFCMDispatcher(endpoint, key, deviceToken string, logger *slog.Logger) *FCMDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMDispatcher{
		Endpoint:    endpoint,
		Key:         key,
		DeviceToken: deviceToken,
		Client:      &http.Client{Timeout: 3 * time.Second},
		Logger:      logger,
	}
}

type fcmMessage struct {
	Message fcmBody `json:"message"`
}

type fcmBody struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (f *FCMDispatcher) Publish(ev models.Event) {
	if ev.Type != models.EventOfferArrived || ev.Offer == nil {
		return
	}
	o := *ev.Offer
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.Client.Timeout)
		defer cancel()
		if err := f.Offer(ctx, o); err != nil {
			f.Logger.Warn("push alert failed", "offer_id", o.ID, "error", err)
		}
	}()
}

// Offer posts a single new-ride alert.
func (f *FCMDispatcher) Offer(ctx context.Context, o models.RideOffer) error {
	body := fcmMessage{Message: fcmBody{
		Token: f.DeviceToken,
		Notification: fcmNotification{
			Title: "New ride",
			Body:  fmt.Sprintf("%s -> %s (%.2f)", o.Pickup, o.Dropoff, o.Value),
		},
		Data: map[string]string{
			"ride_id":        o.ID,
			"start_location": o.Pickup,
			"end_location":   o.Dropoff,
			"payment_method": o.PaymentMethod,
			"value":          fmt.Sprintf("%.2f", o.Value),
		},
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm returned %d", resp.StatusCode)
	}
	return nil
}
