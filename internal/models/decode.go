package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// offerPayload mirrors the wire shape; id may be a JSON number or string.
type offerPayload struct {
	ID            json.RawMessage `json:"id"`
	Pickup        string          `json:"startLocation"`
	Dropoff       string          `json:"endLocation"`
	PaymentMethod string          `json:"paymentMethod"`
	Value         *float64        `json:"value"`
	Status        string          `json:"status"`
	ClientPhone   string          `json:"clientPhoneNumber"`
}

// DecodeRideOffer parses a realtime payload into a RideOffer.
func DecodeRideOffer(b []byte) (RideOffer, error) {
	var p offerPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return RideOffer{}, fmt.Errorf("%w: %v", ErrMalformedOffer, err)
	}
	id, err := decodeID(p.ID)
	if err != nil {
		return RideOffer{}, err
	}
	o := RideOffer{
		ID:            id,
		Pickup:        strings.TrimSpace(p.Pickup),
		Dropoff:       strings.TrimSpace(p.Dropoff),
		PaymentMethod: p.PaymentMethod,
		Value:         DefaultRideValue,
		Status:        p.Status,
		ClientPhone:   p.ClientPhone,
	}
	if p.Value != nil {
		o.Value = *p.Value
	}
	if err := o.Validate(); err != nil {
		return RideOffer{}, err
	}
	return o, nil
}

// UnmarshalJSON accepts a numeric or string id, as the backend sends either.
// Unlike DecodeRideOffer it neither defaults nor validates.
func (o *RideOffer) UnmarshalJSON(b []byte) error {
	var p offerPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	id, err := decodeID(p.ID)
	if err != nil {
		return err
	}
	*o = RideOffer{
		ID:            id,
		Pickup:        p.Pickup,
		Dropoff:       p.Dropoff,
		PaymentMethod: p.PaymentMethod,
		Status:        p.Status,
		ClientPhone:   p.ClientPhone,
	}
	if p.Value != nil {
		o.Value = *p.Value
	}
	return nil
}

// UnmarshalJSON decodes the ride fields itself; the promoted RideOffer method
// would otherwise consume the whole object.
func (r *AcceptedRide) UnmarshalJSON(b []byte) error {
	var o RideOffer
	if err := json.Unmarshal(b, &o); err != nil {
		return err
	}
	var extra struct {
		DriverID   json.RawMessage `json:"driverId"`
		AcceptedAt *time.Time      `json:"acceptedAt"`
	}
	if err := json.Unmarshal(b, &extra); err != nil {
		return err
	}
	driverID, err := decodeID(extra.DriverID)
	if err != nil {
		return err
	}
	*r = AcceptedRide{RideOffer: o, DriverID: driverID}
	if extra.AcceptedAt != nil {
		r.AcceptedAt = *extra.AcceptedAt
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	if strings.HasPrefix(s, `"`) {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedOffer, err)
		}
		return strings.TrimSpace(id), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: id must be a string or number", ErrMalformedOffer)
	}
	return n.String(), nil
}

// Validate checks the fields every offer must carry.
func (o RideOffer) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedOffer)
	case o.Pickup == "":
		return fmt.Errorf("%w: missing startLocation", ErrMalformedOffer)
	case o.Dropoff == "":
		return fmt.Errorf("%w: missing endLocation", ErrMalformedOffer)
	case o.Value < 0:
		return fmt.Errorf("%w: negative value", ErrMalformedOffer)
	}
	return nil
}
