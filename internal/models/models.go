package models

import "time"

// DefaultRideValue is the fare assumed when an offer payload carries no value.
const DefaultRideValue = 7.00

const (
	RideStatusPending   = "pendente"
	RideStatusAccepted  = "accepted"
	RideStatusCompleted = "completed"
)

// Driver account review states as reported by the backend.
const (
	DriverStatusPending  = "pendente"
	DriverStatusApproved = "aprovado"
	DriverStatusRejected = "reprovado"
)

// RideOffer is a ride proposed to a driver. It is never mutated after decoding.
type RideOffer struct {
	ID            string  `json:"id"`
	Pickup        string  `json:"startLocation"`
	Dropoff       string  `json:"endLocation"`
	PaymentMethod string  `json:"paymentMethod"`
	Value         float64 `json:"value"`
	Status        string  `json:"status,omitempty"`
	ClientPhone   string  `json:"clientPhoneNumber,omitempty"`
}

// AcceptedRide is the ride a driver committed to, as confirmed by the backend.
type AcceptedRide struct {
	RideOffer
	DriverID   string    `json:"driverId,omitempty"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Driver is a driver account.
type Driver struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Age             string `json:"age,omitempty"`
	MaritalStatus   string `json:"maritalStatus,omitempty"`
	CPF             string `json:"cpf,omitempty"`
	PhoneNumber     string `json:"phoneNumber,omitempty"`
	CNHPhotoURL     string `json:"cnhPhotoUrl,omitempty"`
	MotoDocURL      string `json:"motoDocUrl,omitempty"`
	ProfilePhotoURL string `json:"profilePhotoUrl,omitempty"`
	Status          string `json:"status"`
	City            string `json:"cidade,omitempty"`
}

// Admin is an operator account. Role is "master" or "cidade".
type Admin struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	Role          string   `json:"role"`
	ManagedCities []string `json:"managedCities"`
}

type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventOfferArrived     EventType = "offer_arrived"
	EventOfferUnavailable EventType = "offer_unavailable"
	EventAcceptFailed     EventType = "accept_failed"
	EventRideAccepted     EventType = "ride_accepted"
	EventRideFinished     EventType = "ride_finished"
	EventConnectionLost   EventType = "connection_lost"
)

// Event is an outward notification for whatever is rendering the driver UI.
type Event struct {
	Type    EventType     `json:"type"`
	State   string        `json:"state"`
	Message string        `json:"message,omitempty"`
	Offer   *RideOffer    `json:"offer,omitempty"`
	Ride    *AcceptedRide `json:"ride,omitempty"`
	At      time.Time     `json:"at"`
}
