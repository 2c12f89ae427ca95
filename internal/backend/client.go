package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/moto-driver/internal/models"
)

// Client talks to the ride backend's REST API.
type Client struct {
	Endpoint string
	Client   *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

// APIError is a non-2xx answer the caller may want to show.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginResponse is the generic login answer; User is decoded according to Type.
type LoginResponse struct {
	Type string          `json:"type"`
	User json.RawMessage `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type acceptRideRequest struct {
	DriverID string `json:"driverId"`
}

func (c *Client) Login(ctx context.Context, login, password string) (LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, LoginRequest{Login: login, Password: password}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
		return out, fmt.Errorf("%w: %s", models.ErrInvalidCredentials, apiErr.Message)
	}
	return out, err
}

// AcceptRide asks the backend to assign the ride to the driver. Any non-2xx
// answer means the ride is gone; failing to get an answer is ErrTransport.
func (c *Client) AcceptRide(ctx context.Context, driverID, rideID string) (models.AcceptedRide, error) {
	var out models.AcceptedRide
	path := "/driver/rides/" + url.PathEscape(rideID) + "/accept"
	err := c.do(ctx, http.MethodPost, path, nil, acceptRideRequest{DriverID: driverID}, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return models.AcceptedRide{}, fmt.Errorf("%w: %s", models.ErrRideUnavailable, apiErr.Error())
	}
	if err != nil {
		return models.AcceptedRide{}, err
	}
	return out, nil
}

func (c *Client) AvailableRides(ctx context.Context) ([]models.RideOffer, error) {
	var out []models.RideOffer
	err := c.do(ctx, http.MethodGet, "/driver/rides", nil, nil, &out)
	return out, err
}

func (c *Client) DriversForAdmin(ctx context.Context, adminID string) ([]models.Driver, error) {
	var out []models.Driver
	err := c.do(ctx, http.MethodGet, "/admin/drivers", adminHeader(adminID), nil, &out)
	return out, err
}

// ListDriversByStatus groups the admin's drivers by review status.
func (c *Client) ListDriversByStatus(ctx context.Context, adminID string) (map[string][]models.Driver, error) {
	drivers, err := c.DriversForAdmin(ctx, adminID)
	if err != nil {
		return nil, err
	}
	out := map[string][]models.Driver{
		models.DriverStatusPending:  {},
		models.DriverStatusApproved: {},
		models.DriverStatusRejected: {},
	}
	for _, d := range drivers {
		if _, ok := out[d.Status]; ok {
			out[d.Status] = append(out[d.Status], d)
		}
	}
	return out, nil
}

func (c *Client) ApproveDriver(ctx context.Context, adminID, driverID string) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/admin/drivers/"+url.PathEscape(driverID)+"/approve", adminHeader(adminID), nil, &out)
	return out, err
}

func (c *Client) ReproveDriver(ctx context.Context, adminID, driverID string) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/admin/drivers/"+url.PathEscape(driverID)+"/reprove", adminHeader(adminID), nil, &out)
	return out, err
}

// CreateRide publishes a new ride. Pickup and dropoff are required.
func (c *Client) CreateRide(ctx context.Context, adminID string, ride models.RideOffer) (MessageResponse, error) {
	var out MessageResponse
	if strings.TrimSpace(ride.Pickup) == "" || strings.TrimSpace(ride.Dropoff) == "" {
		return out, models.ErrMissingLocations
	}
	if ride.Value == 0 {
		ride.Value = models.DefaultRideValue
	}
	if ride.Status == "" {
		ride.Status = models.RideStatusPending
	}
	err := c.do(ctx, http.MethodPost, "/admin/create-ride", adminHeader(adminID), ride, &out)
	return out, err
}

func (c *Client) StopAllSimulations(ctx context.Context, adminID string) (MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPost, "/admin/rides/stop-all", adminHeader(adminID), nil, &out)
	return out, err
}

func adminHeader(adminID string) http.Header {
	h := http.Header{}
	h.Set("admin-id", adminID)
	return h
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint+path, rd)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", models.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// a 2xx we cannot read leaves the outcome unknown
		return fmt.Errorf("%w: decode %s: %v", models.ErrTransport, path, err)
	}
	return nil
}

func readMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var m MessageResponse
	if json.Unmarshal(b, &m) == nil && m.Message != "" {
		return m.Message
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(b))
}
