package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/models"
	"github.com/example/moto-driver/internal/offer"
	"github.com/example/moto-driver/internal/session"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req backend.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteMessage(w, http.StatusBadRequest, "invalid body")
		return
	}
	sess, err := s.Sessions.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	var next *offer.Controller
	if sess.Kind == session.KindDriver && s.NewController != nil {
		next = s.NewController(*sess.Driver)
	}
	s.mu.Lock()
	prev := s.ctrl
	s.ctrl = next
	s.mu.Unlock()
	if prev != nil {
		prev.Logout()
	}

	resp := loginResponse{Session: sess}
	if s.Tokens != nil {
		if resp.Token, err = s.Tokens.Issue(sess); err != nil {
			WriteError(w, err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

type loginResponse struct {
	*session.Session
	Token string `json:"token,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Current()
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

// handleLogout ends the session. The closed controller is kept so later
// driver calls report the session as closed.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Sessions.End(); err != nil {
		WriteError(w, err)
		return
	}
	if c := s.Controller(); c != nil {
		c.Logout()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) withController(next func(http.ResponseWriter, *http.Request, *offer.Controller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := s.Controller()
		if c == nil {
			WriteError(w, models.ErrNoSession)
			return
		}
		next(w, r, c)
	}
}

type stateResponse struct {
	State              string               `json:"state"`
	Online             bool                 `json:"online"`
	SubscriptionActive bool                 `json:"subscriptionActive"`
	Pending            *models.RideOffer    `json:"pending,omitempty"`
	Accepted           *models.AcceptedRide `json:"accepted,omitempty"`
}

func snapshot(c *offer.Controller) stateResponse {
	st := c.State()
	resp := stateResponse{
		State:              st.String(),
		Online:             st != offer.StateOffline,
		SubscriptionActive: c.SubscriptionActive(),
	}
	if o, ok := c.Pending(); ok {
		resp.Pending = &o
	}
	if a, ok := c.Accepted(); ok {
		resp.Accepted = &a
	}
	return resp
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, c *offer.Controller) {
	WriteJSON(w, http.StatusOK, snapshot(c))
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request, c *offer.Controller) {
	if err := c.GoOnline(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot(c))
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request, c *offer.Controller) {
	if err := c.GoOffline(); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot(c))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, c *offer.Controller) {
	ride, err := c.Accept(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request, c *offer.Controller) {
	if err := c.Decline(); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot(c))
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request, c *offer.Controller) {
	if err := c.FinishRide(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot(c))
}

func (s *Server) currentDriver() (*models.Driver, error) {
	sess, err := s.Sessions.Current()
	if err != nil {
		return nil, err
	}
	if sess.Driver == nil {
		return nil, models.ErrForbidden
	}
	return sess.Driver, nil
}

type earningsResponse struct {
	Period string    `json:"period"`
	Since  time.Time `json:"since"`
	Total  float64   `json:"total"`
}

// periodStart maps week, month or all to the start of the window.
func periodStart(period string, now time.Time) (string, time.Time) {
	switch period {
	case "week":
		return period, now.AddDate(0, 0, -7)
	case "month":
		return period, now.AddDate(0, -1, 0)
	}
	return "all", time.Time{}
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	d, err := s.currentDriver()
	if err != nil {
		WriteError(w, err)
		return
	}
	period, since := periodStart(r.URL.Query().Get("period"), time.Now())
	total, err := s.Rides.Earnings(r.Context(), d.ID, since)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, earningsResponse{Period: period, Since: since, Total: total})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	d, err := s.currentDriver()
	if err != nil {
		WriteError(w, err)
		return
	}
	rides, err := s.Rides.ListByDriver(r.Context(), d.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rides)
}

func (s *Server) handleAvailableRides(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Sessions.Current(); err != nil {
		WriteError(w, err)
		return
	}
	rides, err := s.Backend.AvailableRides(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rides)
}

func (s *Server) withAdmin(next func(http.ResponseWriter, *http.Request, *models.Admin)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Sessions.Current()
		if err != nil {
			WriteError(w, err)
			return
		}
		if sess.Admin == nil {
			WriteError(w, models.ErrForbidden)
			return
		}
		next(w, r, sess.Admin)
	}
}

func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request, a *models.Admin) {
	groups, err := s.Backend.ListDriversByStatus(r.Context(), a.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		WriteJSON(w, http.StatusOK, groups[status])
		return
	}
	WriteJSON(w, http.StatusOK, groups)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, a *models.Admin) {
	resp, err := s.Backend.ApproveDriver(r.Context(), a.ID, mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReprove(w http.ResponseWriter, r *http.Request, a *models.Admin) {
	resp, err := s.Backend.ReproveDriver(r.Context(), a.ID, mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request, a *models.Admin) {
	var o models.RideOffer
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		WriteMessage(w, http.StatusBadRequest, "invalid body")
		return
	}
	resp, err := s.Backend.CreateRide(r.Context(), a.ID, o)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request, a *models.Admin) {
	resp, err := s.Backend.StopAllSimulations(r.Context(), a.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
