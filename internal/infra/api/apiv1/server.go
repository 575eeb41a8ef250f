package apiv1

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/infra/logging"
	"course-booking-engine/internal/infra/redis"
	"course-booking-engine/internal/usecase"
)

const maxEventBody = 1 << 20

// Authenticator resolves the member behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// RateLimiter is satisfied by redis.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	booking  usecase.BookingUseCase
	checkout usecase.CheckoutUseCase
	events   usecase.EventUseCase
	auth     Authenticator
	log      *zerolog.Logger

	limiter           RateLimiter
	bookingsPerMinute int
	webhookSecret     []byte
}

type ServerOption func(*Server)

// WithBookingRateLimit caps booking attempts per member and minute.
func WithBookingRateLimit(l RateLimiter, perMinute int) ServerOption {
	return func(s *Server) {
		if l != nil && perMinute > 0 {
			s.limiter, s.bookingsPerMinute = l, perMinute
		}
	}
}

// WithWebhookSecret enables X-Signature verification on /events.
func WithWebhookSecret(secret string) ServerOption {
	return func(s *Server) {
		if secret != "" {
			s.webhookSecret = []byte(secret)
		}
	}
}

func NewServer(booking usecase.BookingUseCase, checkout usecase.CheckoutUseCase, events usecase.EventUseCase, auth Authenticator, logger *zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		booking:  booking,
		checkout: checkout,
		events:   events,
		auth:     auth,
		log:      logging.Component(logger, "apiv1"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterAPIV1 mounts the member API under /api/v1 and the processor
// webhook on /events.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Post("/events", s.handleEvent)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireMember)
		r.Get("/sessions/{sessionID}/entitlement", s.handleEntitlement)
		r.Post("/sessions/{sessionID}/bookings", s.handleBook)
		r.Post("/registrations/{registrationID}/cancel", s.handleCancel)
		r.Post("/checkins", s.handleCheckIn)
		r.Post("/checkout", s.handleCheckout)
	})
}

func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
	})
}

func currentUser(r *http.Request) string {
	id, _ := logging.UserID(r.Context())
	return id
}

// ---------- member routes ----------

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	view, err := s.booking.CheckEntitlement(r.Context(), currentUser(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type bookRequest struct {
	JoinWaitlist bool `json:"join_waitlist"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	var in bookRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed body")
			return
		}
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(r.Context(), redis.UserActionKey(userID, "book"), s.bookingsPerMinute, time.Minute)
		if err != nil {
			// fail open: redis is an optional dependency of booking
			logging.With(r.Context(), s.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many booking attempts, slow down")
			return
		}
	}

	res, err := s.booking.Book(r.Context(), usecase.BookRequest{
		UserID:       userID,
		SessionID:    chi.URLParam(r, "sessionID"),
		JoinWaitlist: in.JoinWaitlist,
	})
	if err != nil {
		if res != nil {
			writeJSON(w, statusFor(domain.KindOf(err)), res)
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Status == usecase.BookStatusWaitlisted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.booking.Cancel(r.Context(), chi.URLParam(r, "registrationID"), currentUser(r))
	if err != nil {
		if res != nil {
			writeJSON(w, statusFor(domain.KindOf(err)), res)
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type checkInRequest struct {
	At *time.Time `json:"at,omitempty"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var in checkInRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed body")
			return
		}
	}
	var at time.Time
	if in.At != nil {
		at = *in.At
	}
	c, err := s.booking.RecordCheckIn(r.Context(), currentUser(r), at)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": c.ID, "checked_in_at": c.CheckedInAt})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var in usecase.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed body")
		return
	}
	in.UserID = currentUser(r)
	res, err := s.checkout.CreateCheckout(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ---------- processor webhook ----------

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unreadable body")
		return
	}
	if s.webhookSecret != nil && !validSignature(s.webhookSecret, body, r.Header.Get("X-Signature")) {
		writeError(w, http.StatusUnauthorized, "BAD_SIGNATURE", "signature mismatch")
		return
	}

	var ev usecase.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed event")
		return
	}

	outcome, err := s.events.Process(r.Context(), ev)
	if err != nil {
		if domain.KindOf(err) == domain.KindValidation {
			writeError(w, http.StatusBadRequest, string(domain.KindValidation), domain.ReasonOf(err))
			return
		}
		// a non-2xx answer makes the processor redeliver
		logging.With(r.Context(), s.log).Error().Err(err).Str("event_id", ev.ID).Str("event_type", ev.Type).Msg("event processing failed")
		writeError(w, http.StatusInternalServerError, string(domain.KindOf(err)), "event processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event_id": ev.ID, "status": string(outcome)})
}

// validSignature checks a hex HMAC-SHA256 of the raw body, optionally
// prefixed with "sha256=".
func validSignature(secret, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ---------- responses ----------

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotEntitled, domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindCapacityExceeded, domain.KindDeadlinePassed, domain.KindConflict:
		return http.StatusConflict
	case domain.KindDuplicateEvent:
		return http.StatusOK
	case domain.KindExternalUnavailable:
		return http.StatusBadGateway
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	msg := domain.ReasonOf(err)
	if status == http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	} else if kind == domain.KindConflict && !errors.Is(err, domain.ErrAlreadyExists) {
		msg = domain.ErrConflict.Error()
	}
	writeError(w, status, string(kind), msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
