// Package devserver is a self-contained consultation backend for local
// development and integration testing. It persists to SQLite, publishes a
// full snapshot after every change, and speaks the same wire format as the
// production API.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shonalidesh/agrilink/pkg/bus"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/notify"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/storage"
)

// Server hosts the dev backend API.
type Server struct {
	store  *storage.Store
	bus    bus.MessageBus
	push   *notify.WebPushNotifier
	logger *logging.Logger
	hub    *hub
}

// Options configures optional server features.
type Options struct {
	// Push enables Web Push delivery to subscribed browsers.
	Push *notify.WebPushNotifier
}

// NewServer creates a dev backend over the given store and bus.
func NewServer(store *storage.Store, mb bus.MessageBus, logger *logging.Logger, opts Options) *Server {
	s := &Server{
		store:  store,
		bus:    mb,
		push:   opts.Push,
		logger: logger,
	}
	s.hub = newHub(logger, s.currentSnapshot)
	return s
}

// currentSnapshot encodes the full persisted collection.
func (s *Server) currentSnapshot() ([]byte, error) {
	consultations, err := s.store.ListConsultations()
	if err != nil {
		return nil, err
	}
	return encodeSnapshot(consultations)
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/ws/consultations", s.hub.handleWS)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/consultations", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Get("/assignments", s.handleAssignments)
			r.Post("/{id}/accept", s.handleAccept)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/complete", s.handleComplete)
		})
		r.Post("/expert-advice/", s.handleAdvice)
		r.Route("/push", func(r chi.Router) {
			r.Get("/key", s.handlePushKey)
			r.Post("/subscribe", s.handlePushSubscribe)
		})
	})

	return router
}

// Close tears down websocket clients.
func (s *Server) Close() {
	s.hub.closeAll()
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createPayload struct {
	FarmerID    string `json:"farmer_id"`
	FarmerName  string `json:"farmer_name"`
	FieldID     string `json:"field_id"`
	IssueType   string `json:"issue_type"`
	Description string `json:"description"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in createPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.FarmerID == "" {
		respondError(w, http.StatusBadRequest, "farmer_id is required")
		return
	}
	if in.FarmerName == "" {
		in.FarmerName = "Unknown Farmer"
	}

	c := &storage.Consultation{
		ID:          ulid.Make().String(),
		Status:      "PENDING",
		FarmerID:    in.FarmerID,
		FarmerName:  in.FarmerName,
		FieldID:     in.FieldID,
		IssueType:   in.IssueType,
		Description: in.Description,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateConsultation(c); err != nil {
		s.logger.Error(logging.CategoryServer, "create_failed", err.Error(), nil)
		respondError(w, http.StatusInternalServerError, "could not create consultation")
		return
	}

	s.publishSnapshot(r.Context())
	s.pushNewRequest(c)
	respondJSON(w, http.StatusCreated, toWire(c))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		consultations []*storage.Consultation
		err           error
	)
	if farmerID := r.URL.Query().Get("farmer_id"); farmerID != "" {
		consultations, err = s.store.ListConsultationsByFarmer(farmerID)
	} else {
		consultations, err = s.store.ListConsultations()
	}
	if err != nil {
		s.logger.Error(logging.CategoryServer, "list_failed", err.Error(), nil)
		respondError(w, http.StatusInternalServerError, "could not list consultations")
		return
	}
	s.respondList(w, consultations)
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	expertID := r.URL.Query().Get("expert_id")
	if expertID == "" {
		respondError(w, http.StatusBadRequest, "expert_id is required")
		return
	}
	consultations, err := s.store.ListAssignments(expertID)
	if err != nil {
		s.logger.Error(logging.CategoryServer, "assignments_failed", err.Error(), nil)
		respondError(w, http.StatusInternalServerError, "could not list assignments")
		return
	}
	s.respondList(w, consultations)
}

func (s *Server) respondList(w http.ResponseWriter, consultations []*storage.Consultation) {
	items := make([]wireConsultation, 0, len(consultations))
	for _, c := range consultations {
		items = append(items, toWire(c))
	}
	respondJSON(w, http.StatusOK, items)
}

type mutationPayload struct {
	ExpertID string `json:"expert_id"`
}

func (s *Server) decodeMutation(w http.ResponseWriter, r *http.Request) (id, expertID string, ok bool) {
	id = chi.URLParam(r, "id")
	var in mutationPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return "", "", false
	}
	if in.ExpertID == "" {
		respondError(w, http.StatusBadRequest, "expert_id is required")
		return "", "", false
	}
	return id, in.ExpertID, true
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, expertID, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}
	s.finishMutation(w, r, id, s.store.ClaimConsultation(id, expertID))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, expertID, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}
	s.finishMutation(w, r, id, s.store.UpdateConsultationStatus(id, expertID, "PENDING", "REJECTED"))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, expertID, ok := s.decodeMutation(w, r)
	if !ok {
		return
	}
	s.finishMutation(w, r, id, s.store.UpdateConsultationStatus(id, expertID, "ACCEPTED", "COMPLETED"))
}

// finishMutation maps storage results to HTTP and publishes a snapshot on
// success.
func (s *Server) finishMutation(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "consultation not found")
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, "consultation is not in the required state")
	case err != nil:
		s.logger.Error(logging.CategoryServer, "mutation_failed", err.Error(), map[string]any{"id": id})
		respondError(w, http.StatusInternalServerError, "mutation failed")
	default:
		s.publishSnapshot(r.Context())
		respondJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

type advicePayload struct {
	RequestID        string `json:"request_id"`
	FieldID          string `json:"field_id"`
	ProblemSummary   string `json:"problem_summary"`
	Diagnosis        string `json:"diagnosis"`
	Recommendation   string `json:"recommendation"`
	FertilizerAdvice string `json:"fertilizer_advice"`
	FollowUpDays     int    `json:"follow_up_days"`
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	var in advicePayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.RequestID == "" {
		respondError(w, http.StatusBadRequest, "request_id is required")
		return
	}
	if in.ProblemSummary == "" || in.Diagnosis == "" || in.Recommendation == "" {
		respondError(w, http.StatusBadRequest, "problem_summary, diagnosis and recommendation are required")
		return
	}

	id := in.RequestID
	if _, err := s.store.GetConsultation(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "consultation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	report := &storage.AdviceReport{
		RequestID:        id,
		FieldID:          in.FieldID,
		ProblemSummary:   in.ProblemSummary,
		Diagnosis:        in.Diagnosis,
		Recommendation:   in.Recommendation,
		FertilizerAdvice: in.FertilizerAdvice,
		FollowUpDays:     in.FollowUpDays,
		SubmittedAt:      time.Now(),
	}
	if err := s.store.SaveAdviceReport(report); err != nil {
		s.logger.Error(logging.CategoryServer, "advice_save_failed", err.Error(), map[string]any{"id": id})
		respondError(w, http.StatusInternalServerError, "could not save report")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"request_id": id})
}

func (s *Server) handlePushKey(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		respondError(w, http.StatusNotFound, "push is not enabled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"public_key": s.push.PublicKey()})
}

type subscribePayload struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	Principal string `json:"principal"`
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		respondError(w, http.StatusNotFound, "push is not enabled")
		return
	}

	var in subscribePayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Endpoint == "" || in.Keys.P256dh == "" || in.Keys.Auth == "" {
		respondError(w, http.StatusBadRequest, "endpoint and keys are required")
		return
	}

	sub := &notify.Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  in.Endpoint,
		P256dh:    in.Keys.P256dh,
		Auth:      in.Keys.Auth,
		Principal: in.Principal,
		UserAgent: r.UserAgent(),
		CreatedAt: time.Now(),
	}
	if err := s.store.SavePushSubscription(sub); err != nil {
		s.logger.Error(logging.CategoryServer, "subscribe_failed", err.Error(), nil)
		respondError(w, http.StatusInternalServerError, "could not save subscription")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": sub.ID})
}

// publishSnapshot pushes the full collection to every channel: connected
// websockets and the message bus.
func (s *Server) publishSnapshot(ctx context.Context) {
	snapshot, err := s.currentSnapshot()
	if err != nil {
		s.logger.Error(logging.CategoryServer, "snapshot_encode_failed", err.Error(), nil)
		return
	}

	s.hub.broadcast(snapshot)

	if s.bus != nil {
		if err := s.bus.Publish(ctx, bus.SubjectSnapshot, snapshot); err != nil {
			s.logger.Warn(logging.CategoryServer, "snapshot_publish_failed", err.Error(), nil)
		}
	}
}

// pushNewRequest delivers a Web Push to browsers subscribed under the expert
// role. Best effort; failure is only logged.
func (s *Server) pushNewRequest(c *storage.Consultation) {
	if s.push == nil {
		return
	}

	n := &notify.Notification{
		ID:        ulid.Make().String(),
		Kind:      notify.KindNewRequest,
		Title:     "New Request from " + c.FarmerName,
		Body:      c.IssueType,
		RequestID: c.ID,
		Requester: c.FarmerName,
		Principal: string(session.RoleExpert),
		Timestamp: time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.push.Notify(ctx, n); err != nil {
			s.logger.Warn(logging.CategoryServer, "push_failed", err.Error(), map[string]any{"id": c.ID})
		}
	}()
}
