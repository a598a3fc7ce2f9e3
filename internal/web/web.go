package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"dicebastion/internal/config"
	"dicebastion/internal/ics"
	appLog "dicebastion/internal/log"
	"dicebastion/internal/metrics"
	"dicebastion/internal/model"
	"dicebastion/internal/recurrence"
	"dicebastion/internal/store"
)

const (
	maxOccurrences = 52
	feedCacheTTL   = 60 * time.Second
)

// Server exposes resolved event dates to page renderers.
type Server struct {
	cfg     *config.Config
	store   store.Store
	metrics *metrics.Metrics
	loc     *time.Location
	now     func() time.Time
	mux     *http.ServeMux

	// Serialized ICS feed, rebuilt when the snapshot changes or the TTL
	// expires (next occurrences move with the clock).
	feedMu    sync.RWMutex
	feedCache *feedCache
}

type feedCache struct {
	body        string
	snapshotAt  time.Time
	generatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st store.Store, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		metrics: m,
		loc:     cfg.Location(),
		now:     time.Now,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/{id}/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured with both
// a username and a password.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="DiceBastion", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is the JSON view of one event and its next date.
type eventDTO struct {
	Key            string     `json:"key"`
	SourceID       string     `json:"source_id"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Location       string     `json:"location,omitempty"`
	Recurring      bool       `json:"recurring"`
	Recurrence     string     `json:"recurrence"`
	RRule          string     `json:"rrule,omitempty"`
	EndDate        string     `json:"end_date,omitempty"`
	NextOccurrence *time.Time `json:"next_occurrence"`
	Error          string     `json:"error,omitempty"`
}

type eventsResponse struct {
	Events    []eventDTO `json:"events"`
	Reference time.Time  `json:"reference"`
	UpdatedAt time.Time  `json:"updated_at"`
	TimeZone  string     `json:"timezone"`
}

type occurrenceDTO struct {
	Start    time.Time `json:"start"`
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
}

type occurrencesResponse struct {
	Key         string          `json:"key"`
	Recurrence  string          `json:"recurrence"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// handleEvents lists every event with its next occurrence.
//
// GET /api/events?at=2024-01-01T00:00:00Z
//   - at: reference instant (RFC 3339), defaults to now
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ref, err := s.reference(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		return
	}

	snap, err := s.snapshot(r.Context())
	if err != nil {
		appLog.Error("api events: snapshot load failed", err)
		writeError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}

	dtos := make([]eventDTO, 0, len(snap.Events))
	for _, ev := range snap.Events {
		dto := eventDTO{
			Key:         ev.Key(),
			SourceID:    ev.SourceID,
			ID:          ev.ID,
			Title:       ev.Title,
			Description: ev.Description,
			Location:    ev.Location,
			Recurring:   ev.Template.Rule.IsRecurring(),
			Recurrence:  ev.Template.Rule.String(),
		}
		if ev.Template.End != nil {
			dto.EndDate = ev.Template.End.Format(time.DateOnly)
		}

		next, err := recurrence.NextOccurrence(ev.Template, ref)
		s.metrics.ObserveResolution(next, err)
		if err != nil {
			appLog.Error("invalid recurrence rule", err, "event", ev.Key())
			dto.Error = err.Error()
			dtos = append(dtos, dto)
			continue
		}
		dto.NextOccurrence = next
		if dto.Recurring {
			dto.RRule, _ = ev.Template.RRuleString()
		}
		dtos = append(dtos, dto)
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Events:    dtos,
		Reference: ref,
		UpdatedAt: snap.UpdatedAt,
		TimeZone:  s.loc.String(),
	})
}

// handleOccurrences lists the upcoming dates of one event.
//
// GET /api/events/{key}/occurrences?count=3&at=...
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	ref, err := s.reference(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		return
	}

	count := s.cfg.UpcomingCount
	if v := r.URL.Query().Get("count"); v != "" {
		count, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "count must be an integer")
			return
		}
	}
	count = min(count, maxOccurrences)

	snap, err := s.snapshot(r.Context())
	if err != nil {
		appLog.Error("api occurrences: snapshot load failed", err)
		writeError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}

	key := r.PathValue("id")
	ev, ok := snap.Find(key)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	starts, err := recurrence.UpcomingOccurrences(ev.Template, ref, count)
	if err != nil {
		s.metrics.ObserveResolution(nil, err)
		appLog.Error("invalid recurrence rule", err, "event", key)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := occurrencesResponse{
		Key:         key,
		Recurrence:  ev.Template.Rule.String(),
		Occurrences: make([]occurrenceDTO, 0, len(starts)),
	}
	for _, start := range starts {
		occ := model.OccurrenceOf(ev, start)
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
			Start:    occ.Start,
			Title:    occ.Title,
			Location: occ.Location,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCalendar serves the events as an iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		appLog.Error("calendar: snapshot load failed", err)
		http.Error(w, "calendar unavailable", http.StatusServiceUnavailable)
		return
	}

	now := s.now()
	s.feedMu.RLock()
	fc := s.feedCache
	s.feedMu.RUnlock()

	if fc == nil || !fc.snapshotAt.Equal(snap.UpdatedAt) || now.Sub(fc.generatedAt) >= feedCacheTTL {
		body, errs := ics.BuildFeed(snap.Events, ics.FeedOptions{Now: now, Location: s.loc})
		for _, err := range errs {
			s.metrics.ObserveResolution(nil, err)
			appLog.Error("calendar: event left out", err)
		}
		fc = &feedCache{body: body, snapshotAt: snap.UpdatedAt, generatedAt: now}

		s.feedMu.Lock()
		s.feedCache = fc
		s.feedMu.Unlock()
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="dicebastion-events.ics"`)
	_, _ = w.Write([]byte(fc.body))
}

func (s *Server) snapshot(ctx context.Context) (store.Snapshot, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return store.Snapshot{}, err
	}
	return snap.Anchor(s.loc), nil
}

func (s *Server) reference(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("at")
	if v == "" {
		return s.now().In(s.loc), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("bad reference instant")
	}
	return t.In(s.loc), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
