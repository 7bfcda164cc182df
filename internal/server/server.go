// Package server exposes pagination controllers over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/Sternrassler/pagestore/pkg/fetchcache"
	"github.com/Sternrassler/pagestore/pkg/metrics"
	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Item is the item type of proxied resources; items are passed through as
// the upstream encoded them.
type Item = json.RawMessage

// Resource is one resource served by the proxy.
type Resource struct {
	Controller *pagination.Controller[Item]

	// Cache is the response cache in front of the resource's fetch function.
	// It is invalidated on refresh. Optional.
	Cache *fetchcache.Manager
}

// Server routes proxy requests to resources.
type Server struct {
	store     *pagination.Store
	resources map[string]Resource
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	mux       *http.ServeMux

	mu       sync.Mutex
	bindings map[pagination.InstanceID]*pagination.Binding[Item]
}

// New creates a server for the given resources, all registered in store.
func New(store *pagination.Store, resources map[string]Resource, logger zerolog.Logger) *Server {
	s := &Server{
		store:     store,
		resources: resources,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bindings: make(map[pagination.InstanceID]*pagination.Binding[Item]),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /resources", s.handleListResources)
	mux.HandleFunc("GET /resources/{name}", s.handleResourceStats)
	mux.HandleFunc("GET /resources/{name}/items", s.handleItems)
	mux.HandleFunc("POST /resources/{name}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /resources/{name}/instances", s.handleListInstances)
	mux.HandleFunc("POST /resources/{name}/instances", s.handleCreateInstance)
	mux.HandleFunc("GET /resources/{name}/instances/{id}", s.handleGetInstance)
	mux.HandleFunc("PATCH /resources/{name}/instances/{id}", s.handleUpdateInstance)
	mux.HandleFunc("DELETE /resources/{name}/instances/{id}", s.handleDeleteInstance)
	mux.HandleFunc("GET /resources/{name}/events", s.handleEvents)
	s.mux = mux

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Close removes every instance created through the server.
func (s *Server) Close() {
	s.mu.Lock()
	bindings := s.bindings
	s.bindings = make(map[pagination.InstanceID]*pagination.Binding[Item])
	s.mu.Unlock()

	for _, b := range bindings {
		b.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.resources))
	for name := range s.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"resources": names})
}

func (s *Server) handleResourceStats(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Controller.Stats())
}

// handleItems answers a page or range without creating an instance.
// Query parameters other than the paging ones become the argument value.
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}

	req, err := rangeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := res.Controller.FetchRangeView(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}

	invalidated := 0
	if res.Cache != nil {
		n, err := res.Cache.Invalidate(r.Context(), res.Controller.Name())
		if err != nil {
			s.logger.Warn().Err(err).Str("resource", res.Controller.Name()).Msg("Fetch cache invalidation failed")
		}
		invalidated = n
	}

	if err := res.Controller.Refresh(r.Context()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Info().Str("resource", res.Controller.Name()).Int("invalidated", invalidated).Msg("Resource refreshed")
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": invalidated})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": res.Controller.Instances()})
}

type instanceResponse struct {
	ID pagination.InstanceID `json:"id"`
	pagination.View[Item]
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	res, ok := s.resource(w, r)
	if !ok {
		return
	}

	var opts pagination.InstanceOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	b, err := pagination.CreateInstance[Item](s.store, res.Controller.Name(), opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.mu.Lock()
	s.bindings[b.ID()] = b
	s.mu.Unlock()

	if err := res.Controller.EnsureLoaded(r.Context(), b.ID()); err != nil {
		s.logger.Warn().Err(err).Str("instance", string(b.ID())).Msg("Initial instance load failed")
	}
	writeJSON(w, http.StatusCreated, instanceResponse{ID: b.ID(), View: b.View()})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	b, ok := s.binding(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse{ID: b.ID(), View: b.View()})
}

// handleUpdateInstance applies a JSON object of field writes. "args" replaces
// the argument value; every other key is a paging field set to an integer.
func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	b, ok := s.binding(w, r)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if raw, ok := body["args"]; ok {
		var args any
		if err := json.Unmarshal(raw, &args); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := b.SetArgs(r.Context(), args); err != nil {
			s.writeEngineError(w, err)
			return
		}
		delete(body, "args")
	}

	fields := make([]string, 0, len(body))
	for field := range body {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		var value int
		if err := json.Unmarshal(body[field], &value); err != nil {
			writeError(w, http.StatusBadRequest, errors.New(field+" must be an integer"))
			return
		}
		if err := b.Set(r.Context(), pagination.Field(field), value); err != nil {
			s.writeEngineError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, instanceResponse{ID: b.ID(), View: b.View()})
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	b, ok := s.binding(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.bindings, b.ID())
	s.mu.Unlock()

	b.Close()
	w.WriteHeader(http.StatusNoContent)
}

// resource resolves the {name} path value, answering 404 when unknown.
func (s *Server) resource(w http.ResponseWriter, r *http.Request) (Resource, bool) {
	name := r.PathValue("name")
	res, ok := s.resources[name]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown resource "+strconv.Quote(name)))
	}
	return res, ok
}

// binding resolves the {name}/{id} path values, answering 404 when unknown.
func (s *Server) binding(w http.ResponseWriter, r *http.Request) (*pagination.Binding[Item], bool) {
	if _, ok := s.resource(w, r); !ok {
		return nil, false
	}

	id := pagination.InstanceID(r.PathValue("id"))
	s.mu.Lock()
	b, ok := s.bindings[id]
	s.mu.Unlock()
	if !ok || b.Resource() != r.PathValue("name") {
		writeError(w, http.StatusNotFound, errors.New("unknown instance "+strconv.Quote(string(id))))
		return nil, false
	}
	return b, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var fetchErr *pagination.FetchError
	switch {
	case errors.Is(err, pagination.ErrInvalidConfig), errors.Is(err, pagination.ErrInvalidEventName):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pagination.ErrRejected):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, pagination.ErrUnknownInstance):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &fetchErr):
		s.logger.Warn().Err(err).Str("resource", fetchErr.Resource).Int("page", fetchErr.Page).Msg("Upstream fetch failed")
		writeError(w, http.StatusBadGateway, err)
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
