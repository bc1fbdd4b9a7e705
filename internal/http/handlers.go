package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/freight-matching/internal/bids"
	"github.com/example/freight-matching/internal/dispatch"
	"github.com/example/freight-matching/internal/models"
	"github.com/example/freight-matching/internal/observability"
	"github.com/example/freight-matching/internal/pricing"
	"github.com/example/freight-matching/internal/routes"
)

// Server exposes the route and bid operations over HTTP. Dependencies are
// injected once at process start; there is no hidden global state.
type Server struct {
	Routes  *routes.Service
	Bids    *bids.Service
	Pricing *pricing.Suggestor
	WSReg   *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(routesSvc *routes.Service, bidsSvc *bids.Service, suggestor *pricing.Suggestor, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Routes:  routesSvc,
		Bids:    bidsSvc,
		Pricing: suggestor,
		WSReg:   wsreg,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/routes", s.handleCreateRoute).Methods("POST")
	api.HandleFunc("/routes/{route_id}", s.handleGetRoute).Methods("GET")
	api.HandleFunc("/routes/{route_id}/details", s.handleRouteDetails).Methods("GET")
	api.HandleFunc("/routes/{route_id}", s.handleUpdateRoute).Methods("PATCH")
	api.HandleFunc("/routes/{route_id}", s.handleDeleteRoute).Methods("DELETE")
	api.HandleFunc("/routes/{route_id}/price-suggestion", s.handlePriceSuggestion).Methods("GET")
	api.HandleFunc("/routes/{route_id}/segments", s.handleSegmentPolyline).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/routes", s.handleListDriverRoutes).Methods("GET")

	api.HandleFunc("/routes/{route_id}/bids", s.handlePlaceBid).Methods("POST")
	api.HandleFunc("/routes/{route_id}/bids/with-request", s.handlePlaceBidWithRequest).Methods("POST")
	api.HandleFunc("/bids/{bid_id}/accept", s.handleAcceptBid).Methods("POST")
	api.HandleFunc("/bids/{bid_id}/reject", s.handleRejectBid).Methods("POST")
	api.HandleFunc("/bids/{bid_id}/withdraw", s.handleWithdrawBid).Methods("POST")
	api.HandleFunc("/bids/{bid_id}/expire", s.handleExpireBid).Methods("POST")

	s.mux.HandleFunc("/ws/customers/{customer_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var req routes.CreateRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	route, err := s.Routes.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, route)
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "route_id")
	if !ok {
		return
	}
	route, err := s.Routes.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleRouteDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "route_id")
	if !ok {
		return
	}
	details, err := s.Routes.Details(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleListDriverRoutes(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.pathUUID(w, r, "driver_id")
	if !ok {
		return
	}
	list, err := s.Routes.ListByDriver(r.Context(), driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "route_id")
	if !ok {
		return
	}
	driverID, ok := s.actorUUID(w, r, "X-Driver-ID")
	if !ok {
		return
	}
	var patch models.RoutePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, r, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	route, err := s.Routes.Update(r.Context(), id, driverID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "route_id")
	if !ok {
		return
	}
	if err := s.Routes.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePriceSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "route_id")
	if !ok {
		return
	}
	pred, err := s.Pricing.Suggest(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.PriceSuggestions.WithLabelValues(pred.Confidence).Inc()
	s.writeJSON(w, http.StatusOK, pred)
}

type segmentRequest struct {
	Polyline string  `json:"polyline"`
	TargetKm float64 `json:"target_distance_km"`
}

func (s *Server) handleSegmentPolyline(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	segs, err := s.Routes.SegmentPolyline(r.Context(), req.Polyline, req.TargetKm)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, segs)
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	routeID, ok := s.pathUUID(w, r, "route_id")
	if !ok {
		return
	}
	var req bids.PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	bid, err := s.Bids.PlaceBid(r.Context(), routeID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, bid)
}

type bidWithRequestBody struct {
	Bid     bids.PlaceBidRequest `json:"bid"`
	Request bids.RequestSpec     `json:"request"`
}

func (s *Server) handlePlaceBidWithRequest(w http.ResponseWriter, r *http.Request) {
	routeID, ok := s.pathUUID(w, r, "route_id")
	if !ok {
		return
	}
	var body bidWithRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	bid, request, err := s.Bids.PlaceBidWithRequest(r.Context(), routeID, body.Request, body.Bid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"bid": bid, "request": request})
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	s.handleBidTransition(w, r, "X-Driver-ID", s.Bids.Accept)
}

func (s *Server) handleRejectBid(w http.ResponseWriter, r *http.Request) {
	s.handleBidTransition(w, r, "X-Driver-ID", s.Bids.Reject)
}

func (s *Server) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	s.handleBidTransition(w, r, "X-Customer-ID", s.Bids.Withdraw)
}

func (s *Server) handleBidTransition(w http.ResponseWriter, r *http.Request, actorHeader string, fn func(ctx context.Context, bidID, actor uuid.UUID) (*models.Bid, error)) {
	bidID, ok := s.pathUUID(w, r, "bid_id")
	if !ok {
		return
	}
	actor, ok := s.actorUUID(w, r, actorHeader)
	if !ok {
		return
	}
	bid, err := fn(r.Context(), bidID, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bid)
}

func (s *Server) handleExpireBid(w http.ResponseWriter, r *http.Request) {
	bidID, ok := s.pathUUID(w, r, "bid_id")
	if !ok {
		return
	}
	bid, err := s.Bids.Expire(r.Context(), bidID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bid)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	customerID, ok := s.pathUUID(w, r, "customer_id")
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("ws upgrade refused", "customer_id", customerID, "error", err)
		return
	}
	s.WSReg.Add(customerID, conn)
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		s.writeError(w, r, &models.ValidationError{Field: name, Reason: "must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) actorUUID(w http.ResponseWriter, r *http.Request, header string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(header))
	if err != nil {
		s.writeError(w, r, &models.ValidationError{Field: header, Reason: "must be a uuid header"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors are logged and surfaced as 500 without leaking internals.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *models.ValidationError
	var te *models.InvalidTransitionError

	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	switch {
	case errors.As(err, &ve):
		status, body.Kind = http.StatusBadRequest, "validation"
	case errors.Is(err, models.ErrInvalidGeometry):
		status, body.Kind = http.StatusBadRequest, "invalid_geometry"
	case errors.Is(err, models.ErrRouteNotFound), errors.Is(err, models.ErrBidNotFound), errors.Is(err, models.ErrRequestNotFound):
		status, body.Kind = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrAccessDenied):
		status, body.Kind = http.StatusForbidden, "access_denied"
	case errors.Is(err, models.ErrDuplicatePendingBid):
		status, body.Kind = http.StatusConflict, "duplicate_pending_bid"
	case errors.Is(err, models.ErrRouteNotBiddable):
		status, body.Kind = http.StatusConflict, "route_not_biddable"
	case errors.Is(err, models.ErrConflict):
		status, body.Kind = http.StatusConflict, "conflict"
	case errors.As(err, &te):
		status, body.Kind = http.StatusConflict, "invalid_transition"
		body.From, body.To = te.From, te.Requested
	case errors.Is(err, models.ErrDependencyUnavailable):
		status, body.Kind = http.StatusServiceUnavailable, "dependency_unavailable"
	default:
		s.logger.Error("unhandled error",
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()),
			"error", err)
		body.Error = "internal error"
		body.Kind = "internal"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
