package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gregtusar/futures-trader/pkg/binance"
	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/trader"
	"github.com/gregtusar/futures-trader/pkg/validator"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const cancelWait = 10 * time.Second

type Options struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	// JobRetention is how long finished jobs stay queryable.
	JobRetention time.Duration
	// JWTSecret enables bearer token auth when set.
	JWTSecret string
}

type Server struct {
	trader  *trader.Trader
	jobs    *JobRegistry
	tokens  *TokenIssuer
	logger  *logrus.Logger
	opts    Options
	router  *mux.Router
	handler http.Handler
}

func NewServer(tr *trader.Trader, logger *logrus.Logger, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		trader: tr,
		jobs:   NewJobRegistry(opts.JobRetention, logger),
		logger: logger,
		opts:   opts,
		router: mux.NewRouter(),
	}
	if opts.JWTSecret != "" {
		s.tokens = NewTokenIssuer(opts.JWTSecret)
		s.router.Use(s.authMiddleware)
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/grid/{symbol}/status", s.handleGridStatus).Methods("GET")

	api.HandleFunc("/strategies/twap", s.handleTWAP).Methods("POST")
	api.HandleFunc("/strategies/oco", s.handleOCO).Methods("POST")
	api.HandleFunc("/strategies/grid", s.handleGrid).Methods("POST")

	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods("DELETE")
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Jobs() *JobRegistry {
	return s.jobs
}

// Run serves until ctx is done, then cancels running jobs and shuts the
// listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Infof("Starting API server on port %d", s.opts.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.jobs.Close()
		return err
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body orderRequest
	if !s.decode(w, r, &body) {
		return
	}

	req := models.OrderRequest{
		Symbol:       body.Symbol,
		Side:         models.ParseOrderSide(body.Side),
		Quantity:     body.Quantity,
		Price:        body.Price,
		StopPrice:    body.StopPrice,
		TimeInForce:  models.TimeInForce(strings.ToUpper(body.TimeInForce)),
		ReduceOnly:   body.ReduceOnly,
		PositionSide: strings.ToUpper(body.PositionSide),
	}
	switch strings.ToUpper(body.Type) {
	case "", "MARKET":
		req.Type = models.OrderTypeMarket
	case "LIMIT":
		req.Type = models.OrderTypeLimit
	case "STOP", "STOP_LIMIT":
		req.Type = models.OrderTypeStop
	case "STOP_MARKET":
		req.Type = models.OrderTypeStopMarket
	default:
		s.writeError(w, validator.Errorf("type", "unsupported order type %q", body.Type))
		return
	}
	if req.Type.UsesPrice() && req.Price == nil {
		s.writeError(w, validator.Errorf("price", "price is required for %s orders", req.Type))
		return
	}
	if req.Type.UsesStopPrice() && req.StopPrice == nil {
		s.writeError(w, validator.Errorf("stopPrice", "stopPrice is required for %s orders", req.Type))
		return
	}

	rec, err := s.trader.PlaceOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newOrderSummary(*rec))
}

func (s *Server) handleGridStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.trader.GridStatus(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gridStatusResponse{
		Symbol:    snap.Symbol,
		TotalOpen: snap.TotalOpen,
		BuyCount:  snap.BuyCount,
		SellCount: snap.SellCount,
	})
}

func (s *Server) handleTWAP(w http.ResponseWriter, r *http.Request) {
	var body twapRequest
	if !s.decode(w, r, &body) {
		return
	}

	p := trader.TWAPParams{
		Symbol:        body.Symbol,
		Side:          models.ParseOrderSide(body.Side),
		TotalQuantity: body.Quantity,
		Duration:      time.Duration(body.DurationMinutes * float64(time.Minute)),
		Slices:        body.Slices,
		ReduceOnly:    body.ReduceOnly,
		PositionSide:  strings.ToUpper(body.PositionSide),
	}
	view := s.jobs.Start("twap", nil, func(ctx context.Context) (interface{}, bool, error) {
		res, err := s.trader.ExecuteTWAP(ctx, p)
		if res == nil {
			return nil, false, err
		}
		return newTWAPSummary(res), res.Outcome == trader.OutcomeInterrupted, err
	})
	s.writeJSON(w, http.StatusAccepted, view)
}

// handleOCO places both legs before answering so placement errors reach the
// caller directly. Only the monitor runs as a job.
func (s *Server) handleOCO(w http.ResponseWriter, r *http.Request) {
	var body ocoRequest
	if !s.decode(w, r, &body) {
		return
	}

	p := trader.BracketParams{
		Symbol:       body.Symbol,
		Side:         models.ParseOrderSide(body.Side),
		Quantity:     body.Quantity,
		TakeProfit:   body.TakeProfit,
		StopLoss:     body.StopLoss,
		StopLimit:    body.StopLimit,
		ReduceOnly:   body.ReduceOnly,
		PositionSide: strings.ToUpper(body.PositionSide),
	}
	b, err := s.trader.PlaceBracket(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}

	view := s.jobs.Start("oco", newBracketSummary(b), func(ctx context.Context) (interface{}, bool, error) {
		res, err := s.trader.MonitorBracket(ctx, b, nil)
		if res == nil {
			return nil, false, err
		}
		return newBracketResultSummary(res), res.Outcome == trader.OutcomeInterrupted, err
	})
	s.writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	var body gridRequest
	if !s.decode(w, r, &body) {
		return
	}

	mode, err := trader.ParseGridMode(body.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if limit := s.trader.Settings().MaxGridLevels; body.Levels > limit {
		s.writeError(w, validator.Errorf("levels", "at most %d levels are allowed", limit))
		return
	}
	p := trader.GridParams{
		Symbol:       body.Symbol,
		Lower:        body.Lower,
		Upper:        body.Upper,
		Levels:       body.Levels,
		Quantity:     body.Quantity,
		Mode:         mode,
		ReduceOnly:   body.ReduceOnly,
		PositionSide: strings.ToUpper(body.PositionSide),
	}
	view := s.jobs.Start("grid", nil, func(ctx context.Context) (interface{}, bool, error) {
		res, err := s.trader.CreateGrid(ctx, p)
		if res == nil {
			return nil, false, err
		}
		return newGridSummary(res), ctx.Err() != nil, err
	})
	s.writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), cancelWait)
	defer cancel()

	view, err := s.jobs.Cancel(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var verr *validator.ValidationError
	var gerr *binance.GatewayError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Field = verr.Field
	case errors.Is(err, ErrJobNotFound), errors.Is(err, binance.ErrSymbolNotFound):
		status = http.StatusNotFound
	case errors.As(err, &gerr):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
