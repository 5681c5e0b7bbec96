// Package api provides the HTTP and WebSocket surface over the quant core:
// backtests, pair analysis and scanning, position sizing and bar ingest.
// Long-running backtests execute asynchronously; progress and completion
// stream over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keplerlabs/quant-core/internal/backtester"
	"github.com/keplerlabs/quant-core/internal/data"
	"github.com/keplerlabs/quant-core/internal/pairs"
	"github.com/keplerlabs/quant-core/internal/regime"
	"github.com/keplerlabs/quant-core/internal/sizing"
	"github.com/keplerlabs/quant-core/internal/strategy"
	"github.com/keplerlabs/quant-core/pkg/types"
	"github.com/keplerlabs/quant-core/pkg/utils"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	store      *data.Store
	quality    *data.QualityChecker
	registry   *strategy.Registry
	detector   *regime.Detector
	metrics    *Metrics
	backtests  map[string]*BacktestState
}

// BacktestState tracks one submitted backtest.
type BacktestState struct {
	ID          string                    `json:"id"`
	Status      string                    `json:"status"` // running, completed, failed
	Started     time.Time                 `json:"started"`
	Error       string                    `json:"error,omitempty"`
	Result      *types.PerformanceReport  `json:"result,omitempty"`
	Permutation *types.PermutationResult  `json:"permutation,omitempty"`
	MonteCarlo  *types.MonteCarloResult   `json:"monteCarlo,omitempty"`
	cancel      context.CancelFunc
}

// NewServer creates the API server and wires its routes.
func NewServer(logger *zap.Logger, config *types.ServerConfig, store *data.Store) *Server {
	s := &Server{
		logger:    logger,
		config:    config,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		store:     store,
		quality:   data.NewQualityChecker(logger, data.DefaultQualityConfig()),
		registry:  strategy.NewRegistry(logger),
		detector:  regime.NewDetector(logger, regime.DefaultDetectorConfig()),
		metrics:   NewMetrics(),
		backtests: make(map[string]*BacktestState),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/{symbol}", s.handleIngest).Methods("POST")
	s.router.HandleFunc("/api/v1/data/{symbol}", s.handleHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest", s.handleBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleBacktestStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/cancel", s.handleBacktestCancel).Methods("POST")

	s.router.HandleFunc("/api/v1/pairs/analyze", s.handlePairsAnalyze).Methods("POST")
	s.router.HandleFunc("/api/v1/pairs/scan", s.handlePairsScan).Methods("POST")
	s.router.HandleFunc("/api/v1/pairs/backtest", s.handlePairsBacktest).Methods("POST")

	s.router.HandleFunc("/api/v1/size", s.handleSize).Methods("POST")
	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	s.router.HandleFunc(s.config.WebSocketPath, s.hub.HandleUpgrade)
}

// Router returns the route handler, for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": s.store.Symbols(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var bars []types.OHLCV
	if err := json.NewDecoder(r.Body).Decode(&bars); err != nil {
		writeError(w, http.StatusBadRequest, "invalid bar payload: "+err.Error())
		return
	}
	quality := s.quality.Check(symbol, bars)
	if err := s.store.Put(symbol, bars); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta, _ := s.store.Metadata(symbol)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metadata": meta,
		"quality":  quality,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var bars []types.OHLCV
	var err error
	if window, ok, parseErr := parseTimeWindow(r); parseErr != nil {
		writeError(w, http.StatusBadRequest, parseErr.Error())
		return
	} else if ok {
		bars, err = s.store.Range(symbol, window)
	} else {
		bars, err = s.store.Get(symbol)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}

// BacktestRequest submits a single-asset backtest. Bars may be inlined or
// referenced by the symbol of previously ingested history.
type BacktestRequest struct {
	Config   types.BacktestConfig `json:"config"`
	Strategy string               `json:"strategy"`
	Bars     []types.OHLCV        `json:"bars,omitempty"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	strat, ok := s.registry.Create(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", req.Strategy))
		return
	}

	bars := req.Bars
	if len(bars) == 0 {
		stored, err := s.store.Get(req.Config.Symbol)
		if err != nil {
			writeError(w, http.StatusBadRequest, "no bars supplied and "+err.Error())
			return
		}
		bars = stored
	}

	sizer, err := sizing.NewPositionSizer(s.logger, sizing.DefaultConfig(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	engine, err := backtester.NewEngine(s.logger, req.Config, sizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := s.launch(req.Config.ID, func(ctx context.Context, state *BacktestState) error {
		report, err := engine.Run(ctx, strat, bars)
		if err != nil {
			return err
		}
		state.Result = report
		state.Permutation, state.MonteCarlo = engine.Validate(report)
		return nil
	}, engine)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     state.ID,
		"status": state.Status,
	})
}

// PairsBacktestRequest submits a two-leg spread backtest.
type PairsBacktestRequest struct {
	Config     types.BacktestConfig `json:"config"`
	PairsConf  *types.PairsConfig   `json:"pairsConfig,omitempty"`
	SymbolA    string               `json:"symbolA,omitempty"`
	SymbolB    string               `json:"symbolB,omitempty"`
	BarsA      []types.OHLCV        `json:"barsA,omitempty"`
	BarsB      []types.OHLCV        `json:"barsB,omitempty"`
}

func (s *Server) handlePairsBacktest(w http.ResponseWriter, r *http.Request) {
	var req PairsBacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pairsCfg := types.DefaultPairsConfig()
	if req.PairsConf != nil {
		pairsCfg = *req.PairsConf
	}
	analyzer, err := pairs.NewAnalyzer(s.logger, pairsCfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	barsA, err := s.resolveBars(req.BarsA, req.SymbolA)
	if err != nil {
		writeError(w, http.StatusBadRequest, "leg A: "+err.Error())
		return
	}
	barsB, err := s.resolveBars(req.BarsB, req.SymbolB)
	if err != nil {
		writeError(w, http.StatusBadRequest, "leg B: "+err.Error())
		return
	}

	sizer, err := sizing.NewPositionSizer(s.logger, sizing.DefaultConfig(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	engine, err := backtester.NewEngine(s.logger, req.Config, sizer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	engine.SetPairsConfig(pairsCfg)
	strat := strategy.NewSpreadReversion(analyzer)

	state := s.launch(req.Config.ID, func(ctx context.Context, state *BacktestState) error {
		report, err := engine.RunPairs(ctx, strat, barsA, barsB)
		if err != nil {
			return err
		}
		state.Result = report
		state.Permutation, state.MonteCarlo = engine.Validate(report)
		return nil
	}, engine)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     state.ID,
		"status": state.Status,
	})
}

func (s *Server) handleBacktestStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "backtest not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleBacktestCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	state, ok := s.backtests[id]
	if ok && state.Status == "running" && state.cancel != nil {
		state.cancel()
		state.Status = "cancelled"
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "backtest not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": state.Status})
}

// PairsAnalyzeRequest runs the cointegration battery on two price series.
type PairsAnalyzeRequest struct {
	PricesA   []float64          `json:"pricesA"`
	PricesB   []float64          `json:"pricesB"`
	PairsConf *types.PairsConfig `json:"pairsConfig,omitempty"`
}

func (s *Server) handlePairsAnalyze(w http.ResponseWriter, r *http.Request) {
	var req PairsAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := types.DefaultPairsConfig()
	if req.PairsConf != nil {
		cfg = *req.PairsConf
	}
	analyzer, err := pairs.NewAnalyzer(s.logger, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := analyzer.Evaluate(req.PricesA, req.PricesB)
	signal := analyzer.Signal(req.PricesA, req.PricesB)
	s.metrics.PairsAnalyzed.Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
		"signal": signal,
	})
}

// PairsScanRequest scans a universe of close series for tradable pairs.
type PairsScanRequest struct {
	Universe       map[string][]float64 `json:"universe,omitempty"` // symbol -> closes
	Symbols        []string             `json:"symbols,omitempty"`  // or stored symbols
	MinCorrelation float64              `json:"minCorrelation,omitempty"`
	PairsConf      *types.PairsConfig   `json:"pairsConfig,omitempty"`
}

func (s *Server) handlePairsScan(w http.ResponseWriter, r *http.Request) {
	var req PairsScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	universe := req.Universe
	if universe == nil {
		universe = make(map[string][]float64, len(req.Symbols))
		for _, sym := range req.Symbols {
			bars, err := s.store.Get(sym)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			universe[sym] = types.Closes(bars)
		}
	}
	if len(universe) < 2 {
		writeError(w, http.StatusBadRequest, "scan needs at least two symbols")
		return
	}

	cfg := types.DefaultPairsConfig()
	if req.PairsConf != nil {
		cfg = *req.PairsConf
	}
	analyzer, err := pairs.NewAnalyzer(s.logger, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scanCfg := pairs.DefaultScannerConfig()
	if req.MinCorrelation > 0 {
		scanCfg.MinCorrelation = req.MinCorrelation
	}
	scores := pairs.NewScanner(s.logger, analyzer, scanCfg).Scan(universe)
	s.metrics.ScansRun.Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pairs": scores,
		"count": len(scores),
	})
}

// SizeRequest asks for one position-sizing decision.
type SizeRequest struct {
	Symbol         string              `json:"symbol"`
	PortfolioValue float64             `json:"portfolioValue"`
	Price          float64             `json:"price"`
	Confidence     float64             `json:"confidence"`
	Stats          *sizing.TradeStats  `json:"stats,omitempty"`
	TradeReturns   []float64           `json:"tradeReturns,omitempty"`
	Returns        []float64           `json:"returns,omitempty"` // bar returns for regime + tail risk
	Drawdown       float64             `json:"drawdown,omitempty"`
	Volatility     float64             `json:"volatility,omitempty"`
	Config         *sizing.Config      `json:"config,omitempty"`
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	var req SizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := sizing.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	sizer, err := sizing.NewPositionSizer(s.logger, cfg, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var marketRegime regime.Regime
	if len(req.Returns) > 0 {
		marketRegime = s.detector.Classify(req.Returns)
	}

	decision := sizer.Calculate(&sizing.Request{
		Symbol:         req.Symbol,
		PortfolioValue: decimalFrom(req.PortfolioValue),
		Price:          decimalFrom(req.Price),
		Confidence:     req.Confidence,
		Stats:          req.Stats,
		TradeReturns:   req.TradeReturns,
		Regime:         marketRegime,
		Drawdown:       req.Drawdown,
		Returns:        req.Returns,
		Volatility:     req.Volatility,
	})
	s.metrics.SizingDecisions.Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decision": decision,
		"regime":   marketRegime,
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": s.registry.List(),
	})
}

// launch registers a backtest state and runs fn in the background,
// streaming progress and completion over the hub.
func (s *Server) launch(id string, fn func(context.Context, *BacktestState) error, engine *backtester.Engine) *BacktestState {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	state := &BacktestState{
		ID:      id,
		Status:  "running",
		Started: time.Now(),
		cancel:  cancel,
	}

	s.mu.Lock()
	s.backtests[id] = state
	s.mu.Unlock()
	s.metrics.BacktestsStarted.Inc()

	engine.OnProgress(func(done, total int) {
		// Throttle to whole-percent steps to keep the socket quiet.
		if total == 0 || done%(total/100+1) != 0 {
			return
		}
		s.hub.Broadcast("backtest:progress", map[string]interface{}{
			"id":   id,
			"done": done, "total": total,
		})
	})

	go func() {
		defer cancel()
		timer := time.Now()
		err := fn(ctx, state)

		s.mu.Lock()
		if err != nil {
			if state.Status != "cancelled" {
				state.Status = "failed"
				state.Error = err.Error()
			}
			s.metrics.BacktestsFailed.Inc()
		} else {
			state.Status = "completed"
			s.metrics.BacktestsCompleted.Inc()
			s.metrics.BacktestDuration.Observe(time.Since(timer).Seconds())
		}
		status := state.Status
		s.mu.Unlock()

		s.hub.Broadcast("backtest:complete", map[string]interface{}{
			"id":     id,
			"status": status,
		})
	}()

	return state
}

func (s *Server) resolveBars(inline []types.OHLCV, symbol string) ([]types.OHLCV, error) {
	if len(inline) > 0 {
		return inline, nil
	}
	if symbol == "" {
		return nil, fmt.Errorf("no bars supplied and no symbol given")
	}
	return s.store.Get(symbol)
}

func decimalFrom(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// parseTimeWindow reads optional RFC3339 from/to query parameters. Omitting
// both means the full history; omitting one leaves that side unbounded.
func parseTimeWindow(r *http.Request) (utils.TimeRange, bool, error) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" && to == "" {
		return utils.TimeRange{}, false, nil
	}

	window := utils.TimeRange{End: time.Unix(1<<62, 0)}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return utils.TimeRange{}, false, fmt.Errorf("invalid from: %w", err)
		}
		window.Start = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return utils.TimeRange{}, false, fmt.Errorf("invalid to: %w", err)
		}
		window.End = t
		if window.Duration() < 0 {
			return utils.TimeRange{}, false, fmt.Errorf("from is after to")
		}
	}
	return window, true, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
