package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avolkov/brokersim/pkg/broker"
	"github.com/avolkov/brokersim/pkg/engine"
)

// Server exposes the accounting engine and order book over REST plus a
// websocket price ticker. It translates the engine's typed failures into
// status codes; the engine itself knows nothing about HTTP.
type Server struct {
	engine *engine.Engine
	oracle broker.PriceOracle
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	httpSrv *http.Server
}

func NewServer(e *engine.Engine, oracle broker.PriceOracle, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine: e,
		oracle: oracle,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Account lifecycle
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{username}", s.handleDeleteUser).Methods("DELETE")

	// Account state
	api.HandleFunc("/accounts/{username}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{username}/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{username}/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/accounts/{username}/networth", s.handleGetNetWorth).Methods("GET")
	api.HandleFunc("/accounts/{username}/fills", s.handleGetFills).Methods("GET")
	api.HandleFunc("/accounts/{username}/orders", s.handleGetUserOrders).Methods("GET")

	// Trading
	api.HandleFunc("/accounts/{username}/topup", s.handleTopUp).Methods("PUT")
	api.HandleFunc("/accounts/{username}/buy", s.handleBuy).Methods("PUT")
	api.HandleFunc("/accounts/{username}/sell", s.handleSell).Methods("PUT")

	// Conditional orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")

	// Market data
	api.HandleFunc("/prices/{symbol}", s.handleGetPrice).Methods("GET")

	// WebSocket ticker
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS applied (used by tests too).
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	s.log.Infow("api_listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := s.engine.CreateAccount(req.Username); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSONStatus(w, http.StatusCreated, map[string]string{"message": "user created"})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if err := s.engine.DeleteAccount(username); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"message": "user deleted"})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	account, err := s.engine.Account(username)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if account.Positions == nil {
		account.Positions = map[string]decimal.Decimal{}
	}
	respondJSON(w, account)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	bal, err := s.engine.Balance(username)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, BalanceResponse{Username: username, Balance: bal})
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	positions, err := s.engine.Portfolio(username)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if positions == nil {
		positions = map[string]decimal.Decimal{}
	}
	respondJSON(w, positions)
}

func (s *Server) handleGetNetWorth(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	worth, err := s.engine.NetWorth(r.Context(), username)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, NetWorthResponse{Username: username, NetWorth: worth})
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	fills, err := s.engine.Fills(username, limit)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if fills == nil {
		fills = []broker.Fill{}
	}
	respondJSON(w, fills)
}

func (s *Server) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	orders, err := s.engine.UserOrders(username)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []broker.Order{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := s.engine.Topup(r.Context(), username, req.Amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	bal, err := s.engine.Balance(username)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, BalanceResponse{Username: username, Balance: bal})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, broker.Buy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, broker.Sell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, side broker.Side) {
	username := mux.Vars(r)["username"]
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	var (
		trade broker.Trade
		err   error
	)
	if side == broker.Buy {
		trade, err = s.engine.Buy(r.Context(), username, req.Symbol, req.Quantity)
	} else {
		trade, err = s.engine.Sell(r.Context(), username, req.Symbol, req.Quantity)
	}
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	respondJSON(w, TradeResponse{
		Symbol:    trade.Symbol,
		Side:      trade.Side.String(),
		Quantity:  trade.Quantity,
		UnitPrice: trade.UnitPrice,
		Total:     trade.Total,
		Fee:       trade.Fee,
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	order, err := s.engine.SubmitOrder(r.Context(), req.Username, req.OrderType, req.Symbol, req.Quantity, req.TriggerPrice)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSONStatus(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.Orders()
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []broker.Order{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	price, err := s.oracle.GetPrice(r.Context(), symbol)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "price unavailable", err.Error())
		return
	}
	respondJSON(w, PriceResponse{Symbol: symbol, Price: price})
}

// ==============================
// Helpers
// ==============================

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrUnknownUser):
		respondError(w, http.StatusNotFound, "unknown user", err.Error())
	case errors.Is(err, broker.ErrUserExists):
		respondError(w, http.StatusConflict, "user already exists", err.Error())
	case errors.Is(err, broker.ErrInvalidAmount), errors.Is(err, broker.ErrInvalidOrderType):
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, broker.ErrInsufficientFunds), errors.Is(err, broker.ErrInsufficientPosition):
		respondError(w, http.StatusConflict, "insufficient balance", err.Error())
	case errors.Is(err, broker.ErrPriceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "price unavailable", err.Error())
	default:
		s.log.Errorw("internal_error", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Details: details})
}

// RunTicker periodically quotes the given symbols and broadcasts them to
// websocket subscribers until ctx is cancelled.
func (s *Server) RunTicker(ctx context.Context, symbols []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				price, err := s.oracle.GetPrice(ctx, symbol)
				if err != nil {
					continue
				}
				s.hub.BroadcastToSymbol(symbol, PriceUpdate{
					Type:      "price",
					Symbol:    symbol,
					Price:     price,
					Timestamp: time.Now().UnixMilli(),
				})
			}
		}
	}
}
