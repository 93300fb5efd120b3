// Package api is the subscriber-facing API boundary: a read-only
// REST surface over the Indexed Position Store plus a WebSocket fan-out
// of the monitor's three broadcast channels, built on gorilla/mux
// routes, rs/cors, and the package's websocket.Hub.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
	"github.com/lucidperp/posmon/pkg/monitor"
	"github.com/lucidperp/posmon/pkg/oracle"
	"github.com/lucidperp/posmon/pkg/position"
)

// Server exposes the read-only query surface plus a WebSocket hub fed
// by a Runtime's broadcast channels.
type Server struct {
	store  *position.Store
	oracle *oracle.Client
	rt     *monitor.Runtime
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer wires a Server against an already-running (or about-to-run)
// Runtime. Call Serve to start listening; call RelayBroadcasts (usually
// in its own goroutine) to pump the Runtime's channels into the hub.
func NewServer(store *position.Store, oc *oracle.Client, rt *monitor.Runtime, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: store, oracle: oc, rt: rt, router: mux.NewRouter(), hub: NewHub(log), log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/positions", s.handleListPositions).Methods("GET")
	v1.HandleFunc("/positions/{id}", s.handleGetPosition).Methods("GET")
	v1.HandleFunc("/symbols/{symbol}/positions", s.handleBySymbol).Methods("GET")
	v1.HandleFunc("/owners/{owner}/positions", s.handleByOwner).Methods("GET")
	v1.HandleFunc("/statistics", s.handleStatistics).Methods("GET")
	v1.HandleFunc("/prices", s.handlePrices).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Serve starts the WebSocket hub's run loop and the HTTP listener.
func (s *Server) Serve(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// RelayBroadcasts subscribes to the Runtime's three broadcast channels
// and republishes each value to the WebSocket hub, both on the
// unfiltered channel name and on a per-symbol filtered one, until ctx
// is cancelled.
func (s *Server) RelayBroadcasts(ctx context.Context) {
	prices, unsubPrices := s.rt.Prices.Subscribe()
	positions, unsubPositions := s.rt.Positions.Subscribe()
	alerts, unsubAlerts := s.rt.Alerts.Subscribe()
	defer unsubPrices()
	defer unsubPositions()
	defer unsubAlerts()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-prices:
			view := PriceTickView{Type: "price", Symbol: tick.Symbol, Price: tick.Price.String(), Timestamp: tick.Timestamp.UnixMilli()}
			s.hub.BroadcastToChannel("prices", view)
			s.hub.BroadcastToChannel("prices:"+tick.Symbol, view)
		case upd := <-positions:
			view := PositionUpdateView{Type: "position", Position: toPositionView(&upd.Position), MarginRatio: upd.MarginRatio.String()}
			s.hub.BroadcastToChannel("positions", view)
			s.hub.BroadcastToChannel("positions:"+upd.Position.Symbol, view)
		case alert := <-alerts:
			view := AlertView{
				Type: "alert", PositionID: alert.PositionID.String(), Symbol: alert.Symbol,
				Side: alert.Side.String(), LiquidationPrice: alert.LiquidationPrice.String(),
				CurrentPrice: alert.CurrentPrice.String(), Kind: alert.Kind.String(),
			}
			s.hub.BroadcastToChannel("alerts", view)
			s.hub.BroadcastToChannel("alerts:"+alert.Symbol, view)
		}
	}
}

func toPositionView(p *domain.Position) PositionView {
	v := PositionView{
		ID: p.ID.String(), Owner: p.Owner.String(), Symbol: p.Symbol, Side: p.Side.String(),
		Size: p.Size.String(), EntryPrice: p.EntryPrice.String(), MarkPrice: p.MarkPrice.String(),
		LiquidationPrice: p.LiquidationPrice.String(), Margin: p.Margin.String(),
		UnrealizedPnL: p.UnrealizedPnL.String(), RealizedPnL: p.RealizedPnL.String(),
		FundingAccrued: p.FundingAccrued.String(), Leverage: p.Leverage, Status: p.Status.String(),
		OpenedAt: p.OpenedAt.UnixMilli(), LastUpdate: p.LastUpdate.UnixMilli(),
	}
	return v
}

func parseAddress(s string) (domain.Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return domain.Address{}, apperr.New(apperr.InvalidInput, "invalid address %q", s)
	}
	return domain.AddressFromBytes(b), nil
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	all := s.store.All()
	out := make([]PositionView, len(all))
	for i, p := range all {
		out[i] = toPositionView(p)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := parseAddress(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", err.Error())
		return
	}
	p, err := s.store.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "position not found", err.Error())
		return
	}
	respondJSON(w, toPositionView(p))
}

func (s *Server) handleBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	positions := s.store.BySymbol(symbol)
	out := make([]PositionView, len(positions))
	for i, p := range positions {
		out[i] = toPositionView(p)
	}
	respondJSON(w, out)
}

func (s *Server) handleByOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(mux.Vars(r)["owner"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	positions := s.store.ByOwner(owner)
	out := make([]PositionView, len(positions))
	for i, p := range positions {
		out[i] = toPositionView(p)
	}
	respondJSON(w, out)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Statistics()
	respondJSON(w, StatisticsView{
		TotalPositions: stats.TotalPositions,
		OpenPositions:  stats.OpenPositions,
		Symbols:        stats.Symbols,
		Owners:         stats.Owners,
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbols := s.oracle.GetSymbols()
	out := make([]PriceView, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := s.oracle.GetCachedPrice(sym)
		if !ok {
			continue
		}
		out = append(out, PriceView{Symbol: sym, Price: price.String()})
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}
