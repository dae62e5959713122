package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/collatfi/collat/internal/domain"
)

const riskPollInterval = 2 * time.Second

type riskEventReader interface {
	EventsAfter(index uint64) []domain.RiskEvent
	Watched() []common.Address
}

type snapshotProvider interface {
	Build(ctx context.Context, user common.Address) (*domain.PositionSnapshot, error)
}

// Server exposes HTTP endpoints: a JSON position view and an SSE risk stream.
type Server struct {
	Addr      string
	Monitor   riskEventReader
	Snapshots snapshotProvider
}

// NewServer creates a new web server instance.
func NewServer(addr string, monitor riskEventReader, snapshots snapshotProvider) *Server {
	return &Server{Addr: addr, Monitor: monitor, Snapshots: snapshots}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/watchlist", s.handleWatchlist)
	mux.HandleFunc("/position", s.handlePosition)
	mux.HandleFunc("/risk/stream", s.handleRiskStream)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	if s.Monitor == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "monitor not available")
		return
	}

	addrs := s.Monitor.Watched()
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Hex())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("watchlist encode: %v", err)
	}
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if s.Snapshots == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "snapshot builder not available")
		return
	}

	addrParam := r.URL.Query().Get("address")
	if !common.IsHexAddress(addrParam) {
		http.Error(w, "missing or invalid address parameter", http.StatusBadRequest)
		return
	}

	snapshot, err := s.Snapshots.Build(r.Context(), common.HexToAddress(addrParam))
	if err != nil {
		log.Printf("position build: %v", err)
		http.Error(w, "failed to build position snapshot", http.StatusBadGateway)
		return
	}

	body := map[string]interface{}{
		"owner":                snapshot.Owner.Hex(),
		"collateral_value_usd": snapshot.CollateralValueUSD,
		"debt_value_usd":       snapshot.DebtValueUSD,
		"health_factor":        snapshot.HealthFactor,
		"taken_at":             snapshot.TakenAt,
	}
	if snapshot.Debt.Active {
		// display-only estimate; the ledger's accrued figure stays authoritative
		body["debt_outstanding"] = snapshot.Debt.Outstanding()
		body["estimated_interest_since_origination"] = snapshot.Debt.OptimisticInterest(time.Now())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("position encode: %v", err)
	}
}

func (s *Server) handleRiskStream(w http.ResponseWriter, r *http.Request) {
	if s.Monitor == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "monitor not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat every 30s so proxies keep the connection open
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(riskPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendEvents := func() error {
		events := s.Monitor.EventsAfter(lastIndex)
		for _, event := range events {
			payload, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: risk\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = event.Index
		}
		return nil
	}

	if err := sendEvents(); err != nil {
		http.Error(w, "failed to load risk events", http.StatusInternalServerError)
		log.Printf("risk stream initial load: %v", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				log.Printf("risk stream poll err: %v", err)
			}
		}
	}
}
