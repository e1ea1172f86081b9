package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jcorwin/helmsman/internal/config"
	"github.com/jcorwin/helmsman/internal/session"
	"github.com/jcorwin/helmsman/pkg/models"
	"github.com/jcorwin/helmsman/pkg/trader"
	"github.com/sirupsen/logrus"
)

// Server exposes the engine's published state to the UI. Read-only
// aside from session management; configuration editing lives outside
// the core.
type Server struct {
	markets  *trader.MarketPoller
	accounts *trader.AccountSynchronizer
	orch     *trader.Orchestrator
	gate     *session.Gate
	cfg      *config.Store
	hub      *StreamHub
	logger   *logrus.Logger
	port     string
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewServer(markets *trader.MarketPoller, accounts *trader.AccountSynchronizer, orch *trader.Orchestrator, gate *session.Gate, cfg *config.Store, logger *logrus.Logger, port string) *Server {
	return &Server{
		markets:  markets,
		accounts: accounts,
		orch:     orch,
		gate:     gate,
		cfg:      cfg,
		hub:      NewStreamHub(logger),
		logger:   logger,
		port:     port,
		stopCh:   make(chan struct{}),
	}
}

// Stop ends the background publish loop. The HTTP listener itself is
// torn down with the process.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/market", s.handleMarket)
	mux.HandleFunc("/api/account", s.requireSession(s.handleAccount))
	mux.HandleFunc("/api/decisions", s.handleDecisions)
	mux.HandleFunc("/api/stream", s.hub.HandleSubscribe)

	handler := corsMiddleware(mux)

	go s.publishLoop()

	s.logger.Infof("Starting API server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireSession guards account-level endpoints with the session
// token issued at login.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := s.gate.Verify(parts[1]); err != nil {
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleSession opens or closes the authorization gate. Opening
// requires exchange credentials to be configured; the token it returns
// authenticates subsequent account calls.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		cfg := s.cfg.Snapshot()
		if !cfg.Exchange.HasCredentials() {
			http.Error(w, "exchange credentials not configured", http.StatusForbidden)
			return
		}
		token, err := s.gate.Open("operator")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.accounts.RequestSync()
		s.writeJSON(w, http.StatusOK, map[string]string{"token": token})

	case http.MethodDelete:
		s.gate.Close()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot, ok := s.markets.Snapshot()
	if !ok {
		http.Error(w, "no market snapshot yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot, ok := s.accounts.Snapshot()
	if !ok {
		s.writeJSON(w, http.StatusOK, models.AccountSnapshot{
			Transfers: []models.Transfer{},
			Status:    s.accounts.Status(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":     s.orch.State(),
		"decisions": s.orch.Decisions(),
	})
}

// publishLoop pushes state updates to stream subscribers until Stop.
func (s *Server) publishLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		if market, ok := s.markets.Snapshot(); ok {
			s.hub.Broadcast("market", market)
		}
		if s.gate.Authorized() {
			if account, ok := s.accounts.Snapshot(); ok {
				s.hub.Broadcast("account", account)
			}
		}
		s.hub.Broadcast("cycle", map[string]interface{}{
			"state": s.orch.State(),
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
