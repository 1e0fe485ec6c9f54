package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/dealdesk/pricing/catalog"
	"github.com/dealdesk/pricing/enginemanager"
	"github.com/dealdesk/pricing/internal/config"
	"github.com/dealdesk/pricing/internal/logger"
	"github.com/dealdesk/pricing/pricing"
	"github.com/dealdesk/pricing/rules"
)

type Server struct {
	db        *sql.DB
	ruleStore rules.RuleStore
	manager   *enginemanager.Manager
	router    *chi.Mux

	// memCatalog is set only when running without a database, so tests can
	// seed products and accounts directly.
	memCatalog *catalog.InMemoryCatalog
}

func NewServer(cfg config.Config) (*Server, error) {
	s := &Server{}

	var cat catalog.Catalog
	var dir catalog.Directory

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		pgCatalog := catalog.NewPostgresCatalog(db)
		s.db = db
		s.ruleStore = rules.NewPostgresRuleStore(db)
		cat = pgCatalog
		dir = pgCatalog
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		mem := catalog.NewInMemoryCatalog()
		s.ruleStore = rules.NewInMemoryRuleStore()
		s.memCatalog = mem
		cat = mem
		dir = mem
	}

	s.manager = enginemanager.New(s.ruleStore,
		&enginemanager.FilePolicySource{Path: cfg.PolicyConfigPath}, cat, dir)

	logger.Info("building initial snapshot")
	engine, err := s.manager.Rebuild(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to build initial snapshot: %w", err)
	}
	for _, re := range engine.SnapshotErrors() {
		logger.Warn("rule rejected at compile", "rule_id", re.RuleID, "reason", re.Reason)
	}
	logger.Info("snapshot ready", "version", engine.SnapshotVersion())

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Evaluation
	r.Post("/api/v1/quote", s.handleQuote)
	r.Post("/api/v1/test-rule", s.handleTestRule)

	// Rule management
	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/stats", s.handleRuleStats)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
		})
	})

	// Snapshot management
	r.Post("/api/v1/reload", s.handleReload)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// engine returns the live engine, guarding against a pre-Rebuild window.
func (s *Server) engine() (*pricing.Engine, error) {
	engine := s.manager.Current()
	if engine == nil {
		return nil, fmt.Errorf("no snapshot loaded")
	}
	return engine, nil
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	engine, err := s.engine()
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"snapshotVersion": engine.SnapshotVersion(),
		"policyVersion":   engine.PolicyVersion(),
		"totalErrors":     logger.TotalErrors.Load(),
		"totalWarnings":   logger.TotalWarnings.Load(),
	})
}

// Quote handler
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req pricing.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.engine()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "engine not ready", err)
		return
	}

	startTime := time.Now()
	result, err := engine.Quote(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "quote failed", err)
		return
	}

	logger.Debug("quote evaluated",
		"account_id", req.AccountID,
		"lines", len(result.Lines),
		"failed_lines", len(result.FailedLines),
		"duration", time.Since(startTime).String())

	respondJSON(w, http.StatusOK, result)
}

// Test rule handler: dry-run a single SKU for an account.
func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	var req TestRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.engine()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "engine not ready", err)
		return
	}

	result, err := engine.TestRule(r.Context(), req.AccountID, req.SKU)
	if err != nil {
		respondError(w, http.StatusBadRequest, "test failed", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RulePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := validateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.ruleStore.Add(rule); err != nil {
		respondError(w, http.StatusConflict, "failed to add rule", err)
		return
	}

	if _, err := s.manager.Rebuild(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "rule stored but snapshot rebuild failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	list, err := s.ruleStore.List(includeInactive)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules": list,
	})
}

// Rule stats handler
func (s *Server) handleRuleStats(w http.ResponseWriter, r *http.Request) {
	list, err := s.ruleStore.List(true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	today := time.Now().Format(rules.DateLayout)
	respondJSON(w, http.StatusOK, rules.ComputeStats(list, today))
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.ruleStore.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req RulePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule()
	rule.ID = ruleID

	if err := validateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.ruleStore.Update(rule); err != nil {
		respondError(w, http.StatusNotFound, "failed to update rule", err)
		return
	}

	if _, err := s.manager.Rebuild(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "rule stored but snapshot rebuild failed", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.ruleStore.Delete(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	if _, err := s.manager.Rebuild(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "rule deleted but snapshot rebuild failed", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reload handler: recompile rules and policy without restarting.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	engine, err := s.manager.Rebuild(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reload failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ReloadResponse{
		Version:   engine.SnapshotVersion(),
		Rules:     engine.SnapshotLen(),
		Errors:    engine.SnapshotErrors(),
		Conflicts: engine.SnapshotConflicts(),
	})
}

// validateRule runs a rule through a throwaway compile so bad rules are
// rejected at write time instead of silently dropped at the next rebuild.
func validateRule(rule *rules.Rule) error {
	probe := rules.Compile([]*rules.Rule{rule}, 0)
	if errs := probe.Errors(); len(errs) > 0 {
		return fmt.Errorf("%s", errs[0].Reason)
	}
	return nil
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
