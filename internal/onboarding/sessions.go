package onboarding

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inventory-portal/portal-backend/pkg/cache"
)

// Sessions keeps one Orchestrator per (company, user) pair for a server process.
// Idle orchestrators are dropped after the session TTL.
type Sessions struct {
	service   Transitioner
	navigator Navigator
	cfg       OrchestratorConfig
	logger    *zap.Logger
	pool      *cache.TTLCache[pairKey, *Orchestrator]
}

// NewSessions creates a session pool and starts its janitor
func NewSessions(service Transitioner, navigator Navigator, cfg OrchestratorConfig, ttl time.Duration, logger *zap.Logger) *Sessions {
	opts := []cache.Option{}
	if cfg.Clock != nil {
		opts = append(opts, cache.WithClock(cfg.Clock))
	}
	pool := cache.New[pairKey, *Orchestrator](ttl, opts...)
	pool.StartJanitor(time.Minute)

	return &Sessions{
		service:   service,
		navigator: navigator,
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
	}
}

// Get returns the orchestrator for the pair, creating it on first use
func (s *Sessions) Get(companyID, userID uuid.UUID) *Orchestrator {
	return s.pool.GetOrCreate(pairKey{companyID, userID}, func() *Orchestrator {
		return NewOrchestrator(s.service, s.navigator, companyID, userID, s.cfg, s.logger)
	})
}

// Len returns the number of tracked sessions
func (s *Sessions) Len() int {
	return s.pool.Size()
}

// Close stops the janitor
func (s *Sessions) Close() {
	s.pool.Close()
}
