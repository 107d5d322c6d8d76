// Package policy resolves company-level controls: maker-checker segregation
// and reservation strictness.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/reservation"
)

// Policy holds the controls of one company.
type Policy struct {
	CompanyID    int64                  `json:"company_id"`
	MakerChecker bool                   `json:"maker_checker"`
	Strictness   reservation.Strictness `json:"strictness"`
}

// ErrNoPolicy indicates the company has no row; defaults apply.
var ErrNoPolicy = errors.New("policy: no company policy")

// Loader reads a policy from durable storage.
type Loader interface {
	Load(ctx context.Context, companyID int64) (Policy, error)
}

// Repository loads policies from company_policies.
type Repository struct {
	q db.Querier
}

// NewRepository constructs Repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// Load implements Loader.
func (r *Repository) Load(ctx context.Context, companyID int64) (Policy, error) {
	p := Policy{CompanyID: companyID}
	var strictness string
	err := r.q.QueryRow(ctx, `SELECT maker_checker, reservation_strictness FROM company_policies WHERE company_id=$1`, companyID).
		Scan(&p.MakerChecker, &strictness)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrNoPolicy
	}
	if err != nil {
		return Policy{}, err
	}
	p.Strictness = reservation.ParseStrictness(strictness)
	return p, nil
}

// Service answers policy questions, caching answers in Redis.
type Service struct {
	loader   Loader
	redis    *redis.Client
	ttl      time.Duration
	defaults Policy
	logger   *slog.Logger
}

// NewService constructs Service. redisClient may be nil to disable caching.
func NewService(loader Loader, redisClient *redis.Client, ttl time.Duration, defaults Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{loader: loader, redis: redisClient, ttl: ttl, defaults: defaults, logger: logger}
}

func cacheKey(companyID int64) string {
	return fmt.Sprintf("o2c:policy:%d", companyID)
}

// Get returns the company policy, falling back to defaults when none is stored.
func (s *Service) Get(ctx context.Context, companyID int64) (Policy, error) {
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, cacheKey(companyID)).Bytes()
		if err == nil {
			var p Policy
			if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
				return p, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("policy cache read failed", slog.Int64("company_id", companyID), slog.Any("error", err))
		}
	}

	p, err := s.loader.Load(ctx, companyID)
	if errors.Is(err, ErrNoPolicy) {
		p = s.defaults
		p.CompanyID = companyID
	} else if err != nil {
		return Policy{}, fmt.Errorf("policy: load %d: %w", companyID, err)
	}

	if s.redis != nil {
		if raw, err := json.Marshal(p); err == nil {
			if err := s.redis.Set(ctx, cacheKey(companyID), raw, s.ttl).Err(); err != nil {
				s.logger.Warn("policy cache write failed", slog.Int64("company_id", companyID), slog.Any("error", err))
			}
		}
	}
	return p, nil
}

// Invalidate drops the cached policy after an update.
func (s *Service) Invalidate(ctx context.Context, companyID int64) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, cacheKey(companyID)).Err()
}

// MakerChecker matches statemachine.PolicyFunc.
func (s *Service) MakerChecker(ctx context.Context, companyID int64) (bool, error) {
	p, err := s.Get(ctx, companyID)
	if err != nil {
		return false, err
	}
	return p.MakerChecker, nil
}

// Strictness returns the reservation strictness for a company.
func (s *Service) Strictness(ctx context.Context, companyID int64) (reservation.Strictness, error) {
	p, err := s.Get(ctx, companyID)
	if err != nil {
		return "", err
	}
	if p.Strictness == "" {
		return reservation.StrictnessHard, nil
	}
	return p.Strictness, nil
}

// Static serves fixed answers; useful for tests and single-tenant setups.
type Static struct {
	Policy Policy
}

// MakerChecker matches statemachine.PolicyFunc.
func (p *Static) MakerChecker(context.Context, int64) (bool, error) { return p.Policy.MakerChecker, nil }

// Strictness returns the fixed strictness.
func (p *Static) Strictness(context.Context, int64) (reservation.Strictness, error) {
	if p.Policy.Strictness == "" {
		return reservation.StrictnessHard, nil
	}
	return p.Policy.Strictness, nil
}
