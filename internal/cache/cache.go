// Package cache keeps company verification results between runs, in Redis
// when one is configured and in the local journal otherwise.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/jobcheck/internal/config"
	"github.com/TobiSchelling/jobcheck/internal/database"
	"github.com/TobiSchelling/jobcheck/internal/gateway"
	"github.com/TobiSchelling/jobcheck/internal/verdict"
)

const keyPrefix = "jobcheck:verify:"

var (
	_ verdict.VerificationCache = (*Redis)(nil)
	_ verdict.VerificationCache = (*Local)(nil)
)

// New returns a Redis cache when cfg names a reachable server, and a
// journal-backed cache otherwise. It returns nil when neither is available.
func New(ctx context.Context, cfg config.Cache, db *database.DB, logger *slog.Logger) verdict.VerificationCache {
	ttl := cfg.TTL.Std()
	if cfg.RedisAddr != "" {
		r, err := NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl)
		if err == nil {
			logger.Debug("Using Redis verification cache", "addr", cfg.RedisAddr)
			return r
		}
		logger.Warn("Redis unavailable, falling back to local cache", "addr", cfg.RedisAddr, "error", err)
	}
	if db == nil {
		return nil
	}
	l := NewLocal(db, ttl)
	if n, err := l.Prune(); err != nil {
		logger.Warn("Failed to prune expired company checks", "error", err)
	} else if n > 0 {
		logger.Debug("Pruned expired company checks", "count", n)
	}
	return l
}

// entry is the stored form of a verification.
type entry struct {
	Verified       bool    `json:"verified"`
	MatchType      string  `json:"match_type"`
	Confidence     float64 `json:"confidence"`
	MatchedCompany string  `json:"matched_company,omitempty"`
	Warning        string  `json:"warning,omitempty"`
}

func encode(cv *gateway.CompanyVerification) ([]byte, error) {
	return json.Marshal(entry{
		Verified:       cv.Verified,
		MatchType:      cv.MatchType,
		Confidence:     cv.Confidence,
		MatchedCompany: cv.MatchedCompany,
		Warning:        cv.Warning,
	})
}

func decode(data []byte) (*gateway.CompanyVerification, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &gateway.CompanyVerification{
		Verified:       e.Verified,
		MatchType:      e.MatchType,
		Confidence:     e.Confidence,
		MatchedCompany: e.MatchedCompany,
		Warning:        e.Warning,
	}, nil
}

// Redis stores verifications as JSON strings with an expiry.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) GetVerification(ctx context.Context, name string) (*gateway.CompanyVerification, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cv, err := decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached verification: %w", err)
	}
	return cv, true, nil
}

func (r *Redis) SetVerification(ctx context.Context, name string, cv *gateway.CompanyVerification) error {
	data, err := encode(cv)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+name, data, r.ttl).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Local stores verifications in the journal's company_checks table and
// treats rows older than the TTL as missing.
type Local struct {
	db  *database.DB
	ttl time.Duration
	now func() time.Time
}

func NewLocal(db *database.DB, ttl time.Duration) *Local {
	return &Local{db: db, ttl: ttl, now: time.Now}
}

func (l *Local) GetVerification(ctx context.Context, name string) (*gateway.CompanyVerification, bool, error) {
	c, err := l.db.GetCompanyCheck(name)
	if err != nil || c == nil {
		return nil, false, err
	}
	if l.ttl > 0 && l.now().Sub(c.CheckedAt) > l.ttl {
		return nil, false, nil
	}
	cv := c.Verification
	return &cv, true, nil
}

func (l *Local) SetVerification(ctx context.Context, name string, cv *gateway.CompanyVerification) error {
	return l.db.PutCompanyCheck(database.CompanyCheck{
		Name:         name,
		Verification: *cv,
		CheckedAt:    l.now(),
	})
}

// Prune deletes expired rows.
func (l *Local) Prune() (int64, error) {
	if l.ttl <= 0 {
		return 0, nil
	}
	return l.db.PruneCompanyChecks(l.now().Add(-l.ttl))
}
