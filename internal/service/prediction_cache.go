package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/mediscan/analysis-server/internal/domain"
)

// PredictionCache is the distributed (tier 2) cache for risk predictions.
// A miss is reported via the bool, not an error; errors mean the cache
// backend itself failed and the caller should fall through to the model.
type PredictionCache interface {
	Get(ctx context.Context, key string) (*domain.RiskPrediction, bool, error)
	Set(ctx context.Context, key string, prediction *domain.RiskPrediction, ttl time.Duration) error
}

// CacheStats represents cache performance statistics.
type CacheStats struct {
	MemoryHits    int64     `json:"memory_hits"`
	MemoryMisses  int64     `json:"memory_misses"`
	RedisHits     int64     `json:"redis_hits"`
	RedisMisses   int64     `json:"redis_misses"`
	ExternalCalls int64     `json:"external_calls"`
	TotalRequests int64     `json:"total_requests"`
	ErrorCount    int64     `json:"error_count"`
	LastReset     time.Time `json:"last_reset"`
}

// CachedRiskPredictor wraps a RiskPredictor with two cache tiers: an
// in-memory LRU for hot value sets and an optional Redis tier for warm ones.
// Identical value maps produce identical keys regardless of map iteration
// order, so repeat uploads of the same report hit the cache.
type CachedRiskPredictor struct {
	predictor domain.RiskPredictor

	memoryCache *lru.Cache
	redisCache  PredictionCache

	memoryTTL time.Duration
	redisTTL  time.Duration

	logger  *logrus.Logger
	stats   CacheStats
	statsMu sync.RWMutex
}

// PredictionCacheConfig configures the cached predictor.
type PredictionCacheConfig struct {
	MemorySize int           `json:"memory_size"`
	MemoryTTL  time.Duration `json:"memory_ttl"`
	RedisTTL   time.Duration `json:"redis_ttl"`
}

// NewCachedRiskPredictor wraps predictor with caching. redisCache may be nil
// to run with the memory tier only.
func NewCachedRiskPredictor(
	predictor domain.RiskPredictor,
	redisCache PredictionCache,
	config PredictionCacheConfig,
	logger *logrus.Logger,
) (*CachedRiskPredictor, error) {
	if config.MemorySize == 0 {
		config.MemorySize = 500
	}
	if config.MemoryTTL == 0 {
		config.MemoryTTL = 15 * time.Minute
	}
	if config.RedisTTL == 0 {
		config.RedisTTL = 24 * time.Hour
	}

	memoryCache, err := lru.New(config.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &CachedRiskPredictor{
		predictor:   predictor,
		memoryCache: memoryCache,
		redisCache:  redisCache,
		memoryTTL:   config.MemoryTTL,
		redisTTL:    config.RedisTTL,
		logger:      logger,
		stats:       CacheStats{LastReset: time.Now()},
	}, nil
}

// PredictRisk returns the cached prediction for the value set when one
// exists, otherwise calls the underlying model and caches the result.
func (p *CachedRiskPredictor) PredictRisk(ctx context.Context, values map[string]domain.LabValue) (*domain.RiskPrediction, error) {
	p.bumpStat(func(s *CacheStats) { s.TotalRequests++ })

	key := PredictionCacheKey(values)

	if prediction := p.getFromMemory(key); prediction != nil {
		p.bumpStat(func(s *CacheStats) { s.MemoryHits++ })
		p.logger.WithField("cache_tier", "memory").Debug("Prediction cache hit")
		return prediction, nil
	}
	p.bumpStat(func(s *CacheStats) { s.MemoryMisses++ })

	if p.redisCache != nil {
		prediction, found, err := p.redisCache.Get(ctx, key)
		if err != nil {
			p.logger.WithError(err).Warn("Prediction cache backend unavailable")
		} else if found {
			p.bumpStat(func(s *CacheStats) { s.RedisHits++ })
			p.logger.WithField("cache_tier", "redis").Debug("Prediction cache hit")
			p.setInMemory(key, prediction)
			return prediction, nil
		}
		p.bumpStat(func(s *CacheStats) { s.RedisMisses++ })
	}

	p.bumpStat(func(s *CacheStats) { s.ExternalCalls++ })
	prediction, err := p.predictor.PredictRisk(ctx, values)
	if err != nil {
		p.bumpStat(func(s *CacheStats) { s.ErrorCount++ })
		return nil, err
	}

	p.setInMemory(key, prediction)
	if p.redisCache != nil {
		if err := p.redisCache.Set(ctx, key, prediction, p.redisTTL); err != nil {
			p.logger.WithError(err).Warn("Failed to store prediction in cache backend")
		}
	}

	return prediction, nil
}

// GetCacheStats returns a snapshot of cache performance statistics.
func (p *CachedRiskPredictor) GetCacheStats() CacheStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

// PredictionCacheKey derives a stable cache key from a parsed value map.
func PredictionCacheKey(values map[string]domain.LabValue) string {
	parts := make([]string, 0, len(values))
	for name, value := range values {
		parts = append(parts, strings.ToLower(name)+"="+value.String())
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return "prediction:" + hex.EncodeToString(sum[:])
}

type predictionEntry struct {
	prediction *domain.RiskPrediction
	expiry     time.Time
}

func (e *predictionEntry) isExpired() bool {
	return time.Now().After(e.expiry)
}

func (p *CachedRiskPredictor) getFromMemory(key string) *domain.RiskPrediction {
	if value, ok := p.memoryCache.Get(key); ok {
		if entry, ok := value.(*predictionEntry); ok && !entry.isExpired() {
			return entry.prediction
		}
		p.memoryCache.Remove(key)
	}
	return nil
}

func (p *CachedRiskPredictor) setInMemory(key string, prediction *domain.RiskPrediction) {
	p.memoryCache.Add(key, &predictionEntry{
		prediction: prediction,
		expiry:     time.Now().Add(p.memoryTTL),
	})
}

func (p *CachedRiskPredictor) bumpStat(update func(*CacheStats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	update(&p.stats)
}
