// Package guildconfig serves per-guild settings from a short-lived cache in
// front of the guild repository.
package guildconfig

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
)

const (
	defaultTTL = 30 * time.Second
	// missingTTL is shorter so a newly configured guild is picked up quickly.
	missingTTL = 5 * time.Second
)

// entry is what the cache holds; cfg is nil for guilds without config.
type entry struct {
	cfg *entities.GuildConfig
}

// Provider implements moderation.GuildConfigProvider. Concurrent misses for
// the same guild share one repository load.
type Provider struct {
	repo  repository.GuildRepository
	cache *cache.Cache
	ttl   time.Duration
	group singleflight.Group

	// gen is bumped by every invalidation; a load only caches its result when
	// no invalidation happened while it ran.
	mu  sync.Mutex
	gen uint64
}

// NewProvider creates a provider. ttl <= 0 uses the default.
func NewProvider(repo repository.GuildRepository, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Provider{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// GuildConfig returns a copy of the guild's config, or
// repository.ErrGuildConfigNotFound.
func (p *Provider) GuildConfig(ctx context.Context, guildID string) (*entities.GuildConfig, error) {
	if v, ok := p.cache.Get(guildID); ok {
		return copyOf(v.(entry))
	}

	v, err, _ := p.group.Do(guildID, func() (any, error) {
		gen := p.generation()
		cfg, err := p.repo.GetGuildConfig(ctx, guildID)
		switch {
		case errors.Is(err, repository.ErrGuildConfigNotFound):
			e := entry{}
			p.store(guildID, e, min(missingTTL, p.ttl), gen)
			return e, nil
		case err != nil:
			// Errors are not cached; the next call retries.
			return nil, err
		}
		e := entry{cfg: cfg}
		p.store(guildID, e, cache.DefaultExpiration, gen)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return copyOf(v.(entry))
}

// Save stores cfg and drops the cached copy.
func (p *Provider) Save(ctx context.Context, cfg *entities.GuildConfig) error {
	if err := p.repo.SaveGuildConfig(ctx, cfg); err != nil {
		return err
	}
	p.Invalidate(cfg.GuildID)
	return nil
}

// Invalidate drops the cached config of a guild. Loads already running are
// not cached.
func (p *Provider) Invalidate(guildID string) {
	p.mu.Lock()
	p.gen++
	p.cache.Delete(guildID)
	p.mu.Unlock()
	p.group.Forget(guildID)
}

func (p *Provider) generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// store caches e unless an invalidation happened since gen was read.
func (p *Provider) store(guildID string, e entry, ttl time.Duration, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.cache.Set(guildID, e, ttl)
}

// copyOf keeps callers from mutating the cached value.
func copyOf(e entry) (*entities.GuildConfig, error) {
	if e.cfg == nil {
		return nil, repository.ErrGuildConfigNotFound
	}
	c := *e.cfg
	return &c, nil
}
