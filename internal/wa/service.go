package wa

import (
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/MatheusHenriquePires/S-crm/config"
	"github.com/MatheusHenriquePires/S-crm/internal/driver"
	"github.com/MatheusHenriquePires/S-crm/internal/store"
	"github.com/MatheusHenriquePires/S-crm/internal/stream"
)

const (
	recentIDTTL   = 10 * time.Minute
	pendingAckTTL = 30 * time.Second
)

// Service orchestrates account sessions and the message pipeline on top
// of a channel driver and the relational store.
type Service struct {
	cfg   *config.AppConfig
	store *store.Store
	drv   driver.Driver
	bus   EventBus.Bus
	reg   *Registry
	pool  *ants.Pool

	// recentIDs short-circuits repeated deliveries of the same provider
	// message id before touching the database; pendingAcks buffers acks
	// that arrived before their message row existed.
	recentIDs   *cache.Cache
	pendingAcks *cache.Cache

	starts singleflight.Group
}

func New(cfg *config.AppConfig, st *store.Store, drv driver.Driver, bus EventBus.Bus, reg *Registry) (*Service, error) {
	pool, err := ants.NewPool(cfg.WhatsApp.WorkerPoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	return &Service{
		cfg:         cfg,
		store:       st,
		drv:         drv,
		bus:         bus,
		reg:         reg,
		pool:        pool,
		recentIDs:   cache.New(recentIDTTL, recentIDTTL),
		pendingAcks: cache.New(pendingAckTTL, pendingAckTTL),
	}, nil
}

// Registry exposes the session registry, mainly for status endpoints.
func (s *Service) Registry() *Registry { return s.reg }

// Submit schedules fn on the shared worker pool.
func (s *Service) Submit(fn func()) error { return s.pool.Submit(fn) }

func (s *Service) Close() {
	s.pool.Release()
}

func (s *Service) publish(ev stream.Event) {
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}
	s.bus.Publish(stream.BusTopic, ev)
}

func dedupKey(accountID, providerID string) string {
	return accountID + ":" + providerID
}
