package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"shopstock/internal/cache"
	"shopstock/internal/domain"
	"shopstock/internal/lock"
	"shopstock/internal/logging"
	"shopstock/internal/metrics"
	"shopstock/internal/notify"
	"shopstock/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Locker      lock.Locker
	Bus         notify.Bus
	ReportCache cache.ReportCache
	ReportTTL   time.Duration
	Metrics     *metrics.Metrics
	Logger      logrus.FieldLogger
}

type Service struct {
	repo      store.Repository
	locker    lock.Locker
	bus       notify.Bus
	reports   cache.ReportCache
	reportTTL time.Duration
	metrics   *metrics.Metrics
	logger    logrus.FieldLogger
	now       func() time.Time

	// reportMu orders report cache writes against invalidation; generation
	// counts committed mutations.
	reportMu   sync.Mutex
	generation uint64
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Bus == nil {
		opts.Bus = notify.Noop{}
	}
	if opts.ReportCache == nil {
		opts.ReportCache = cache.NoopReportCache{}
	}
	if opts.ReportTTL <= 0 {
		opts.ReportTTL = time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Logger == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		opts.Logger = silent
	}

	return &Service{
		repo:      repo,
		locker:    opts.Locker,
		bus:       opts.Bus,
		reports:   opts.ReportCache,
		reportTTL: opts.ReportTTL,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// withLocks holds the per-product locks for the duration of fn.
func (s *Service) withLocks(ctx context.Context, productIDs []string, fn func() error) error {
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id != "" {
			keys = append(keys, "product:"+id)
		}
	}
	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// changed publishes events after a commit and drops cached reports. Delivery
// problems are logged and never fail the request.
func (s *Service) changed(ctx context.Context, action string, id string, events ...string) {
	s.reportMu.Lock()
	s.generation++
	s.reportMu.Unlock()

	if err := s.reports.Invalidate(ctx); err != nil {
		logging.LogError(s.logger, "service", "changed", "invalidate report cache", nil, err)
	}
	for _, name := range events {
		event := domain.Event{Name: name, Action: action, ID: id, At: s.now()}
		if err := s.bus.Publish(ctx, event); err != nil {
			logging.LogError(s.logger, "service", "changed", "publish event", event, err)
		}
	}
}

func (s *Service) logAction(ctx context.Context, action string, entityType string, entityID string, fields logrus.Fields) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	entry := s.logger.WithFields(logrus.Fields{
		"action":      action,
		"entity_type": entityType,
		"entity_id":   entityID,
		"actor":       actor.Username,
		"actor_role":  actor.Role,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Info("inventory mutation committed")
}

func (s *Service) reportGeneration() uint64 {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	return s.generation
}

// cacheReport stores pl unless a mutation committed after gen was taken.
func (s *Service) cacheReport(ctx context.Context, gen uint64, key string, pl *domain.ProfitLoss) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	if s.generation != gen {
		return
	}
	if err := s.reports.Set(ctx, key, pl, s.reportTTL); err != nil {
		logging.LogError(s.logger, "service", "ProfitLoss", "write report cache", key, err)
	}
}

func (s *Service) observeFailure(err error) {
	if errors.Is(err, store.ErrInsufficientStock) {
		s.metrics.StockRejections.Inc()
	}
}

func notFound(resource string, id string) error {
	return fmt.Errorf("%s %s %w", resource, id, store.ErrNotFound)
}

// wrapNotFound names the resource when err is a bare not-found.
func wrapNotFound(err error, resource string, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(resource, id)
	}
	return err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

func uniqueStrings(values ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range values {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
