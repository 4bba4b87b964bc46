package digest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"digest_server/core/domain"
	"digest_server/core/port/in"
	"digest_server/core/port/out"
	"digest_server/pkg/apperr"
	"digest_server/pkg/logger"
	"digest_server/pkg/metrics"
	"digest_server/pkg/snowflake"
)

// =============================================================================
// Dispatch Scheduler Service
// =============================================================================

// Skip reasons for the eligibility pass. Hour mismatch is the steady-state
// outcome for most users on most ticks and is not counted as a skip.
const (
	reasonHourMismatch = "hour_mismatch"
	reasonVacation     = "vacation"
	reasonWeekendOff   = "weekend_off"
	reasonAlreadySent  = "already_sent"
)

// ServiceDeps wires the scheduler to its ports. Notifier, History, Guard,
// Profiles, and Producer are optional; missing ones degrade the related
// feature instead of blocking digests.
type ServiceDeps struct {
	Prefs    out.PreferenceStore
	Source   out.EmailSource
	Delivery out.DigestDelivery
	Engine   *Engine
	IDs      *snowflake.Generator

	Notifier out.AdminNotifier
	History  out.RunHistoryStore
	Guard    out.RunGuard
	Profiles out.SenderProfileStore
	Producer out.TriggerProducer
}

// ServiceConfig bounds per-user work. Zero values fall back to defaults.
type ServiceConfig struct {
	FetchWindow time.Duration // how far back unread mail is considered
	MaxFetch    int           // unread cap per user per tick
	GuardTTL    time.Duration // distributed day-lock lifetime
	CacheTTL    time.Duration // latest-run cache lifetime
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		FetchWindow: 24 * time.Hour,
		MaxFetch:    50,
		GuardTTL:    26 * time.Hour,
		CacheTTL:    24 * time.Hour,
	}
}

// Service implements the dispatch scheduler: eligibility, per-user digest
// runs with failure isolation, the manual trigger path, and stats. It is
// safe for concurrent use; pool workers call ProcessUser in parallel.
type Service struct {
	deps ServiceDeps
	cfg  ServiceConfig

	startedAt time.Time
	lastTick  atomic.Int64 // unix nanos of the latest RunOnce

	digestsSent     atomic.Int64
	emailsProcessed atomic.Int64
	digestsFailed   atomic.Int64
	usersSkipped    atomic.Int64
}

func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if cfg.FetchWindow <= 0 {
		cfg.FetchWindow = def.FetchWindow
	}
	if cfg.MaxFetch <= 0 {
		cfg.MaxFetch = def.MaxFetch
	}
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = def.GuardTTL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Service{
		deps:      deps,
		cfg:       cfg,
		startedAt: time.Now(),
	}
}

// RunOnce evaluates every active user against tickTime and processes the
// eligible ones in listing order. A per-user failure never stops the pass.
func (s *Service) RunOnce(ctx context.Context, tickTime time.Time) (*in.TickSummary, error) {
	s.lastTick.Store(tickTime.UnixNano())

	users, err := s.deps.Prefs.ListActiveUsers(ctx)
	if err != nil {
		logger.Default().WithError(err).Error("tick aborted, active user listing unavailable")
		return nil, apperr.DatabaseError("list active users", err)
	}

	summary := &in.TickSummary{TickTime: tickTime, Evaluated: len(users)}
	for i := range users {
		pref := &users[i]
		reason, err := s.evaluate(pref, tickTime)
		if err != nil {
			logger.Default().WithIdentity(pref.Identity).WithError(err).
				Warn("skipping user with invalid preference")
			s.usersSkipped.Add(1)
			summary.Skipped++
			continue
		}
		if reason == reasonHourMismatch {
			continue
		}
		if reason != "" {
			logger.Default().WithIdentity(pref.Identity).WithField("reason", reason).
				Debug("user not eligible this tick")
			s.usersSkipped.Add(1)
			summary.Skipped++
			continue
		}

		summary.Eligible++
		_, delivered, err := s.runUser(ctx, pref, tickTime, false)
		if err != nil {
			s.handleFailure(ctx, pref, tickTime, err)
			summary.Failed++
			continue
		}
		if delivered {
			summary.Delivered++
		} else {
			summary.Skipped++
		}
	}

	logger.Info("tick finished: evaluated=%d eligible=%d delivered=%d skipped=%d failed=%d",
		summary.Evaluated, summary.Eligible, summary.Delivered, summary.Skipped, summary.Failed)
	return summary, nil
}

// EligibleUsers runs the eligibility pass alone so the worker pool can fan
// the users out as jobs. Invalid preferences are counted and dropped here.
func (s *Service) EligibleUsers(ctx context.Context, tickTime time.Time) ([]domain.UserPreference, error) {
	s.lastTick.Store(tickTime.UnixNano())

	users, err := s.deps.Prefs.ListActiveUsers(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("list active users", err)
	}

	eligible := make([]domain.UserPreference, 0, len(users))
	for i := range users {
		pref := &users[i]
		reason, err := s.evaluate(pref, tickTime)
		if err != nil {
			logger.Default().WithIdentity(pref.Identity).WithError(err).
				Warn("skipping user with invalid preference")
			s.usersSkipped.Add(1)
			continue
		}
		if reason != "" {
			if reason != reasonHourMismatch {
				s.usersSkipped.Add(1)
			}
			continue
		}
		eligible = append(eligible, *pref)
	}
	return eligible, nil
}

// ProcessUser runs one eligible user end to end and owns the failure
// isolation contract: failures are logged, admin-notified, and counted.
func (s *Service) ProcessUser(ctx context.Context, pref *domain.UserPreference, tickTime time.Time) error {
	_, _, err := s.runUser(ctx, pref, tickTime, false)
	if err != nil {
		s.handleFailure(ctx, pref, tickTime, err)
		return err
	}
	return nil
}

// RunForUser is the manual trigger. It skips the delivery-hour match but
// honors vacation and the same-day guard unless force is set. A nil run
// with a nil error means there was nothing to deliver.
func (s *Service) RunForUser(ctx context.Context, identity uuid.UUID, force bool) (*domain.DigestRun, error) {
	pref, err := s.deps.Prefs.GetByIdentity(ctx, identity)
	if err != nil {
		return nil, apperr.DatabaseError("load preference", err)
	}
	if pref == nil {
		return nil, apperr.NotFound("user preference")
	}
	if err := pref.Validate(); err != nil {
		return nil, apperr.ConfigError(err.Error())
	}

	now := time.Now()
	if !force {
		if pref.OnVacation {
			return nil, apperr.Conflict("user is on vacation")
		}
		if pref.SentOnLocalDay(now) {
			return nil, apperr.Conflict("digest already sent today")
		}
	}

	run, _, err := s.runUser(ctx, pref, now, force)
	if err != nil {
		s.handleFailure(ctx, pref, now, err)
		return nil, err
	}
	return run, nil
}

// RequestRun publishes a trigger for asynchronous execution.
func (s *Service) RequestRun(ctx context.Context, trigger *domain.RunTrigger) error {
	if s.deps.Producer == nil {
		return apperr.Unavailable("trigger stream")
	}
	if trigger.RequestedAt.IsZero() {
		trigger.RequestedAt = time.Now()
	}
	return s.deps.Producer.PublishRun(ctx, trigger)
}

// RunHistory lists persisted runs, newest first.
func (s *Service) RunHistory(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.DigestRun, error) {
	if s.deps.History == nil {
		return nil, apperr.Unavailable("run history")
	}
	return s.deps.History.ListByUser(ctx, identity, limit, offset)
}

// LatestRun prefers the cached copy and falls back to the history store.
func (s *Service) LatestRun(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error) {
	if s.deps.Guard != nil {
		if run, err := s.deps.Guard.CachedRun(ctx, identity); err == nil && run != nil {
			return run, nil
		}
	}
	if s.deps.History == nil {
		return nil, apperr.Unavailable("run history")
	}
	return s.deps.History.LatestByUser(ctx, identity)
}

// Stats snapshots the process-lifetime counters.
func (s *Service) Stats() domain.SchedulerStats {
	stats := domain.SchedulerStats{
		DigestsSent:     s.digestsSent.Load(),
		EmailsProcessed: s.emailsProcessed.Load(),
		DigestsFailed:   s.digestsFailed.Load(),
		UsersSkipped:    s.usersSkipped.Load(),
		StartedAt:       s.startedAt,
	}
	if nanos := s.lastTick.Load(); nanos != 0 {
		stats.LastTickAt = time.Unix(0, nanos)
	}
	return stats
}

// GetPreference serves the ops API read path.
func (s *Service) GetPreference(ctx context.Context, identity uuid.UUID) (*domain.UserPreference, error) {
	pref, err := s.deps.Prefs.GetByIdentity(ctx, identity)
	if err != nil {
		return nil, apperr.DatabaseError("load preference", err)
	}
	if pref == nil {
		return nil, apperr.NotFound("user preference")
	}
	return pref, nil
}

// SavePreference validates and upserts one preference row.
func (s *Service) SavePreference(ctx context.Context, pref *domain.UserPreference) error {
	if err := pref.Validate(); err != nil {
		return apperr.InvalidInput("preference", err.Error())
	}
	if err := s.deps.Prefs.Upsert(ctx, pref); err != nil {
		return apperr.DatabaseError("save preference", err)
	}
	return nil
}

// evaluate returns the skip reason for this tick, empty when the user is
// eligible. A non-nil error marks an invalid preference (ConfigError).
func (s *Service) evaluate(pref *domain.UserPreference, tickTime time.Time) (string, error) {
	if err := pref.Validate(); err != nil {
		return "", apperr.ConfigError(err.Error())
	}
	loc, err := pref.Location()
	if err != nil {
		return "", apperr.ConfigError(err.Error())
	}
	local := tickTime.In(loc)
	if local.Hour() != pref.DeliveryHour {
		return reasonHourMismatch, nil
	}
	if pref.OnVacation {
		return reasonVacation, nil
	}
	if isWeekend(local) && pref.WeekendPolicy == domain.WeekendOff {
		return reasonWeekendOff, nil
	}
	if pref.SentOnLocalDay(tickTime) {
		return reasonAlreadySent, nil
	}
	return "", nil
}

// runUser executes one digest run: guard, fetch, engine, deliver, record.
// Returns delivered=false with a nil error when there was nothing to send.
func (s *Service) runUser(ctx context.Context, pref *domain.UserPreference, tickTime time.Time, force bool) (*domain.DigestRun, bool, error) {
	log := logger.Default().WithIdentity(pref.Identity)

	localDay, err := pref.LocalDay(tickTime)
	if err != nil {
		return nil, false, apperr.ConfigError(err.Error())
	}

	guarded := false
	if s.deps.Guard != nil && !force {
		won, err := s.deps.Guard.AcquireDay(ctx, pref.Identity, localDay, s.cfg.GuardTTL)
		if err != nil {
			// Guard outage degrades to the persisted last-sent check alone.
			log.WithError(err).Warn("day guard unavailable, continuing on persisted guard")
		} else if !won {
			log.Info("day slot already claimed, skipping")
			s.usersSkipped.Add(1)
			return nil, false, nil
		} else {
			guarded = true
		}
	}
	release := func() {
		if guarded {
			if err := s.deps.Guard.ReleaseDay(ctx, pref.Identity, localDay); err != nil {
				log.WithError(err).Warn("day guard release failed")
			}
		}
	}

	fetchStart := time.Now()
	emails, err := s.deps.Source.FetchUnread(ctx, pref.Credential(), out.FetchOptions{
		Since:      tickTime.Add(-s.cfg.FetchWindow),
		MaxResults: s.cfg.MaxFetch,
	})
	metrics.RecordStage(metrics.StageFetch, time.Since(fetchStart))
	if err != nil {
		release()
		return nil, false, apperr.FetchError(sourceProvider(err), err)
	}
	if len(emails) == 0 {
		log.Info("no unread emails, skipping without last-sent update")
		release()
		s.usersSkipped.Add(1)
		return nil, false, nil
	}

	run := &domain.DigestRun{
		ID:        s.deps.IDs.MustGenerate(),
		Identity:  pref.Identity,
		Email:     pref.Email,
		TickTime:  tickTime,
		StartedAt: time.Now(),
	}
	run.Items = s.deps.Engine.ProcessBatch(ctx, pref, emails)

	// Weekend urgent_only delivers only reply-required and action items.
	loc, _ := pref.Location()
	if isWeekend(tickTime.In(loc)) && pref.WeekendPolicy == domain.WeekendUrgentOnly {
		run.Items = run.UrgentItems()
		if len(run.Items) == 0 {
			log.Info("weekend urgent-only filter left nothing to send, skipping")
			release()
			s.usersSkipped.Add(1)
			return nil, false, nil
		}
	}
	run.Finalize()

	deliverStart := time.Now()
	err = s.deps.Delivery.Deliver(ctx, pref.Credential(), run)
	metrics.RecordStage(metrics.StageDeliver, time.Since(deliverStart))
	if err != nil {
		run.Succeeded = false
		run.Error = err.Error()
		run.CompletedAt = time.Now()
		s.recordRun(ctx, run)
		release()
		return nil, false, apperr.DeliveryError(err)
	}

	if err := s.deps.Prefs.UpdateLastSent(ctx, pref.Identity, tickTime); err != nil {
		// The digest is already in the user's inbox; the day guard still
		// protects this day, so log loudly and move on.
		log.WithError(err).Error("last-sent update failed after delivery")
	}

	run.Succeeded = true
	run.CompletedAt = time.Now()
	s.recordRun(ctx, run)
	s.recordInteractions(ctx, pref.Identity, run)

	s.digestsSent.Add(1)
	s.emailsProcessed.Add(int64(len(run.Items)))
	log.WithDuration(run.CompletedAt.Sub(run.StartedAt)).
		Info("digest delivered: items=%d replies=%d", len(run.Items), run.RepliesDrafted)
	return run, true, nil
}

// recordRun persists the audit copy and refreshes the latest-run cache.
// Both writes are best-effort.
func (s *Service) recordRun(ctx context.Context, run *domain.DigestRun) {
	if s.deps.History != nil {
		if err := s.deps.History.Save(ctx, run); err != nil {
			logger.Default().WithIdentity(run.Identity).WithError(err).
				Warn("run history save failed")
		}
	}
	if s.deps.Guard != nil && run.Succeeded {
		if err := s.deps.Guard.CacheRun(ctx, run, s.cfg.CacheTTL); err != nil {
			logger.Default().WithIdentity(run.Identity).WithError(err).
				Warn("run cache write failed")
		}
	}
}

// recordInteractions feeds the sender graph after a delivered run.
func (s *Service) recordInteractions(ctx context.Context, identity uuid.UUID, run *domain.DigestRun) {
	if s.deps.Profiles == nil {
		return
	}
	for i := range run.Items {
		item := &run.Items[i]
		replied := item.Reply != nil && item.Reply.Method != domain.ReplyNotNeeded && item.Reply.Draft != ""
		if err := s.deps.Profiles.RecordInteraction(ctx, identity, item.Email.From, replied); err != nil {
			logger.Default().WithIdentity(identity).WithError(err).
				Debug("sender interaction record failed")
			return
		}
	}
}

// handleFailure is the per-user failure isolation path: count, log, notify.
func (s *Service) handleFailure(ctx context.Context, pref *domain.UserPreference, tickTime time.Time, err error) {
	s.digestsFailed.Add(1)
	logger.Default().WithIdentity(pref.Identity).WithError(err).
		Error("digest run failed")
	if s.deps.Notifier == nil {
		return
	}
	if nerr := s.deps.Notifier.NotifyFailure(ctx, pref.Identity, err, tickTime); nerr != nil {
		logger.Default().WithIdentity(pref.Identity).WithError(nerr).
			Warn("admin notification failed")
	}
}

func sourceProvider(err error) string {
	var srcErr *out.SourceError
	if errors.As(err, &srcErr) {
		return srcErr.Provider
	}
	return "source"
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
