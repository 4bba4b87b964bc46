package worker

import (
	"context"
	"time"

	"digest_server/core/port/in"
	"digest_server/pkg/logger"
)

// =============================================================================
// TickScheduler - 시간별 다이제스트 스케줄러
// =============================================================================
//
// 매시간 자격 있는 사용자를 조회해서 사용자별 작업으로 풀에 풀어 놓습니다.
// 시작 직후 한 번 즉시 체크하므로 워커가 시간 중간에 재시작해도 그 시간대를
// 놓치지 않습니다. 중복 발송은 실행 가드가 막습니다.

type TickScheduler struct {
	svc          in.DigestService
	pool         *Pool
	tickInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewTickScheduler creates a new tick scheduler.
func NewTickScheduler(svc in.DigestService, pool *Pool) *TickScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TickScheduler{
		svc:          svc,
		pool:         pool,
		tickInterval: time.Hour,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the tick scheduler.
func (s *TickScheduler) Start() {
	logger.Info("[TickScheduler] Starting with interval %v", s.tickInterval)
	go s.run()
}

// Stop stops the tick scheduler.
func (s *TickScheduler) Stop() {
	logger.Info("[TickScheduler] Stopping...")
	s.cancel()
}

// run is the main loop. After the immediate startup check, ticks are aligned
// to interval boundaries so hourly runs land at minute zero.
func (s *TickScheduler) run() {
	s.dispatchTick(time.Now())

	next := time.Now().Truncate(s.tickInterval).Add(s.tickInterval)
	select {
	case <-s.ctx.Done():
		logger.Info("[TickScheduler] Stopped")
		return
	case <-time.After(time.Until(next)):
	}
	s.dispatchTick(time.Now())

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[TickScheduler] Stopped")
			return
		case <-ticker.C:
			s.dispatchTick(time.Now())
		}
	}
}

// dispatchTick fans the eligible users out as digest.user jobs.
func (s *TickScheduler) dispatchTick(tickTime time.Time) {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	users, err := s.svc.EligibleUsers(ctx, tickTime)
	if err != nil {
		logger.Error("[TickScheduler] Failed to list eligible users: %v", err)
		return
	}

	if len(users) == 0 {
		return
	}

	msgs := make([]*Message, 0, len(users))
	for i := range users {
		msgs = append(msgs, NewMessage(JobDigestUser, map[string]any{
			"identity":  users[i].Identity,
			"tick_time": tickTime,
		}))
	}

	submitted := s.pool.SubmitBatch(msgs)
	if submitted < len(msgs) {
		logger.Warn("[TickScheduler] Submitted %d of %d user jobs, rest dropped", submitted, len(msgs))
	} else {
		logger.Info("[TickScheduler] Fanned out %d user jobs for tick %s", submitted, tickTime.Format(time.RFC3339))
	}
}

// SetTickInterval sets the tick interval (for testing).
func (s *TickScheduler) SetTickInterval(interval time.Duration) {
	s.tickInterval = interval
}
