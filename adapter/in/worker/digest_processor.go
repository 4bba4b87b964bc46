package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digest_server/core/port/in"
	"digest_server/core/port/out"
	"digest_server/pkg/apperr"
	"digest_server/pkg/logger"
)

// =============================================================================
// Digest Processor
// =============================================================================
//
// Runs digest jobs coming off the pool. Scheduled fan-out jobs re-load the
// preference here so the payload never carries the refresh token through
// Redis.

type DigestProcessor struct {
	svc   in.DigestService
	prefs out.PreferenceStore
}

func NewDigestProcessor(svc in.DigestService, prefs out.PreferenceStore) *DigestProcessor {
	return &DigestProcessor{svc: svc, prefs: prefs}
}

// ProcessUser handles a single-user job.
func (p *DigestProcessor) ProcessUser(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[DigestUserPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	if payload.Manual {
		return p.processManual(ctx, payload)
	}

	pref, err := p.prefs.GetByIdentity(ctx, payload.Identity)
	if err != nil {
		return fmt.Errorf("load preference: %w", err)
	}
	if pref == nil || !pref.Active {
		// 팬아웃과 처리 사이에 비활성화된 사용자
		logger.Default().WithIdentity(payload.Identity).Debug("user no longer active, skipping job")
		return nil
	}

	tick := payload.TickTime
	if tick.IsZero() {
		tick = time.Now()
	}

	if err := p.svc.ProcessUser(ctx, pref, tick); err != nil {
		return retryableOnly(err)
	}
	return nil
}

func (p *DigestProcessor) processManual(ctx context.Context, payload *DigestUserPayload) error {
	log := logger.Default().WithIdentity(payload.Identity).WithField("request_id", payload.RequestID)

	run, err := p.svc.RunForUser(ctx, payload.Identity, payload.Force)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeConflict) || apperr.IsCode(err, apperr.CodeNotFound) {
			// 이미 발송됐거나 없는 사용자. 재시도해도 결과가 같다
			log.WithError(err).Warn("manual run rejected")
			return nil
		}
		return retryableOnly(err)
	}

	if run == nil {
		log.Info("manual run found nothing unread")
		return nil
	}

	log.WithField("run_id", run.ID).Info("manual run delivered")
	return nil
}

// ProcessTick handles a manual full-pass job.
func (p *DigestProcessor) ProcessTick(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[DigestTickPayload](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	tick := payload.TickTime
	if tick.IsZero() {
		tick = time.Now()
	}

	summary, err := p.svc.RunOnce(ctx, tick)
	if err != nil {
		return err
	}

	logger.WithFields(map[string]any{
		"request_id": payload.RequestID,
		"evaluated":  summary.Evaluated,
		"delivered":  summary.Delivered,
		"failed":     summary.Failed,
	}).Info("manual tick finished")
	return nil
}

// retryableOnly keeps the pool's backoff retries for transient failures and
// swallows the rest: the service has already logged, notified, and counted.
func retryableOnly(err error) error {
	var srcErr *out.SourceError
	if errors.As(err, &srcErr) && !srcErr.Retryable {
		return nil
	}
	return err
}
