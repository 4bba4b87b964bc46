package http

import (
	"errors"
	"time"

	"digest_server/core/domain"
	"digest_server/core/port/in"
	"digest_server/pkg/apperr"
	"digest_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// DigestHandler exposes the digest ops surface: stats, manual triggers, run
// history, and preference management.
type DigestHandler struct {
	svc     in.DigestService
	prefSvc in.PreferenceService

	// runtimeStats is wired in combined mode so the endpoint can include
	// worker pool metrics, the gate, and the breaker state.
	runtimeStats func() map[string]any
}

// NewDigestHandler creates a new digest handler.
func NewDigestHandler(svc in.DigestService, prefSvc in.PreferenceService) *DigestHandler {
	return &DigestHandler{
		svc:     svc,
		prefSvc: prefSvc,
	}
}

// SetRuntimeStats attaches process-local runtime metrics to the stats endpoint.
func (h *DigestHandler) SetRuntimeStats(fn func() map[string]any) {
	h.runtimeStats = fn
}

// Register registers digest routes.
func (h *DigestHandler) Register(router fiber.Router) {
	digest := router.Group("/digest")

	digest.Get("/stats", h.Stats)
	digest.Post("/run", h.TriggerRun)
	digest.Get("/runs", h.ListRuns)
	digest.Get("/runs/latest", h.LatestRun)

	prefs := router.Group("/preferences")

	prefs.Get("/:identity", h.GetPreference)
	prefs.Put("/:identity", h.UpdatePreference)
}

// =============================================================================
// Handlers
// =============================================================================

// Stats returns scheduler counters plus pipeline and pool statistics.
func (h *DigestHandler) Stats(c *fiber.Ctx) error {
	stats := fiber.Map{
		"scheduler": h.svc.Stats(),
		"stages":    metrics.AllStageStats(),
		"db_pools":  metrics.GetAllPoolStats(),
	}
	if h.runtimeStats != nil {
		stats["runtime"] = h.runtimeStats()
	}
	return c.JSON(stats)
}

// TriggerRunRequest represents a manual trigger request. Without an identity
// the whole eligibility pass runs; force only applies to single-user runs.
type TriggerRunRequest struct {
	Identity *uuid.UUID `json:"identity,omitempty"`
	Force    bool       `json:"force,omitempty"`
}

// TriggerRun publishes a run trigger for asynchronous execution.
func (h *DigestHandler) TriggerRun(c *fiber.Ctx) error {
	var req TriggerRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	requestID, _ := c.Locals("request_id").(string)
	trigger := &domain.RunTrigger{
		Identity:    req.Identity,
		Force:       req.Force,
		RequestID:   requestID,
		RequestedAt: time.Now(),
	}

	if err := h.svc.RequestRun(c.Context(), trigger); err != nil {
		return AppErrorResponse(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":     "queued",
		"request_id": requestID,
	})
}

// ListRuns returns persisted runs for a user, newest first.
func (h *DigestHandler) ListRuns(c *fiber.Ctx) error {
	identity, err := h.identityOf(c)
	if err != nil {
		return err
	}

	page := GetPaginationParams(c, 20)

	runs, err := h.svc.RunHistory(c.Context(), identity, page.Limit, page.Offset)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":   runs,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// LatestRun returns the most recent run for a user.
func (h *DigestHandler) LatestRun(c *fiber.Ctx) error {
	identity, err := h.identityOf(c)
	if err != nil {
		return err
	}

	run, err := h.svc.LatestRun(c.Context(), identity)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if run == nil {
		return AppErrorResponse(c, apperr.NotFound("digest run"))
	}

	return c.JSON(run)
}

// GetPreference returns one user's digest preference.
func (h *DigestHandler) GetPreference(c *fiber.Ctx) error {
	identity, err := uuid.Parse(c.Params("identity"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid identity")
	}

	pref, err := h.prefSvc.GetPreference(c.Context(), identity)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	return c.JSON(pref)
}

// UpdatePreferenceRequest represents a preference upsert. An empty refresh
// token keeps the stored credential.
type UpdatePreferenceRequest struct {
	Email            string   `json:"email"`
	DeliveryHour     int      `json:"delivery_hour"`
	Timezone         string   `json:"timezone"`
	WeekendPolicy    string   `json:"weekend_policy"`
	OnVacation       bool     `json:"on_vacation"`
	UrgentKeywords   []string `json:"urgent_keywords"`
	ImportantSenders []string `json:"important_senders"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	Active           *bool    `json:"active,omitempty"`
}

// UpdatePreference validates and upserts one user's digest preference.
func (h *DigestHandler) UpdatePreference(c *fiber.Ctx) error {
	identity, err := uuid.Parse(c.Params("identity"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid identity")
	}

	var req UpdatePreferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if req.WeekendPolicy == "" {
		req.WeekendPolicy = string(domain.WeekendFull)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	pref := &domain.UserPreference{
		Identity:         identity,
		Email:            req.Email,
		DeliveryHour:     req.DeliveryHour,
		Timezone:         req.Timezone,
		WeekendPolicy:    domain.WeekendPolicy(req.WeekendPolicy),
		OnVacation:       req.OnVacation,
		UrgentKeywords:   req.UrgentKeywords,
		ImportantSenders: req.ImportantSenders,
		RefreshToken:     req.RefreshToken,
		Active:           active,
	}

	if err := h.prefSvc.SavePreference(c.Context(), pref); err != nil {
		return AppErrorResponse(c, err)
	}

	return SuccessResponse(c, fiber.Map{"identity": identity})
}

// identityOf resolves the target user. Errors flow to the centralized error
// handler: auth failures as 401, bad identity values as an AppError.
func (h *DigestHandler) identityOf(c *fiber.Ctx) (uuid.UUID, error) {
	identity, err := TargetIdentity(c)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		return uuid.Nil, err
	}
	return identity, nil
}
