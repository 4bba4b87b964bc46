package bootstrap

import (
	"strings"
	"time"

	"digest_server/adapter/in/http"
	"digest_server/config"
	"digest_server/infra/middleware"
	"digest_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func initLogger(cfg *config.Config, service string) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: service,
	})
}

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	initLogger(cfg, "digest-api")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	return buildAPI(cfg, deps, nil), cleanup, nil
}

// buildAPI assembles the ops API. runtimeStats is non-nil only in combined
// mode, where the stats endpoint can also report worker pool numbers.
func buildAPI(cfg *config.Config, deps *Dependencies, runtimeStats func() map[string]any) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		Prefork:               false,
		StrictRouting:         false,
		CaseSensitive:         false,

		// =============================================================================
		// 성능 최적화 설정
		// =============================================================================

		// Buffer sizes (메모리 vs 성능 트레이드오프)
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json: 표준 encoding/json 대비 2~3배 빠른 JSON 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Body 제한 (메모리 보호)
		BodyLimit: 10 * 1024 * 1024, // 10MB

		// Concurrency 설정
		Concurrency: 256 * 1024,

		// 서버 헤더 비활성화
		ServerHeader:             "",
		DisableDefaultDate:       true,
		DisableHeaderNormalizing: false,

		// Keep-alive (연결 재사용)
		DisableKeepalive: false,

		// Streaming 최적화
		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())       // 1. Panic recovery
	app.Use(middleware.RequestID())     // 2. Request ID
	app.Use(middleware.RequestLogger()) // 3. Request logging

	// Response compression
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS - AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400, // 24 hours
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	// API routes (with auth and rate limiting)
	api := app.Group("/api/v1")

	rateLimiter := middleware.NewRateLimiter(300, time.Minute)
	api.Use(rateLimiter.Handler())

	// 수동 트리거는 전체 파이프라인을 깨우므로 훨씬 엄격하게 제한
	api.Use("/digest/run", middleware.SensitiveEndpointLimiter(10, time.Minute))

	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	// Register handlers
	digestHandler := http.NewDigestHandler(deps.DigestService, deps.DigestService)
	if runtimeStats != nil {
		digestHandler.SetRuntimeStats(runtimeStats)
	}
	digestHandler.Register(api)

	logger.Info("API server initialized successfully")

	return app
}
