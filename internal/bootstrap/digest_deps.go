package bootstrap

import (
	"context"
	"strings"
	"time"

	"digest_server/adapter/out/graph"
	"digest_server/adapter/out/messaging"
	"digest_server/adapter/out/mongodb"
	"digest_server/adapter/out/persistence"
	"digest_server/adapter/out/provider"
	"digest_server/config"
	"digest_server/core/agent/llm"
	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/core/service/digest"
	"digest_server/infra/database"
	"digest_server/pkg/cache"
	"digest_server/pkg/crypto"
	"digest_server/pkg/logger"
	"digest_server/pkg/metrics"
	"digest_server/pkg/ratelimit"
	"digest_server/pkg/snowflake"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies wires every adapter behind the core service. Postgres is the
// system of record and must be reachable; Redis, MongoDB and Neo4j degrade to
// warnings because the service nil-checks the stores they back.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Database
	Neo4j   neo4j.DriverWithContext

	// Outbound adapters
	Prefs    out.PreferenceStore
	Source   out.EmailSource
	Delivery out.DigestDelivery
	Notifier out.AdminNotifier
	History  out.RunHistoryStore
	Guard    out.RunGuard
	Profiles out.SenderProfileStore
	Producer out.TriggerProducer

	// Shared plumbing
	GmailAPI  *provider.GmailAPI
	LLMClient *llm.Client
	Gate      *ratelimit.InferenceGate
	IDs       *snowflake.Generator

	// Core service (implements in.DigestService and in.PreferenceService)
	DigestService *digest.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Database (pgxpool, health checks and pool stats)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the preference store)
	logger.Debug("Connecting to database via sqlx...")
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		// 선호 설정 없이는 자격 판정 자체가 불가능하다
		db.Close()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Register with global pool monitor
	metrics.RegisterPool("postgres", sqlDB.DB)
	logger.Info("sqlx database connection successful (pool: max=%d, idle=%d)", 25, 10)

	// Refresh tokens are stored encrypted; a missing key is a deploy mistake,
	// not a degradable condition.
	enc, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		deps.runCleanups(cleanups)
		return nil, nil, err
	}

	deps.Prefs = persistence.NewPreferenceAdapter(sqlDB, enc)

	// Redis (run guard, latest-run cache, trigger stream)
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed: %v", err)
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })

		redisCache := cache.NewRedisCache(redisClient)
		deps.Guard = persistence.NewRunGuardAdapter(redisCache)
		deps.Producer = messaging.NewRedisProducer(redisClient)
		logger.Info("Redis run guard and trigger producer initialized")
	}

	// MongoDB (run history)
	if cfg.MongoDBURL != "" {
		mongoDB, disconnect, err := mongodb.Connect(cfg.MongoDBURL, cfg.MongoDBName)
		if err != nil {
			logger.Warn("MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = mongoDB
			cleanups = append(cleanups, func() {
				disconnect(context.Background())
			})

			history := mongodb.NewHistoryAdapter(mongoDB)
			if err := history.EnsureIndexes(context.Background()); err != nil {
				logger.Warn("Failed to ensure MongoDB indexes: %v", err)
			}
			deps.History = history
			logger.Info("MongoDB run history initialized")
		}
	}

	// Neo4j (sender profiles for VIP scoring)
	if cfg.Neo4jURL != "" {
		neo4jDriver, err := graph.NewDriver(cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.Warn("Neo4j connection failed: %v", err)
		} else {
			deps.Neo4j = neo4jDriver
			cleanups = append(cleanups, func() {
				neo4jDriver.Close(context.Background())
			})

			profiles := graph.NewProfileAdapter(neo4jDriver, "neo4j")
			if err := profiles.EnsureIndexes(context.Background()); err != nil {
				logger.Warn("Failed to ensure Neo4j indexes: %v", err)
			}
			deps.Profiles = profiles
			logger.Info("Neo4j sender profile adapter initialized")
		}
	}

	// Gmail. Built unconditionally: with an empty client pair every call fails
	// through the normal SourceError path instead of a nil adapter panic.
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		logger.Warn("Google OAuth client pair not configured; Gmail calls will fail as auth errors")
	}
	deps.GmailAPI = provider.NewGmailAPI(provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	})
	deps.Source = provider.NewGmailSource(deps.GmailAPI)

	delivery := provider.NewGmailDelivery(deps.GmailAPI, domain.SourceCredential{
		Email:        cfg.AdminEmail,
		RefreshToken: cfg.AdminRefreshToken,
	})
	deps.Delivery = delivery
	deps.Notifier = delivery

	// LLM client behind the process-wide inference gate
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; summaries will fall back to cleaned bodies")
	}
	deps.Gate = ratelimit.NewInferenceGate(cfg.LLMMaxConcurrent)
	deps.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Gate:        deps.Gate,
	})

	// Run IDs
	ids, err := snowflake.NewGenerator(snowflake.NodeIDFor(cfg.WorkerID))
	if err != nil {
		deps.runCleanups(cleanups)
		return nil, nil, err
	}
	deps.IDs = ids

	// Digest pipeline
	engine := digest.NewEngine(digest.EngineDeps{
		Summarizer: deps.LLMClient,
		Extractor:  digest.NewContextExtractor(),
		Classifier: digest.NewIntentClassifier(),
		Drafter:    digest.NewReplyDrafter(digest.NewConfidenceScorer(), deps.LLMClient, cfg.LLMPolishDrafts),
		Priority:   digest.NewPriorityScorer(deps.Profiles),
	}, digest.EngineConfig{
		BatchSize:    cfg.DigestBatchSize,
		MinWordCount: cfg.DigestMinWords,
	})

	deps.DigestService = digest.NewService(digest.ServiceDeps{
		Prefs:    deps.Prefs,
		Source:   deps.Source,
		Delivery: deps.Delivery,
		Engine:   engine,
		IDs:      deps.IDs,
		Notifier: deps.Notifier,
		History:  deps.History,
		Guard:    deps.Guard,
		Profiles: deps.Profiles,
		Producer: deps.Producer,
	}, digest.ServiceConfig{
		FetchWindow: cfg.FetchWindow,
		MaxFetch:    cfg.MaxFetch,
	})

	cleanup := func() {
		deps.runCleanups(cleanups)
	}

	return deps, cleanup, nil
}

func (d *Dependencies) runCleanups(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}

	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	return nil
}
