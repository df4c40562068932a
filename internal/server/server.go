package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/queue"
	mid "github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/internal/storage"
	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/internal/validate"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	oai "github.com/meridian-hq/atlas/backend/pkg/ai/ollama"
	gai "github.com/meridian-hq/atlas/backend/pkg/ai/openai"
	"github.com/meridian-hq/atlas/backend/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// shutdownGrace is how long in-flight requests get to finish once the
// process receives a termination signal.
const shutdownGrace = 10 * time.Second

// echoValidator adapts the go-playground validator to echo's Validator
// interface so handlers can bind and validate request payloads in one step.
type echoValidator struct {
	check *validator.Validate
}

func (v *echoValidator) Validate(i any) error {
	return v.check.Struct(i)
}

// requestLogger routes echo's per-request log line through the shared
// structured logger instead of echo's own output.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogMethod:  true,
		LogURI:     true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Error("Request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "err", v.Error)
			} else {
				logger.Info("Request completed", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			}
			return nil
		},
	})
}

// RunMigrations applies pending schema migrations. A database already at the
// latest version is not an error.
func RunMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// NewAIClient builds the configured AI backend: ollama when AI_ADAPTER says
// so, an OpenAI-compatible endpoint otherwise.
func NewAIClient() (ai.GraphAIClient, error) {
	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		return oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
			RequestTimeoutMin:     int64(util.GetEnvNumeric("AI_REQUEST_TIMEOUT_MIN", 5)),
		})
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentEmbeddings: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
			RequestTimeoutMin:       int64(util.GetEnvNumeric("AI_REQUEST_TIMEOUT_MIN", 5)),
		}), nil
	}
}

func Init() {
	e := echo.New()

	checks := validator.New()
	if err := validate.Register(checks); err != nil {
		logger.Fatal("Failed to register validators", "err", err)
	}
	e.Validator = &echoValidator{check: checks}

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := RunMigrations(databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		logger.Fatal("Failed to parse database config", "err", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	conn, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	// Expired refresh tokens stop verifying on their own; the rows still
	// accumulate until someone deletes them.
	go func() {
		sweep := time.NewTicker(12 * time.Hour)
		defer sweep.Stop()
		for {
			if err := db.New(conn).DeleteExpiredRefreshTokens(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Failed to prune expired refresh tokens", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
			}
		}
	}()

	broker, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to message broker", "err", err)
	}
	defer broker.Close()
	channel, err := broker.Channel()
	if err != nil {
		logger.Fatal("Failed to open message channel", "err", err)
	}
	if err := queue.SetupQueues(channel, queue.WorkerQueues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	s3, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	aiClient, err := NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	var key *keyfunc.Keyfunc
	if jwksURL := util.GetEnv("AUTH_JWKS_URL"); jwksURL != "" {
		k, err := keyfunc.NewDefault([]string{jwksURL})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		key = &k
	}

	masterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	app := &mid.App{
		DBConn:       conn,
		Queue:        channel,
		S3:           s3,
		AiClient:     aiClient,
		AuthSecret:   []byte(util.GetEnv("AUTH_SECRET")),
		Key:          key,
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
		MasterUserID: masterUserID,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("100M"))

	RegisterRoutes(e)

	addr := ":" + util.GetEnvString("PORT", "8080")
	go func() {
		logger.Info("Starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server stopped unexpectedly", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down cleanly", "err", err)
	}
}
