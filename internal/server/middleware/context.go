package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
)

// AppUser is the authenticated identity attached to a request: either a
// verified token's claims or the master API key identity.
type AppUser struct {
	UserID      int64
	Email       string
	Role        string
	TenantID    string
	Permissions []string

	// Master marks the master API key identity, which bypasses rate limits.
	Master bool
}

// App bundles the shared clients handlers reach through the request context.
// Everything here is built once at startup.
type App struct {
	DBConn   *pgxpool.Pool
	Queue    *amqp091.Channel
	S3       *s3.Client
	AiClient ai.GraphAIClient

	// AuthSecret signs and verifies local HS256 tokens. Key is non-nil when
	// an external JWKS endpoint is configured and takes over verification.
	AuthSecret []byte
	Key        *keyfunc.Keyfunc

	MasterAPIKey string
	MasterUserID int64
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
