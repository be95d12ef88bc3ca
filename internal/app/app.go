package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"comicmap/internal/auth"
	"comicmap/internal/mapping"
	synchub "comicmap/internal/sync"
	"comicmap/pkg/database"
	"comicmap/pkg/utils"
)

// App wires the long-lived pieces every server binary shares.
type App struct {
	Config  *utils.Config
	Logger  *slog.Logger
	Conn    *database.Connector
	Service *mapping.Service
	Hub     *synchub.Hub
	Tokens  auth.TokenService
}

func New(cfg *utils.Config, logger *slog.Logger) *App {
	conn := database.NewConnector(cfg.Store, database.WithLogger(logger))
	hub := synchub.NewHub(logger)

	svc := mapping.NewService(conn, mapping.Options{
		CacheTTL:       cfg.Cache.TTL,
		QueryTimeout:   cfg.Store.QueryTimeout,
		NotFoundPolicy: mapping.NotFoundPolicy(cfg.Resolver.NotFoundPolicy),
		Publisher:      hub,
		Logger:         logger,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		Conn:    conn,
		Service: svc,
		Hub:     hub,
		Tokens:  auth.NewTokenService(cfg.Auth),
	}
}

// WarmUp starts the first store connection in the background so the first
// request does not pay for it. Failures are logged by the connector.
func (a *App) WarmUp() {
	if !a.Config.Store.Configured() {
		a.Logger.Warn("no store configured, serving in degraded mode")
		return
	}
	go func() {
		_, _ = a.Conn.DB(context.Background())
	}()
}

// Router builds the HTTP surface: the gin engine behind request logging and
// CORS, with the WebSocket feed mounted beside it.
func (a *App) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", synchub.WSHandler(a.Hub, a.Logger))

	api := r.Group("/api")
	h := mapping.NewHandler(a.Service)
	h.RegisterRoutes(api)

	if a.Config.Auth.Enabled() {
		admin := api.Group("/admin")
		admin.Use(auth.AuthMiddleware(a.Tokens, auth.RoleAdmin), func(c *gin.Context) {
			a.Logger.Info("admin request", "sub", auth.MustGetClaims(c).Subject, "path", c.FullPath())
			c.Next()
		})
		h.RegisterAdminRoutes(admin)
		admin.GET("/feed", func(c *gin.Context) {
			c.JSON(http.StatusOK, a.Hub.Stats())
		})
	} else {
		a.Logger.Info("admin api disabled: auth.jwt_secret is empty")
	}

	logged := httplog.RequestLogger(a.Logger, &httplog.Options{
		Level:             slog.LevelInfo,
		Schema:            httplog.SchemaECS.Concise(true),
		LogRequestHeaders: []string{},
	})(r)

	// the feed connection is hijacked, keep it out of the response logger
	mux := http.NewServeMux()
	mux.Handle("/ws", r)
	mux.Handle("/", logged)

	return cors.Handler(cors.Options{
		AllowedOrigins: a.Config.HTTP.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})(mux)
}

func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) Close() error {
	a.Hub.Close()
	return a.Conn.Close()
}
