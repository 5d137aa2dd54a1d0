package rucsbot

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API is the read-only status HTTP server. It exposes health and tag
// statistics for dashboards; it never mutates anything.
type API struct {
	bot        *Bot
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

func newAPI(bot *Bot, config *APIConfig) *API {
	logger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginLogger(logger), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	engine.Use(cors.New(corsConfig))

	a := &API{
		bot:    bot,
		config: config,
		engine: engine,
		logger: logger,
	}
	a.registerRoutes()
	return a
}

// ginLogger logs each request at debug, and at warn for 4xx/5xx statuses.
func ginLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		logger.LogAttrs(
			c.Request.Context(),
			level,
			"request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

func (a *API) registerRoutes() {
	a.engine.GET("/healthz", a.getHealth)

	apiGroup := a.engine.Group("/api")
	apiGroup.GET("/status", a.getStatus)
	apiGroup.GET("/tags/stats", a.getTagStats)
}

// Serve listens on the configured address and blocks until the server
// exits. Unix socket listeners have any stale socket file removed first.
func (a *API) Serve(ctx context.Context) error {
	a.httpServer = &http.Server{
		Handler:           a.engine,
		ReadTimeout:       a.config.ReadTimeout,
		ReadHeaderTimeout: a.config.ReadHeaderTimeout,
		WriteTimeout:      a.config.WriteTimeout,
		IdleTimeout:       a.config.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	if a.config.ListenNetwork == "unix" {
		if err := os.Remove(a.config.Listen); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return err
	}

	a.logger.InfoContext(
		ctx,
		"status API listening",
		"network", a.config.ListenNetwork,
		"address", a.config.Listen,
	)
	return a.httpServer.Serve(listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Version            string  `json:"version"`
	CommitSHA          string  `json:"commit_sha"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	Connected          bool    `json:"connected"`
	GuildCount         int     `json:"guild_count"`
	Maintenance        bool    `json:"maintenance"`
	CommandsInProgress int64   `json:"commands_in_progress"`
	GatewayConnects    int64   `json:"gateway_connects"`
	GatewayDisconnects int64   `json:"gateway_disconnects"`
	CPUPercent         float64 `json:"cpu_percent"`
	MemoryRSSMB        float64 `json:"memory_rss_mb"`
}

func (a *API) getStatus(c *gin.Context) {
	b := a.bot
	resp := statusResponse{
		Version:            Version,
		CommitSHA:          CommitSHA,
		UptimeSeconds:      time.Since(b.startedAt).Seconds(),
		Connected:          b.discord.connected.Load(),
		Maintenance:        b.maintenance.Load(),
		CommandsInProgress: b.commandsInProgress.Load(),
		GatewayConnects:    b.discord.metricConnects.Load(),
		GatewayDisconnects: b.discord.metricDisconnects.Load(),
	}
	if b.discord.session != nil {
		resp.GuildCount = b.discord.session.GuildCount()
	}
	if cpuPercent, rssMB, err := processStats(); err == nil {
		resp.CPUPercent = cpuPercent
		resp.MemoryRSSMB = rssMB
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) getTagStats(c *gin.Context) {
	counts, err := a.bot.tags.Stats(c.Request.Context())
	if err != nil {
		a.logger.ErrorContext(c.Request.Context(), "error loading tag stats", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	var total int64
	for _, gc := range counts {
		total += gc.Count
	}
	c.JSON(
		http.StatusOK, gin.H{
			"total":  total,
			"guilds": counts,
		},
	)
}
