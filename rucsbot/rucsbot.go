package rucsbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/stacia-study/rucsbot/rucsbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	structValidator = newStructValidator()
)

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	return v
}

// Bot is the application context: it exclusively owns the database handle,
// the discord session, and every other cross-cutting facility. Command
// handlers borrow a reference; nothing here is global.
type Bot struct {
	config *Config

	// GORM connection, shared by the tag repository and the status API
	db *gorm.DB

	// All tag persistence goes through here
	tags *TagRepo

	// Handles the discord session and gateway events
	discord *Discord

	// Read-only status HTTP server
	api *API

	// Per-user command cooldowns
	cooldowns *cooldownTracker

	// In-flight paginated list messages
	pager *paginatorStore

	logger     *slog.Logger
	logHandler slog.Handler

	// When set, non-owner commands get a short maintenance notice
	maintenance atomic.Bool

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has opened the gateway
	// connection and registered commands
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	startedAt time.Time

	commandsInProgress atomic.Int64

	// tracks in-flight interaction/message handler goroutines so shutdown
	// can drain them
	handlerWG sync.WaitGroup
}

// New creates a Bot from the given config, wiring up loggers and the
// discord integration. Call Run to connect and start handling commands.
func New(config *Config) (*Bot, error) {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.config.Discord.httpClient = b.config.HTTPClient

	disc := newDiscord(b.config.Discord)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.bot = b
	b.discord = disc

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	b.cooldowns = newCooldownTracker(b.config.CommandCooldown)
	b.pager = newPaginatorStore(b.logger)
	b.api = newAPI(b, config.API)

	return b, nil
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

func (b *Bot) getLogger(ctx context.Context) (context.Context, *slog.Logger) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// isOwner reports whether the given user ID is the configured bot owner.
func (b *Bot) isOwner(userID string) bool {
	return b.config.Discord.OwnerID != "" && userID == b.config.Discord.OwnerID
}

// Maintenance toggles maintenance mode. While set, only the owner's
// commands are executed.
func (b *Bot) Maintenance(enabled bool) {
	b.maintenance.Store(enabled)
}

// Run connects to Discord and blocks until the context is canceled or a
// stop signal is received, then shuts down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	if err := b.initDB(startCtx); err != nil {
		logger.ErrorContext(ctx, "error initializing database", tint.Err(err))
		return err
	}

	runtimeWG := &sync.WaitGroup{}

	if b.config.API.Enabled {
		go func() {
			httpErr := b.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving status API", tint.Err(httpErr))
			}
		}()
	}

	if err := b.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error starting discord session", tint.Err(err))
		return err
	}

	if _, err := b.discord.registerCommands(b.applicationCommands()); err != nil {
		return fmt.Errorf("error registering discord commands: %w", err)
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		b.pager.watchExpiry(ctx)
	}()

	b.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return b.shutdown(runtimeWG)
}

// Stop signals a running bot to begin its graceful shutdown.
func (b *Bot) Stop() {
	if b.signalStop != nil {
		b.signalStop <- struct{}{}
	}
}

func (b *Bot) initDB(ctx context.Context) error {
	dbLogHandler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	gormLogger := newGORMLogger(dbLogHandler, b.config.DatabaseSlowThreshold)

	b.logger.InfoContext(
		ctx,
		"initializing database",
		"database_type", b.config.DatabaseType,
		"database", b.config.Database,
	)
	db, err := CreateDB(ctx, b.config.DatabaseType, b.config.Database, gormLogger)
	if err != nil {
		return err
	}
	b.db = db
	b.tags = NewTagRepo(db, b.logger)
	return nil
}

// initDiscordSession creates the gateway session, attaches event handlers,
// and opens the websocket connection.
func (b *Bot) initDiscordSession(ctx context.Context) error {
	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				b.handlerWG.Add(1)
				go func() {
					defer b.handlerWG.Done()
					b.handleInteraction(ctx, i)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				b.handlerWG.Add(1)
				go func() {
					defer b.handlerWG.Done()
					b.handleMessage(ctx, m)
				}()
			},
		),
	}

	b.logger.InfoContext(ctx, "connecting to discord")
	if err = session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

func (b *Bot) shutdown(runtimeWG *sync.WaitGroup) error {
	logger := b.logger
	logger.Warn("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error

	if b.discord.session != nil {
		for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if err := b.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}
	}

	if b.config.API.Enabled {
		if err := b.api.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down status API", tint.Err(err))
			errs = append(errs, err)
		}
	}

	// handlers were removed above, so no new units of work start; wait
	// for in-flight commands and background loops to finish
	done := make(chan struct{}, 1)
	go func() {
		b.handlerWG.Wait()
		runtimeWG.Wait()
		done <- struct{}{}
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn(
			"shutdown timeout elapsed, exiting anyway",
			"commands_in_progress", b.commandsInProgress.Load(),
		)
	}

	return errors.Join(errs...)
}

// applicationCommands returns the full slash command set sent to the
// bulk overwrite endpoint.
func (b *Bot) applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		appCommandTag(),
		appCommandPing(),
		appCommandAbout(),
		appCommandClear(),
		appCommandRoles(),
	}
}

// handleRecover is used as a deferred call in interaction handling, to
// recover from panics and log the stack: one broken command must never
// take down the gateway loop.
func (b *Bot) handleRecover(ctx context.Context, rc any) {
	if rc == nil {
		return
	}
	b.logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic", rc,
		"stack", string(debug.Stack()),
	)
}

// handleInteraction is the gateway dispatch point for all interactions.
func (b *Bot) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	defer func() {
		b.handleRecover(ctx, recover())
	}()

	b.commandsInProgress.Add(1)
	defer b.commandsInProgress.Add(-1)

	ctx, logger := b.getLogger(ctx)

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	if discordUser.Bot {
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name
		logger.InfoContext(
			ctx,
			"received command",
			"command_name", commandName,
			"user_id", discordUser.ID,
		)

		b.logCommand(ctx, "interaction", commandName, i.GuildID, i.ChannelID, i.ID, discordUser)

		if b.maintenance.Load() && !b.isOwner(discordUser.ID) {
			b.respondText(ctx, i, "I'm under maintenance right now, try again later.", true)
			return
		}

		if !b.cooldowns.allow(discordUser.ID, b.isOwner(discordUser.ID)) {
			b.respondText(ctx, i, "Slow down! Try again in a few seconds.", true)
			return
		}

		switch commandName {
		case discordCommandTag:
			b.handleTagCommand(ctx, i, discordUser)
		case discordCommandPing:
			b.handlePingCommand(ctx, i)
		case discordCommandAbout:
			b.handleAboutCommand(ctx, i)
		case discordCommandClear:
			b.handleClearCommand(ctx, i, discordUser)
		case discordCommandRoles:
			b.handleRolesCommand(ctx, i, discordUser)
		default:
			logger.WarnContext(ctx, "unknown command", "command_name", commandName)
		}
	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		logger.InfoContext(ctx, "received component interaction", "custom_id", customID)
		switch {
		case isRolePickCustomID(customID):
			b.handleRolePick(ctx, i, discordUser, customID)
		case isPaginatorCustomID(customID):
			b.pager.handlePageTurn(ctx, b, i, customID)
		default:
			logger.WarnContext(ctx, "unknown component", "custom_id", customID)
		}
	}
}

// logCommand records a CommandLog row. Failures are logged and swallowed:
// audit logging never blocks command handling.
func (b *Bot) logCommand(
	ctx context.Context,
	method string,
	command string,
	guildID string,
	channelID string,
	interactionID string,
	user *discordgo.User,
) {
	rec := &CommandLog{
		Method:        method,
		InteractionID: interactionID,
		Command:       command,
		UserID:        user.ID,
		Username:      user.Username,
		GuildID:       guildID,
		ChannelID:     channelID,
	}
	if err := b.db.WithContext(ctx).Create(rec).Error; err != nil {
		b.logger.ErrorContext(
			ctx,
			"error logging command",
			tint.Err(err),
			"command_log", rec,
		)
	}
}

// respondText sends a plain text interaction response, optionally ephemeral.
func (b *Bot) respondText(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   flags,
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

// respondEmbed sends an embed interaction response with the configured
// theme color.
func (b *Bot) respondEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
	components []discordgo.MessageComponent,
	ephemeral bool,
) {
	if embed.Color == 0 {
		embed.Color = b.config.Discord.Theme
	}
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{embed},
				Components: components,
				Flags:      flags,
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

// cooldownTracker enforces a per-user minimum interval between commands.
// The owner is always exempt; a zero interval disables tracking entirely.
type cooldownTracker struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newCooldownTracker(interval time.Duration) *cooldownTracker {
	return &cooldownTracker{
		limiters: map[string]*rate.Limiter{},
		interval: interval,
	}
}

func (c *cooldownTracker) allow(userID string, exempt bool) bool {
	if c.interval <= 0 || exempt {
		return true
	}
	c.mu.Lock()
	limiter, ok := c.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.interval), 1)
		c.limiters[userID] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}
