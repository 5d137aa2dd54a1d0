//nolint:lll // struct tags can't be split
package rucsbot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	EnvvarSetEnvPrefix = "RUCSBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "RUCS"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "rucsbot.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultLogLevel          = slog.LevelInfo
	DefaultDatabaseLogLevel  = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultAPIListenNetwork = "tcp"

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentGuildMembers | discordgo.IntentMessageContent
	DefaultDiscordCustomStatus = "Computer Science :)"
	DefaultDiscordErrorMessage = "sorry, something went wrong!"

	// DefaultDiscordTheme is the embed accent color (light purple)
	DefaultDiscordTheme = 0xC3B1E1

	// DefaultCommandCooldown is the minimum interval between commands for a
	// single (non-owner) user.
	DefaultCommandCooldown = 5 * time.Second

	// Discord's message content limit, which doubles as the tag content limit.
	discordMaxMessageLength = 2000

	// tagNameMaxLength is the maximum length of a tag name, in characters.
	tagNameMaxLength = 100

	// tagSearchMinQueryLength is the minimum length of a `/tag search` query.
	tagSearchMinQueryLength = 3
)

var DefaultMessagePrefixes = []string{"!", ".", "?"}

// Config is the top-level bot configuration, loaded via viper/cobra in
// the cmd package.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the read-only status HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time the bot has to initialize. If it's
	// exceeded, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, remaining connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// CommandCooldown is the per-user minimum interval between commands.
	// The bot owner is exempt. 0 disables cooldowns.
	CommandCooldown time.Duration `yaml:"command_cooldown" mapstructure:"command_cooldown" json:"command_cooldown"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord integration.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// OwnerID is the discord user ID allowed to bypass ownership checks and
	// use owner-only commands. If empty, owner-only commands are disabled.
	OwnerID string `yaml:"owner_id" mapstructure:"owner_id" json:"owner_id"`

	// NotificationChannelID, if set, receives a message whenever the bot
	// connects to the gateway.
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// CustomStatus is set as the bot's activity once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is the generic user-facing message for internal failures
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// MessagePrefixes are accepted prefixes for message-based commands
	// (ex: `!tag hello`)
	MessagePrefixes []string `yaml:"message_prefixes" mapstructure:"message_prefixes" json:"message_prefixes"`

	// Theme is the embed accent color
	Theme int `yaml:"theme" mapstructure:"theme" json:"theme"`

	// RoleStudentID, RoleTeacherID and RoleOtherID are the guild role IDs
	// assigned by the persistent role-picker buttons. Buttons for empty IDs
	// aren't rendered.
	RoleStudentID string `yaml:"role_student_id" mapstructure:"role_student_id" json:"role_student_id"`
	RoleTeacherID string `yaml:"role_teacher_id" mapstructure:"role_teacher_id" json:"role_teacher_id"`
	RoleOtherID   string `yaml:"role_other_id" mapstructure:"role_other_id" json:"role_other_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// APIConfig configures the status HTTP server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Enabled determines whether the status server runs at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the status server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// CORS configuration for the status endpoints
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"  binding:"required_if=Enabled true,min=1s"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	prefixes := make([]string, len(DefaultMessagePrefixes))
	copy(prefixes, DefaultMessagePrefixes)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		CommandCooldown:       DefaultCommandCooldown,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
			MessagePrefixes:   prefixes,
			Theme:             DefaultDiscordTheme,
		},
		API: &APIConfig{
			Enabled:           true,
			Listen:            DefaultAPIListen,
			ListenNetwork:     DefaultAPIListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
