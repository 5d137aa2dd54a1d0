package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stacia-study/rucsbot/rucsbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestAPIEnabledDefault(t *testing.T) {
	initConfig()
	assert.Equal(
		t,
		rucsbot.DefaultConfig().API.Enabled,
		viper.GetBool("api.enabled"),
	)
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

RUCS_DATABASE=/home/foo/rucsbot.sqlite3
RUCS_DATABASE_TYPE=sqlite
RUCS_DATABASE_LOG_LEVEL=INFO
RUCS_DATABASE_SLOW_THRESHOLD=200ms
RUCS_LOG_LEVEL=INFO
RUCS_STARTUP_TIMEOUT=30s
RUCS_SHUTDOWN_TIMEOUT=60s
RUCS_COMMAND_COOLDOWN=5s

# Discord bot config

RUCS_DISCORD_TOKEN=your-discord-bot-token
RUCS_DISCORD_APPLICATION_ID=your-discord-bot-app-id
RUCS_DISCORD_GUILD_ID=
RUCS_DISCORD_OWNER_ID=123456789
RUCS_DISCORD_NOTIFICATION_CHANNEL_ID=987654321
RUCS_DISCORD_CUSTOM_STATUS="Computer Science :)"
RUCS_DISCORD_LOG_LEVEL=WARN
RUCS_DISCORD_DISCORDGO_LOG_LEVEL=WARN
RUCS_DISCORD_MESSAGE_PREFIXES=! . ?
RUCS_DISCORD_THEME=12825057
RUCS_DISCORD_ROLE_STUDENT_ID=111
RUCS_DISCORD_ROLE_TEACHER_ID=222
RUCS_DISCORD_ROLE_OTHER_ID=333
RUCS_DISCORD_GATEWAY_INTENTS=3243773

# Status API server

RUCS_API_ENABLED=true
RUCS_API_LISTEN=127.0.0.1:5000
RUCS_API_LISTEN_NETWORK=tcp
RUCS_API_LOG_LEVEL=DEBUG
RUCS_API_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
RUCS_API_READ_TIMEOUT=5s
RUCS_API_READ_HEADER_TIMEOUT=5s
RUCS_API_WRITE_TIMEOUT=10s
RUCS_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/rucsbot.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/rucsbot.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("command_cooldown"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-app-id", viper.GetString("discord.application_id"))
	assert.Equal(t, "", viper.GetString("discord.guild_id"))
	assert.Equal(t, "123456789", viper.GetString("discord.owner_id"))
	assert.Equal(t, "987654321", viper.GetString("discord.notification_channel_id"))
	assert.Equal(t, "Computer Science :)", viper.GetString("discord.custom_status"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))

	assert.Equal(t, 12825057, viper.GetInt("discord.theme"))
	assert.Equal(t, "111", viper.GetString("discord.role_student_id"))
	assert.Equal(t, "222", viper.GetString("discord.role_teacher_id"))
	assert.Equal(t, "333", viper.GetString("discord.role_other_id"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))
	assert.Equal(
		t,
		[]string{"!", ".", "?"},
		viper.GetStringSlice("discord.message_prefixes"),
	)

	assert.True(t, viper.GetBool("api.enabled"))
	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assert.Equal(t, "tcp", viper.GetString("api.listen_network"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.allow_origins"),
	)
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))

	// Unmarshal the configuration into a rucsbot.Config struct
	var config rucsbot.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/rucsbot.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, config.CommandCooldown)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, "123456789", config.Discord.OwnerID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, 0xC3B1E1, config.Discord.Theme)
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.True(t, config.API.Enabled)
	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, "tcp", config.API.ListenNetwork)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.AllowOrigins,
	)
}
