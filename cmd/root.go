package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stacia-study/rucsbot/rucsbot"
)

var (
	cfg        = rucsbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "rucsbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", rucsbot.DefaultDatabase)
	viper.SetDefault("database_type", rucsbot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		rucsbot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		rucsbot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", rucsbot.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", rucsbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", rucsbot.DefaultShutdownTimeout)
	viper.SetDefault("command_cooldown", rucsbot.DefaultCommandCooldown)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.owner_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.custom_status", rucsbot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.error_message", rucsbot.DefaultDiscordErrorMessage)
	viper.SetDefault("discord.message_prefixes", rucsbot.DefaultMessagePrefixes)
	viper.SetDefault("discord.theme", rucsbot.DefaultDiscordTheme)
	viper.SetDefault("discord.role_student_id", "")
	viper.SetDefault("discord.role_teacher_id", "")
	viper.SetDefault("discord.role_other_id", "")
	viper.SetDefault(
		"discord.log_level",
		rucsbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		rucsbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		rucsbot.DefaultDiscordGatewayIntent,
	)

	// Status API config
	viper.SetDefault("api.enabled", rucsbot.DefaultConfig().API.Enabled)
	viper.SetDefault("api.listen", rucsbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", rucsbot.DefaultAPIListenNetwork)
	viper.SetDefault("api.log_level", rucsbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.allow_origins", []string{})
	viper.SetDefault("api.read_timeout", rucsbot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		rucsbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", rucsbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", rucsbot.DefaultIdleTimeout)

	envPrefix := os.Getenv(rucsbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = rucsbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"discord.message_prefixes",
		viper.GetStringSlice("discord.message_prefixes"),
	)
	viper.Set(
		"api.allow_origins",
		viper.GetStringSlice("api.allow_origins"),
	)

	logLevelKeys := []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	}
	for _, key := range logLevelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load before reading the environment",
	)
}
