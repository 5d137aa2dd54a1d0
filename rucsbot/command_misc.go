package rucsbot

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	discordCommandPing  = "ping"
	discordCommandAbout = "about"
)

func appCommandPing() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        discordCommandPing,
		Description: "Check the bot's gateway latency",
	}
}

func appCommandAbout() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        discordCommandAbout,
		Description: "Show version and runtime information",
	}
}

func (b *Bot) handlePingCommand(ctx context.Context, i *discordgo.InteractionCreate) {
	latency := b.discord.session.HeartbeatLatency()
	b.respondEmbed(
		ctx,
		i,
		&discordgo.MessageEmbed{
			Title:       "Pong!",
			Description: fmt.Sprintf("Heartbeat latency: %dms", latency.Milliseconds()),
		},
		nil,
		false,
	)
}

func (b *Bot) handleAboutCommand(ctx context.Context, i *discordgo.InteractionCreate) {
	_, logger := b.getLogger(ctx)

	fields := []*discordgo.MessageEmbedField{
		{Name: "Version", Value: Version, Inline: true},
		{Name: "Commit", Value: CommitSHA, Inline: true},
		{Name: "Go", Value: runtime.Version(), Inline: true},
		{
			Name:   "Uptime",
			Value:  time.Since(b.startedAt).Round(time.Second).String(),
			Inline: true,
		},
		{
			Name:   "Servers",
			Value:  fmt.Sprintf("%d", b.discord.session.GuildCount()),
			Inline: true,
		},
	}

	if cpuPercent, rssMB, err := processStats(); err != nil {
		logger.WarnContext(ctx, "error reading process stats", tint.Err(err))
	} else {
		fields = append(
			fields,
			&discordgo.MessageEmbedField{
				Name:   "Process",
				Value:  fmt.Sprintf("%.1f MiB / %.1f%% CPU", rssMB, cpuPercent),
				Inline: true,
			},
		)
	}

	b.respondEmbed(
		ctx,
		i,
		&discordgo.MessageEmbed{
			Title:  "About",
			Fields: fields,
		},
		nil,
		false,
	)
}

// processStats returns the bot process's CPU percentage and resident set
// size in MiB.
func processStats() (cpuPercent float64, rssMB float64, err error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err = proc.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	return cpuPercent, float64(memInfo.RSS) / (1024 * 1024), nil
}
