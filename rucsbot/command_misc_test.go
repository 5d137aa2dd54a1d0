package rucsbot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	bot.handlePingCommand(
		context.Background(),
		&discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{
				Type: discordgo.InteractionApplicationCommand,
			},
		},
	)

	resp := session.lastInteractionResponse()
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Contains(t, resp.Data.Embeds[0].Description, "42ms")
	assert.Equal(t, DefaultDiscordTheme, resp.Data.Embeds[0].Color)
}

func TestAboutCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	bot.handleAboutCommand(
		context.Background(),
		&discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{
				Type: discordgo.InteractionApplicationCommand,
			},
		},
	)

	resp := session.lastInteractionResponse()
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Embeds, 1)

	fieldNames := map[string]bool{}
	for _, f := range resp.Data.Embeds[0].Fields {
		fieldNames[f.Name] = true
	}
	assert.True(t, fieldNames["Version"])
	assert.True(t, fieldNames["Go"])
	assert.True(t, fieldNames["Uptime"])
	assert.True(t, fieldNames["Servers"])
}
