package rucsbot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearInteraction(amount int, filter string) *discordgo.InteractionCreate {
	options := []*discordgo.ApplicationCommandInteractionDataOption{
		{
			Name:  clearOptionAmount,
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(amount),
		},
	}
	if filter != "" {
		options = append(
			options,
			&discordgo.ApplicationCommandInteractionDataOption{
				Name:  clearOptionType,
				Type:  discordgo.ApplicationCommandOptionString,
				Value: filter,
			},
		)
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "42",
			ChannelID: "chan-1",
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: "7", Username: "mod"},
				Permissions: discordgo.PermissionManageMessages,
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    discordCommandClear,
				Options: options,
			},
		},
	}
}

func TestClearCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	now := time.Now()
	session.channelMessages = []*discordgo.Message{
		{ID: "1", Timestamp: now, Author: &discordgo.User{ID: "a"}},
		{ID: "2", Timestamp: now, Author: &discordgo.User{ID: "b", Bot: true}},
		{ID: "3", Timestamp: now.Add(-15 * 24 * time.Hour), Author: &discordgo.User{ID: "c"}},
	}

	bot.handleClearCommand(context.Background(), clearInteraction(10, ""), &discordgo.User{ID: "7"})

	require.Len(t, session.bulkDeleted, 1)
	// message 3 is too old for bulk deletion and is skipped
	assert.Equal(t, []string{"1", "2"}, session.bulkDeleted[0])

	resp := session.lastInteractionResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Deleted 2 messages")
}

func TestClearCommandBotFilter(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	now := time.Now()
	session.channelMessages = []*discordgo.Message{
		{ID: "1", Timestamp: now, Author: &discordgo.User{ID: "a"}},
		{ID: "2", Timestamp: now, Author: &discordgo.User{ID: "b", Bot: true}},
		{ID: "3", Timestamp: now, Author: &discordgo.User{ID: "c"}, Embeds: []*discordgo.MessageEmbed{{}}},
	}

	bot.handleClearCommand(
		context.Background(),
		clearInteraction(10, clearTypeBot),
		&discordgo.User{ID: "7"},
	)

	require.Len(t, session.bulkDeleted, 1)
	assert.Equal(t, []string{"2"}, session.bulkDeleted[0])
}

func TestClearCommandRequiresPermission(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	interaction := clearInteraction(10, "")
	interaction.Member.Permissions = 0
	interaction.Member.User.ID = "8"

	bot.handleClearCommand(context.Background(), interaction, &discordgo.User{ID: "8"})

	assert.Empty(t, session.bulkDeleted)
	resp := session.lastInteractionResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Manage Messages")
}

func TestClearMessageMatches(t *testing.T) {
	t.Parallel()

	botMsg := &discordgo.Message{Author: &discordgo.User{Bot: true}}
	attachMsg := &discordgo.Message{
		Author:      &discordgo.User{},
		Attachments: []*discordgo.MessageAttachment{{}},
	}
	embedMsg := &discordgo.Message{
		Author: &discordgo.User{},
		Embeds: []*discordgo.MessageEmbed{{}},
	}
	plain := &discordgo.Message{Author: &discordgo.User{}}

	assert.True(t, clearMessageMatches(clearTypeBot, botMsg))
	assert.False(t, clearMessageMatches(clearTypeBot, plain))
	assert.True(t, clearMessageMatches(clearTypeAttachments, attachMsg))
	assert.False(t, clearMessageMatches(clearTypeAttachments, embedMsg))
	assert.True(t, clearMessageMatches(clearTypeEmbed, embedMsg))
	assert.True(t, clearMessageMatches("", plain))
}
