package rucsbot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	discordCommandClear = "clear"

	clearOptionAmount = "amount"
	clearOptionType   = "type"

	clearTypeBot         = "BOT"
	clearTypeAttachments = "Attachments"
	clearTypeEmbed       = "Embed"

	clearMinAmount = 1
	clearMaxAmount = 100

	// discord refuses to bulk delete messages older than two weeks
	clearBulkDeleteMaxAge = 14 * 24 * time.Hour
)

func appCommandClear() *discordgo.ApplicationCommand {
	manageMessages := int64(discordgo.PermissionManageMessages)
	minAmount := float64(clearMinAmount)
	return &discordgo.ApplicationCommand{
		Name:                     discordCommandClear,
		Description:              "Bulk delete recent messages in this channel",
		DefaultMemberPermissions: &manageMessages,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        clearOptionAmount,
				Description: "How many messages to inspect (1-100)",
				Required:    true,
				MinValue:    &minAmount,
				MaxValue:    clearMaxAmount,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        clearOptionType,
				Description: "Only delete messages of this kind",
				Required:    false,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "Bot messages", Value: clearTypeBot},
					{Name: "Messages with attachments", Value: clearTypeAttachments},
					{Name: "Messages with embeds", Value: clearTypeEmbed},
				},
			},
		},
	}
}

func clearMessageMatches(filter string, msg *discordgo.Message) bool {
	switch filter {
	case clearTypeBot:
		return msg.Author != nil && msg.Author.Bot
	case clearTypeAttachments:
		return len(msg.Attachments) > 0
	case clearTypeEmbed:
		return len(msg.Embeds) > 0
	default:
		return true
	}
}

func (b *Bot) handleClearCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	_, logger := b.getLogger(ctx)

	if i.Member == nil ||
		(i.Member.Permissions&discordgo.PermissionManageMessages == 0 && !b.isOwner(user.ID)) {
		b.respondText(ctx, i, "You need the Manage Messages permission to do that.", true)
		return
	}

	var amount int
	var filter string
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case clearOptionAmount:
			amount = int(opt.IntValue())
		case clearOptionType:
			filter = opt.StringValue()
		}
	}
	if amount < clearMinAmount || amount > clearMaxAmount {
		b.respondText(
			ctx,
			i,
			fmt.Sprintf(
				"Amount must be between %d and %d.",
				clearMinAmount,
				clearMaxAmount,
			),
			true,
		)
		return
	}

	messages, err := b.discord.session.ChannelMessages(
		i.ChannelID,
		amount,
		"",
		"",
		"",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching channel messages", tint.Err(err))
		b.respondText(ctx, i, b.config.Discord.ErrorMessage, true)
		return
	}

	cutoff := time.Now().Add(-clearBulkDeleteMaxAge)
	messageIDs := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Timestamp.Before(cutoff) {
			continue
		}
		if clearMessageMatches(filter, msg) {
			messageIDs = append(messageIDs, msg.ID)
		}
	}

	if len(messageIDs) == 0 {
		b.respondText(ctx, i, "Nothing to delete.", true)
		return
	}

	err = b.discord.session.ChannelMessagesBulkDelete(
		i.ChannelID,
		messageIDs,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error bulk deleting messages", tint.Err(err))
		b.respondText(ctx, i, b.config.Discord.ErrorMessage, true)
		return
	}

	logger.InfoContext(
		ctx,
		"cleared messages",
		"channel_id", i.ChannelID,
		"deleted", len(messageIDs),
		"filter", filter,
	)
	b.respondText(
		ctx,
		i,
		fmt.Sprintf("Deleted %d messages.", len(messageIDs)),
		true,
	)
}
