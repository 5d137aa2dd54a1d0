package rucsbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleMessage dispatches prefixed text commands ("!tag ...", "!ping").
// Slash commands are the primary surface; the prefix form is kept for
// muscle memory.
func (b *Bot) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	defer func() {
		b.handleRecover(ctx, recover())
	}()

	if m.Author == nil || m.Author.Bot {
		return
	}

	var rest string
	var matched bool
	for _, prefix := range b.config.Discord.MessagePrefixes {
		if strings.HasPrefix(m.Content, prefix) {
			rest = strings.TrimPrefix(m.Content, prefix)
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	fields := splitQuoted(rest)
	if len(fields) == 0 {
		return
	}

	ctx, logger := b.getLogger(ctx)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case discordCommandTag, discordCommandPing, commandMaintenance:
	default:
		// not a command we answer to; stay quiet so other bots
		// sharing a prefix don't collide with us
		return
	}

	logger.InfoContext(
		ctx,
		"received prefix command",
		"command_name", command,
		"user_id", m.Author.ID,
		"guild_id", m.GuildID,
	)
	b.logCommand(ctx, "message", command, m.GuildID, m.ChannelID, m.ID, m.Author)

	if b.maintenance.Load() && !b.isOwner(m.Author.ID) {
		return
	}
	if !b.cooldowns.allow(m.Author.ID, b.isOwner(m.Author.ID)) {
		return
	}

	switch command {
	case discordCommandTag:
		b.handleTagMessage(ctx, m, args)
	case discordCommandPing:
		b.replyMessage(ctx, m, fmt.Sprintf(
			"Pong! Heartbeat latency: %dms",
			b.discord.session.HeartbeatLatency().Milliseconds(),
		))
	case commandMaintenance:
		b.handleMaintenanceMessage(ctx, m, args)
	}
}

const commandMaintenance = "maintenance"

// handleMaintenanceMessage toggles maintenance mode. Owner only; while
// set, everyone else's commands are silently dropped.
func (b *Bot) handleMaintenanceMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if !b.isOwner(m.Author.ID) {
		return
	}
	if len(args) != 1 {
		b.replyMessage(ctx, m, "Usage: maintenance <on|off>")
		return
	}
	switch strings.ToLower(args[0]) {
	case "on":
		b.Maintenance(true)
		b.replyMessage(ctx, m, "Maintenance mode enabled.")
	case "off":
		b.Maintenance(false)
		b.replyMessage(ctx, m, "Maintenance mode disabled.")
	default:
		b.replyMessage(ctx, m, "Usage: maintenance <on|off>")
	}
}

// handleTagMessage parses the prefix form of the tag command. The first
// argument selects a subcommand; anything else is treated as a tag name
// to fetch, so "!tag hello world" works like "!tag get hello world".
func (b *Bot) handleTagMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if m.GuildID == "" {
		b.replyMessage(ctx, m, "Tags only work in a server.")
		return
	}
	if len(args) == 0 {
		b.replyMessage(ctx, m, "Usage: tag <name>, or tag <get|create|edit|remove|rename|list|search|info> ...")
		return
	}

	req := tagRequest{
		guildID:  m.GuildID,
		user:     m.Author,
		override: b.messageAuthorCanOverride(m),
		respond: func(content string, _ bool) {
			b.replyMessage(ctx, m, content)
		},
		respondPages: func(title string, entries []TagListEntry, perPage int) {
			b.pager.sendPaginatedMessage(ctx, b, m.ChannelID, title, entries, perPage)
		},
		respondEmbed: func(embed *discordgo.MessageEmbed) {
			if embed.Color == 0 {
				embed.Color = b.config.Discord.Theme
			}
			_, err := b.discord.session.ChannelMessageSendComplex(
				m.ChannelID,
				&discordgo.MessageSend{
					Embeds:    []*discordgo.MessageEmbed{embed},
					Reference: m.Reference(),
				},
				discordgo.WithContext(ctx),
			)
			if err != nil {
				b.logger.ErrorContext(ctx, "error sending embed", tint.Err(err))
			}
		},
	}

	sub := strings.ToLower(args[0])
	switch sub {
	case tagSubcommandGet:
		req.subcommand = tagSubcommandGet
		req.name = strings.Join(args[1:], " ")
	case tagSubcommandCreate, tagSubcommandEdit:
		if len(args) < 3 {
			b.replyMessage(ctx, m, fmt.Sprintf(
				"Usage: tag %s \"name\" content", sub,
			))
			return
		}
		req.subcommand = sub
		req.name = args[1]
		req.content = strings.Join(args[2:], " ")
	case tagSubcommandRemove, tagSubcommandInfo:
		req.subcommand = sub
		req.name = strings.Join(args[1:], " ")
	case tagSubcommandRename:
		if len(args) != 3 {
			b.replyMessage(ctx, m, "Usage: tag rename \"old name\" \"new name\"")
			return
		}
		req.subcommand = tagSubcommandRename
		req.name = args[1]
		req.newName = args[2]
	case tagSubcommandList:
		req.subcommand = tagSubcommandList
		if len(args) > 1 {
			req.memberID = parseUserMention(args[1])
			if req.memberID == "" {
				b.replyMessage(ctx, m, "Usage: tag list [@member]")
				return
			}
		}
	case tagSubcommandSearch:
		req.subcommand = tagSubcommandSearch
		req.query = strings.Join(args[1:], " ")
	default:
		// bare "!tag <name>" retrieves the tag
		req.subcommand = tagSubcommandGet
		req.name = strings.Join(args, " ")
	}

	if req.subcommand == tagSubcommandGet && strings.TrimSpace(req.name) == "" {
		b.replyMessage(ctx, m, "Which tag?")
		return
	}

	b.executeTagRequest(ctx, req)
}

func (b *Bot) messageAuthorCanOverride(m *discordgo.MessageCreate) bool {
	if b.isOwner(m.Author.ID) {
		return true
	}
	return m.Member != nil && m.Member.Permissions&discordgo.PermissionManageMessages != 0
}

func (b *Bot) replyMessage(ctx context.Context, m *discordgo.MessageCreate, content string) {
	_, err := b.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		truncate(content, discordMaxMessageLength),
		m.Reference(),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error sending reply", tint.Err(err))
	}
}

// parseUserMention extracts the user ID from a <@123> or <@!123> mention,
// also accepting a bare numeric ID.
func parseUserMention(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
		s = strings.TrimPrefix(s, "!")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if s == "" {
		return ""
	}
	return s
}
