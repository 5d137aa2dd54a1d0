package rucsbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	discordCommandTag = "tag"

	tagSubcommandGet    = "get"
	tagSubcommandCreate = "create"
	tagSubcommandEdit   = "edit"
	tagSubcommandRemove = "remove"
	tagSubcommandRename = "rename"
	tagSubcommandList   = "list"
	tagSubcommandSearch = "search"
	tagSubcommandInfo   = "info"

	tagOptionName    = "name"
	tagOptionContent = "content"
	tagOptionNewName = "new-name"
	tagOptionMember  = "member"
	tagOptionQuery   = "query"
)

// tagReservedNames are words that cannot start a tag name, so that a tag
// can never shadow a subcommand in the prefix form.
var tagReservedNames = map[string]bool{
	tagSubcommandGet:    true,
	tagSubcommandCreate: true,
	tagSubcommandEdit:   true,
	tagSubcommandRemove: true,
	tagSubcommandRename: true,
	tagSubcommandList:   true,
	tagSubcommandSearch: true,
	tagSubcommandInfo:   true,
}

func appCommandTag() *discordgo.ApplicationCommand {
	nameOption := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        tagOptionName,
			Description: desc,
			Required:    true,
			MaxLength:   tagNameMaxLength,
		}
	}
	contentOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        tagOptionContent,
		Description: "Tag content",
		Required:    true,
		MaxLength:   discordMaxMessageLength,
	}
	return &discordgo.ApplicationCommand{
		Name:        discordCommandTag,
		Description: "Named text snippets for this server",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandGet,
				Description: "Show a tag's content",
				Options: []*discordgo.ApplicationCommandOption{
					nameOption("Tag name"),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandCreate,
				Description: "Create a new tag you own",
				Options: []*discordgo.ApplicationCommandOption{
					nameOption("Tag name"),
					contentOption,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandEdit,
				Description: "Edit a tag you own",
				Options: []*discordgo.ApplicationCommandOption{
					nameOption("Tag name"),
					contentOption,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandRemove,
				Description: "Remove a tag you own",
				Options: []*discordgo.ApplicationCommandOption{
					nameOption("Tag name"),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandRename,
				Description: "Rename a tag you own",
				Options: []*discordgo.ApplicationCommandOption{
					nameOption("Current tag name"),
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        tagOptionNewName,
						Description: "New tag name",
						Required:    true,
						MaxLength:   tagNameMaxLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandList,
				Description: "List tags, optionally filtered by owner",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        tagOptionMember,
						Description: "Only show tags owned by this member",
						Required:    false,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandSearch,
				Description: "Search tags by name",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        tagOptionQuery,
						Description: "Search query (at least 3 characters)",
						Required:    true,
						MaxLength:   tagNameMaxLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        tagSubcommandInfo,
				Description: "Show a tag's owner and creation time",
				Options: []*discordgo.ApplicationCommandOption{
					nameOption("Tag name"),
				},
			},
		},
	}
}

// validateTagName normalizes a tag name and rejects names that are empty,
// too long, or start with a reserved subcommand word.
func validateTagName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("tag name is empty")
	}
	if utf8.RuneCountInString(name) > tagNameMaxLength {
		return "", fmt.Errorf("tag name is too long (max %d characters)", tagNameMaxLength)
	}
	firstWord := strings.ToLower(strings.Fields(name)[0])
	if tagReservedNames[firstWord] {
		return "", fmt.Errorf("tag name can't start with the reserved word %q", firstWord)
	}
	return name, nil
}

func validateTagContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("tag content is empty")
	}
	if utf8.RuneCountInString(content) > discordMaxMessageLength {
		return "", fmt.Errorf(
			"tag content is too long (max %d characters)",
			discordMaxMessageLength,
		)
	}
	return content, nil
}

// canOverrideTagOwnership reports whether the member invoking the
// interaction may edit or remove tags owned by other members.
func (b *Bot) canOverrideTagOwnership(i *discordgo.InteractionCreate, user *discordgo.User) bool {
	if b.isOwner(user.ID) {
		return true
	}
	if i.Member != nil && i.Member.Permissions&discordgo.PermissionManageMessages != 0 {
		return true
	}
	return false
}

// renderTagError translates repository errors into user-facing messages.
// Unexpected errors get a generic message, with the detail kept in the log.
func (b *Bot) renderTagError(ctx context.Context, err error) string {
	var suggestErr *TagSuggestionError
	var storageErr *StorageError

	switch {
	case errors.As(err, &suggestErr):
		lines := make([]string, 0, len(suggestErr.Candidates)+1)
		lines = append(
			lines,
			fmt.Sprintf("Tag %q not found. Did you mean one of these?", suggestErr.Query),
		)
		lines = append(lines, suggestErr.Candidates...)
		return strings.Join(lines, "\n")
	case errors.Is(err, ErrTagNotFound):
		return "That tag doesn't exist."
	case errors.Is(err, ErrTagExists):
		return "A tag with that name already exists."
	case errors.Is(err, ErrTagForbidden):
		return "That tag doesn't exist, or you don't own it."
	case errors.Is(err, ErrSameTagName):
		return "The new name is the same as the current one."
	case errors.Is(err, ErrQueryTooShort):
		return fmt.Sprintf(
			"Search queries must be at least %d characters.",
			tagSearchMinQueryLength,
		)
	case errors.As(err, &storageErr):
		b.logger.ErrorContext(ctx, "tag storage error", tint.Err(err))
		return b.config.Discord.ErrorMessage
	default:
		b.logger.ErrorContext(ctx, "unexpected tag error", tint.Err(err))
		return b.config.Discord.ErrorMessage
	}
}

// tagRequest carries one parsed tag operation, whether it arrived as a
// slash command or a prefixed message.
type tagRequest struct {
	subcommand string
	name       string
	content    string
	newName    string
	query      string
	memberID   string
	guildID    string
	user       *discordgo.User
	override   bool

	// respond delivers the outcome back over whichever transport the
	// request came in on
	respond func(content string, ephemeral bool)
	// respondPages starts a paginated listing
	respondPages func(title string, entries []TagListEntry, perPage int)
	// respondEmbed sends a single themed embed
	respondEmbed func(embed *discordgo.MessageEmbed)
}

func (b *Bot) handleTagCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	_, logger := b.getLogger(ctx)

	if i.GuildID == "" {
		b.respondText(ctx, i, "Tags only work in a server.", true)
		return
	}

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		logger.ErrorContext(ctx, "tag command with no subcommand")
		return
	}
	sub := data.Options[0]
	opts := subCommandOptions(sub)

	req := tagRequest{
		subcommand: sub.Name,
		guildID:    i.GuildID,
		user:       user,
		override:   b.canOverrideTagOwnership(i, user),
		respond: func(content string, ephemeral bool) {
			b.respondText(ctx, i, content, ephemeral)
		},
		respondPages: func(title string, entries []TagListEntry, perPage int) {
			b.pager.respondPaginated(ctx, b, i, title, entries, perPage)
		},
		respondEmbed: func(embed *discordgo.MessageEmbed) {
			b.respondEmbed(ctx, i, embed, nil, false)
		},
	}
	if opt, ok := opts[tagOptionName]; ok {
		req.name = opt.StringValue()
	}
	if opt, ok := opts[tagOptionContent]; ok {
		req.content = opt.StringValue()
	}
	if opt, ok := opts[tagOptionNewName]; ok {
		req.newName = opt.StringValue()
	}
	if opt, ok := opts[tagOptionQuery]; ok {
		req.query = opt.StringValue()
	}
	if opt, ok := opts[tagOptionMember]; ok {
		req.memberID = opt.Value.(string)
	}

	b.executeTagRequest(ctx, req)
}

// executeTagRequest runs a parsed tag operation against the repository and
// delivers the result via the request's respond callbacks.
func (b *Bot) executeTagRequest(ctx context.Context, req tagRequest) {
	ctx, logger := b.getLogger(ctx)
	logger = logger.With(
		slog.Group(
			"tag_request",
			"subcommand", req.subcommand,
			"guild_id", req.guildID,
			"user_id", req.user.ID,
		),
	)
	ctx = WithLogger(ctx, logger)

	switch req.subcommand {
	case tagSubcommandGet:
		tag, err := b.tags.Get(ctx, req.guildID, req.name)
		if err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		req.respond(tag.Content, false)
	case tagSubcommandCreate:
		name, err := validateTagName(req.name)
		if err != nil {
			req.respond(err.Error(), true)
			return
		}
		content, err := validateTagContent(req.content)
		if err != nil {
			req.respond(err.Error(), true)
			return
		}
		tag, err := b.tags.Create(ctx, req.guildID, req.user.ID, name, content)
		if err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		logger.InfoContext(ctx, "tag created", "tag", tag)
		req.respond(fmt.Sprintf("Tag %q created.", tag.Name), false)
	case tagSubcommandEdit:
		content, err := validateTagContent(req.content)
		if err != nil {
			req.respond(err.Error(), true)
			return
		}
		if err = b.tags.Edit(
			ctx, req.guildID, req.user.ID, req.name, content,
		); err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		logger.InfoContext(ctx, "tag edited", "tag_name", req.name)
		req.respond(fmt.Sprintf("Tag %q updated.", req.name), false)
	case tagSubcommandRemove:
		name, err := b.tags.Remove(ctx, req.guildID, req.user.ID, req.override, req.name)
		if err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		logger.InfoContext(ctx, "tag removed", "tag_name", name)
		req.respond(fmt.Sprintf("Tag %q removed.", name), false)
	case tagSubcommandRename:
		newName, err := validateTagName(req.newName)
		if err != nil {
			req.respond(err.Error(), true)
			return
		}
		if err = b.tags.Rename(
			ctx, req.guildID, req.user.ID, req.override, req.name, newName,
		); err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		logger.InfoContext(ctx, "tag renamed", "tag_name", req.name, "new_name", newName)
		req.respond(fmt.Sprintf("Tag %q renamed to %q.", req.name, newName), false)
	case tagSubcommandList:
		entries, err := b.tags.List(ctx, req.guildID, req.memberID)
		if err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		if len(entries) == 0 {
			req.respond("No tags found.", true)
			return
		}
		title := "Tags"
		if req.memberID != "" {
			title = fmt.Sprintf("Tags owned by <@%s>", req.memberID)
		}
		req.respondPages(title, entries, tagListPageSize)
	case tagSubcommandSearch:
		entries, err := b.tags.Search(ctx, req.guildID, req.query)
		if err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		if len(entries) == 0 {
			req.respond("No tags matched your query.", true)
			return
		}
		req.respondPages(
			fmt.Sprintf("Tags matching %q", req.query),
			entries,
			tagSearchPageSize,
		)
	case tagSubcommandInfo:
		tag, err := b.tags.Info(ctx, req.guildID, req.name)
		if err != nil {
			req.respond(b.renderTagError(ctx, err), true)
			return
		}
		req.respondEmbed(tagInfoEmbed(tag))
	default:
		logger.WarnContext(ctx, "unknown tag subcommand")
	}
}

func tagInfoEmbed(tag *Tag) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: tag.Name,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Owner",
				Value:  fmt.Sprintf("<@%s>", tag.OwnerID),
				Inline: true,
			},
			{
				Name:   "Tag ID",
				Value:  fmt.Sprintf("%d", tag.ID),
				Inline: true,
			},
			{
				Name: "Created",
				Value: fmt.Sprintf(
					"<t:%d:R>",
					tag.CreatedAt.UTC().Unix(),
				),
				Inline: true,
			},
		},
		Timestamp: tag.CreatedAt.UTC().Format(time.RFC3339),
	}
}
