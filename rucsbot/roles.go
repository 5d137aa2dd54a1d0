package rucsbot

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	discordCommandRoles = "roles"

	rolesSubcommandPrepare = "prepare"

	rolePickCustomIDPrefix = "rolepick"

	rolePickStudent = "student"
	rolePickTeacher = "teacher"
	rolePickOther   = "other"
)

func appCommandRoles() *discordgo.ApplicationCommand {
	admin := int64(discordgo.PermissionAdministrator)
	return &discordgo.ApplicationCommand{
		Name:                     discordCommandRoles,
		Description:              "Role self-assignment",
		DefaultMemberPermissions: &admin,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        rolesSubcommandPrepare,
				Description: "Post the role picker message in this channel",
			},
		},
	}
}

func isRolePickCustomID(customID string) bool {
	return strings.HasPrefix(customID, rolePickCustomIDPrefix+":")
}

// rolePickRoleID maps a picker key to the configured role ID, or ""
// when that role isn't configured.
func (b *Bot) rolePickRoleID(key string) string {
	switch key {
	case rolePickStudent:
		return b.config.Discord.RoleStudentID
	case rolePickTeacher:
		return b.config.Discord.RoleTeacherID
	case rolePickOther:
		return b.config.Discord.RoleOtherID
	default:
		return ""
	}
}

// rolePickerComponents builds the persistent button row. Custom IDs are
// static so the buttons keep working across restarts.
func rolePickerComponents() []discordgo.MessageComponent {
	button := func(label string, key string) discordgo.Button {
		return discordgo.Button{
			Label:    label,
			Style:    discordgo.PrimaryButton,
			CustomID: fmt.Sprintf("%s:%s", rolePickCustomIDPrefix, key),
		}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				button("Student", rolePickStudent),
				button("Teacher", rolePickTeacher),
				button("Other", rolePickOther),
			},
		},
	}
}

// handleRolesCommand posts the persistent role picker. Owner only, on
// top of the admin-only default permission.
func (b *Bot) handleRolesCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	_, logger := b.getLogger(ctx)

	if !b.isOwner(user.ID) {
		b.respondText(ctx, i, "Only the bot owner can do that.", true)
		return
	}

	_, err := b.discord.session.ChannelMessageSendComplex(
		i.ChannelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Pick your role",
					Description: "Click a button to toggle the matching role.",
					Color:       b.config.Discord.Theme,
				},
			},
			Components: rolePickerComponents(),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error posting role picker", tint.Err(err))
		b.respondText(ctx, i, b.config.Discord.ErrorMessage, true)
		return
	}
	b.respondText(ctx, i, "Role picker posted.", true)
}

// handleRolePick toggles the role matching the pressed button on the
// invoking member.
func (b *Bot) handleRolePick(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	customID string,
) {
	_, logger := b.getLogger(ctx)

	key := strings.TrimPrefix(customID, rolePickCustomIDPrefix+":")
	roleID := b.rolePickRoleID(key)
	if roleID == "" {
		logger.WarnContext(ctx, "role picker key not configured", "key", key)
		b.respondText(ctx, i, "That role isn't set up yet.", true)
		return
	}
	if i.Member == nil {
		b.respondText(ctx, i, "Role picking only works in a server.", true)
		return
	}

	hasRole := slices.Contains(i.Member.Roles, roleID)
	var err error
	var verb string
	if hasRole {
		verb = "removed"
		err = b.discord.session.GuildMemberRoleRemove(
			i.GuildID,
			user.ID,
			roleID,
			discordgo.WithContext(ctx),
		)
	} else {
		verb = "added"
		err = b.discord.session.GuildMemberRoleAdd(
			i.GuildID,
			user.ID,
			roleID,
			discordgo.WithContext(ctx),
		)
	}
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error toggling role",
			tint.Err(err),
			"role_id", roleID,
			"user_id", user.ID,
		)
		b.respondText(ctx, i, b.config.Discord.ErrorMessage, true)
		return
	}

	logger.InfoContext(
		ctx,
		"toggled role",
		"role_id", roleID,
		"user_id", user.ID,
		"action", verb,
	)
	b.respondText(ctx, i, fmt.Sprintf("Role <@&%s> %s.", roleID, verb), true)
}
