package rucsbot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rolePickInteraction(userID string, memberRoles []string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionMessageComponent,
			GuildID: "42",
			Member: &discordgo.Member{
				User:  &discordgo.User{ID: userID},
				Roles: memberRoles,
			},
		},
	}
}

func TestRolePickToggle(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	bot.config.Discord.RoleStudentID = "role-student"
	ctx := context.Background()

	customID := rolePickCustomIDPrefix + ":" + rolePickStudent

	// member without the role gets it added
	bot.handleRolePick(
		ctx,
		rolePickInteraction("7", nil),
		&discordgo.User{ID: "7"},
		customID,
	)
	assert.Equal(t, []string{"role-student"}, session.roleAdds)
	assert.Empty(t, session.roleRemoves)

	// member with the role gets it removed
	bot.handleRolePick(
		ctx,
		rolePickInteraction("7", []string{"role-student"}),
		&discordgo.User{ID: "7"},
		customID,
	)
	assert.Equal(t, []string{"role-student"}, session.roleRemoves)
}

func TestRolePickUnconfigured(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	bot.handleRolePick(
		context.Background(),
		rolePickInteraction("7", nil),
		&discordgo.User{ID: "7"},
		rolePickCustomIDPrefix+":"+rolePickTeacher,
	)

	assert.Empty(t, session.roleAdds)
	resp := session.lastInteractionResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "isn't set up")
}

func TestRolesPrepareOwnerOnly(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	ctx := context.Background()

	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "42",
			ChannelID: "chan-1",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "7"},
			},
		},
	}

	// non-owner is refused
	bot.handleRolesCommand(ctx, interaction, &discordgo.User{ID: "7"})
	assert.Empty(t, session.sentComplex)

	// the configured owner posts the picker
	bot.handleRolesCommand(ctx, interaction, &discordgo.User{ID: "100"})
	require.Len(t, session.sentComplex, 1)
	require.Len(t, session.sentComplex[0].Components, 1)
	row, ok := session.sentComplex[0].Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	assert.Len(t, row.Components, 3)
	for _, c := range row.Components {
		button := c.(discordgo.Button)
		assert.True(t, isRolePickCustomID(button.CustomID))
	}
}
