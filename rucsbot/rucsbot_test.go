package rucsbot

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

// gormDB returns a migrated sqlite database in a per-test temp dir.
func gormDB(t testing.TB) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")
	db, err := CreateDB(context.Background(), dbTypeSQLite, dbPath, nil)
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, e := db.DB()
			if e == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

// mockDiscordSession implements DiscordSessionHandler, recording outgoing
// payloads so tests can assert on what the bot would have sent.
type mockDiscordSession struct {
	mu sync.Mutex

	sentMessages         []string
	sentComplex          []*discordgo.MessageSend
	interactionResponses []*discordgo.InteractionResponse
	bulkDeleted          [][]string
	roleAdds             []string
	roleRemoves          []string

	channelMessages []*discordgo.Message
	latency         time.Duration
	guildCount      int
}

var _ DiscordSessionHandler = (*mockDiscordSession)(nil)

func (m *mockDiscordSession) Open() error  { return nil }
func (m *mockDiscordSession) Close() error { return nil }

func (m *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (m *mockDiscordSession) ChannelMessageSend(
	_ string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, message)
	return &discordgo.Message{Content: message}, nil
}

func (m *mockDiscordSession) ChannelMessageSendReply(
	_ string,
	content string,
	_ *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, content)
	return &discordgo.Message{Content: content}, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	_ string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentComplex = append(m.sentComplex, data)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) ChannelMessages(
	_ string,
	limit int,
	_ string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.channelMessages) {
		limit = len(m.channelMessages)
	}
	return m.channelMessages[:limit], nil
}

func (m *mockDiscordSession) ChannelMessagesBulkDelete(
	_ string,
	messages []string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkDeleted = append(m.bulkDeleted, messages)
	return nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactionResponses = append(m.interactionResponses, resp)
	return nil
}

func (m *mockDiscordSession) GuildMemberRoleAdd(
	_ string,
	_ string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleAdds = append(m.roleAdds, roleID)
	return nil
}

func (m *mockDiscordSession) GuildMemberRoleRemove(
	_ string,
	_ string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleRemoves = append(m.roleRemoves, roleID)
	return nil
}

func (m *mockDiscordSession) UpdateCustomStatus(_ string) error { return nil }

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return m.latency
}

func (m *mockDiscordSession) GuildCount() int {
	return m.guildCount
}

func (m *mockDiscordSession) BotUser() *discordgo.User {
	return &discordgo.User{ID: "bot", Username: "rucsbot", Bot: true}
}

func (m *mockDiscordSession) SetHTTPClient(_ *http.Client) {}

func (m *mockDiscordSession) SetLogLevel(_ slog.Level) error { return nil }

// lastInteractionResponse returns the most recent interaction response, or
// nil if none were sent.
func (m *mockDiscordSession) lastInteractionResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.interactionResponses) == 0 {
		return nil
	}
	return m.interactionResponses[len(m.interactionResponses)-1]
}

func TestShutdownDrainsHandlers(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	var finished atomic.Bool
	bot.handlerWG.Add(1)
	go func() {
		defer bot.handlerWG.Done()
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	}()

	require.NoError(t, bot.shutdown(&sync.WaitGroup{}))
	// shutdown only returns once in-flight handlers have finished
	require.True(t, finished.Load())
}

// newTestBot returns a Bot wired to a temp sqlite database and a mock
// discord session.
func newTestBot(t testing.TB) (*Bot, *mockDiscordSession) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-app"
	cfg.Discord.OwnerID = "100"
	cfg.API.Enabled = false
	cfg.CommandCooldown = 0

	bot, err := New(cfg)
	require.NoError(t, err)

	bot.db = gormDB(t)
	bot.tags = NewTagRepo(bot.db, bot.logger)

	session := &mockDiscordSession{latency: 42 * time.Millisecond, guildCount: 1}
	bot.discord.session = session
	return bot, session
}
