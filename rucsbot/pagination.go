package rucsbot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	tagListPageSize   = 12
	tagSearchPageSize = 20

	paginatorCustomIDPrefix = "tagpages"
	paginatorActionPrev     = "prev"
	paginatorActionNext     = "next"

	// inactive paginators are dropped after this long
	paginatorTTL = 10 * time.Minute

	paginatorSweepInterval = time.Minute
)

func generateRandomHexString(length int) string {
	buf := make([]byte, (length+1)/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:length]
}

func isPaginatorCustomID(customID string) bool {
	return strings.HasPrefix(customID, paginatorCustomIDPrefix+":")
}

// paginatorSession is one live paginated listing. Sessions are kept in
// memory only: after a restart old buttons report expiry and the user
// re-runs the command.
type paginatorSession struct {
	token     string
	title     string
	entries   []TagListEntry
	perPage   int
	page      int
	expiresAt time.Time
}

func (p *paginatorSession) pageCount() int {
	return (len(p.entries) + p.perPage - 1) / p.perPage
}

func (p *paginatorSession) embed(theme int) *discordgo.MessageEmbed {
	pages := chunkItems(p.perPage, p.entries...)
	lines := make([]string, 0, p.perPage)
	for _, entry := range pages[p.page] {
		lines = append(lines, entry.String())
	}
	return &discordgo.MessageEmbed{
		Title:       p.title,
		Description: strings.Join(lines, "\n"),
		Color:       theme,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"Page %d/%d (%d tags)",
				p.page+1,
				p.pageCount(),
				len(p.entries),
			),
		},
	}
}

func (p *paginatorSession) components() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Previous",
					Style:    discordgo.SecondaryButton,
					Disabled: p.page == 0,
					CustomID: fmt.Sprintf(
						"%s:%s:%s",
						paginatorCustomIDPrefix,
						paginatorActionPrev,
						p.token,
					),
				},
				discordgo.Button{
					Label:    "Next",
					Style:    discordgo.SecondaryButton,
					Disabled: p.page >= p.pageCount()-1,
					CustomID: fmt.Sprintf(
						"%s:%s:%s",
						paginatorCustomIDPrefix,
						paginatorActionNext,
						p.token,
					),
				},
			},
		},
	}
}

// paginatorStore tracks live paginated listings by token.
type paginatorStore struct {
	mu       sync.Mutex
	sessions map[string]*paginatorSession
	logger   *slog.Logger
}

func newPaginatorStore(logger *slog.Logger) *paginatorStore {
	return &paginatorStore{
		sessions: map[string]*paginatorSession{},
		logger:   logger,
	}
}

func (s *paginatorStore) register(p *paginatorSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[p.token] = p
}

func (s *paginatorStore) get(token string) *paginatorSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[token]
	if !ok || time.Now().After(p.expiresAt) {
		delete(s.sessions, token)
		return nil
	}
	return p
}

// turnPage advances or rewinds a session and renders the resulting page.
// Page-turn interactions arrive on separate goroutines, so the session is
// only read or written while the store mutex is held.
func (s *paginatorStore) turnPage(
	token string,
	action string,
	theme int,
) (*discordgo.MessageEmbed, []discordgo.MessageComponent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[token]
	if !ok || time.Now().After(p.expiresAt) {
		delete(s.sessions, token)
		return nil, nil, false
	}
	switch action {
	case paginatorActionPrev:
		if p.page > 0 {
			p.page--
		}
	case paginatorActionNext:
		if p.page < p.pageCount()-1 {
			p.page++
		}
	}
	p.expiresAt = time.Now().Add(paginatorTTL)
	return p.embed(theme), p.components(), true
}

// watchExpiry periodically drops expired sessions. Runs until ctx is done.
func (s *paginatorStore) watchExpiry(ctx context.Context) {
	ticker := time.NewTicker(paginatorSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for token, p := range s.sessions {
				if now.After(p.expiresAt) {
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *paginatorStore) newSession(
	title string,
	entries []TagListEntry,
	perPage int,
) *paginatorSession {
	return &paginatorSession{
		token:     generateRandomHexString(16),
		title:     title,
		entries:   entries,
		perPage:   perPage,
		expiresAt: time.Now().Add(paginatorTTL),
	}
}

// respondPaginated answers a slash command with the first page of a
// listing, attaching page-turn buttons when there is more than one page.
func (s *paginatorStore) respondPaginated(
	ctx context.Context,
	b *Bot,
	i *discordgo.InteractionCreate,
	title string,
	entries []TagListEntry,
	perPage int,
) {
	p := s.newSession(title, entries, perPage)
	var components []discordgo.MessageComponent
	if p.pageCount() > 1 {
		s.register(p)
		components = p.components()
	}
	b.respondEmbed(ctx, i, p.embed(b.config.Discord.Theme), components, false)
}

// sendPaginatedMessage is the prefix-command counterpart of
// respondPaginated, posting the listing as a channel message.
func (s *paginatorStore) sendPaginatedMessage(
	ctx context.Context,
	b *Bot,
	channelID string,
	title string,
	entries []TagListEntry,
	perPage int,
) {
	p := s.newSession(title, entries, perPage)
	var components []discordgo.MessageComponent
	if p.pageCount() > 1 {
		s.register(p)
		components = p.components()
	}
	_, err := b.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{p.embed(b.config.Discord.Theme)},
			Components: components,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "error sending paginated message", tint.Err(err))
	}
}

// handlePageTurn processes a Previous/Next button press by editing the
// original message in place.
func (s *paginatorStore) handlePageTurn(
	ctx context.Context,
	b *Bot,
	i *discordgo.InteractionCreate,
	customID string,
) {
	parts := strings.SplitN(customID, ":", 3)
	if len(parts) != 3 {
		s.logger.WarnContext(ctx, "malformed paginator custom ID", "custom_id", customID)
		return
	}
	action, token := parts[1], parts[2]

	embed, components, ok := s.turnPage(token, action, b.config.Discord.Theme)
	if !ok {
		b.respondText(ctx, i, "This listing has expired. Run the command again.", true)
		return
	}

	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{embed},
				Components: components,
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "error updating paginated message", tint.Err(err))
	}
}
