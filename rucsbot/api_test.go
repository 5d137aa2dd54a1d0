package rucsbot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiRequest(t testing.TB, bot *Bot, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, req)
	return w
}

func TestAPIHealthz(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	w := apiRequest(t, bot, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAPIStatus(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	bot.startedAt = time.Now().Add(-time.Minute)
	bot.discord.connected.Store(true)

	w := apiRequest(t, bot, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Connected)
	assert.Equal(t, 1, status.GuildCount)
	assert.False(t, status.Maintenance)
	assert.Greater(t, status.UptimeSeconds, 59.0)
	assert.Equal(t, Version, status.Version)
}

func TestAPITagStats(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	for _, name := range []string{"one", "two"} {
		_, err := bot.tags.Create(ctx, "42", "7", name, "content")
		require.NoError(t, err)
	}
	_, err := bot.tags.Create(ctx, "43", "7", "one", "content")
	require.NoError(t, err)

	w := apiRequest(t, bot, "/api/tags/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Total  int64           `json:"total"`
		Guilds []GuildTagCount `json:"guilds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, int64(3), payload.Total)
	require.Len(t, payload.Guilds, 2)
	assert.Equal(t, "42", payload.Guilds[0].GuildID)
	assert.Equal(t, int64(2), payload.Guilds[0].Count)
}
