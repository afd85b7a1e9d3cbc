package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/authz"
	"github.com/ernie/warden/internal/breaker"
	"github.com/ernie/warden/internal/dispatch"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/engine"
	"github.com/ernie/warden/internal/fanout"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/storage"
)

type fakeExecutor struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeExecutor) ServerID() int64 { return 1 }

func (f *fakeExecutor) Execute(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return "ok\n", nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeConns struct {
	mu      sync.Mutex
	targets map[int64]domain.ServerTarget
}

func (c *fakeConns) Upsert(t domain.ServerTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[t.ID] = t
}

func (c *fakeConns) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.targets, id)
}

func (c *fakeConns) States() []rcon.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []rcon.ConnState
	for id, t := range c.targets {
		out = append(out, rcon.ConnState{ServerID: id, Name: t.Name, State: domain.ConnStateOnline})
	}
	return out
}

func (c *fakeConns) State(id int64) (rcon.ConnState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.targets[id]
	return rcon.ConnState{ServerID: id, Name: t.Name, State: domain.ConnStateOnline}, ok
}

type fakeLive struct {
	mu      sync.Mutex
	watched map[int64]bool
}

func (l *fakeLive) Watch(_ context.Context, t domain.ServerTarget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watched[t.ID] = true
}

func (l *fakeLive) Unwatch(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.watched, id)
}

func (l *fakeLive) isWatched(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watched[id]
}

func (l *fakeLive) Players(int64) []domain.Player {
	return []domain.Player{
		{Slot: 2, Name: "Bravo", StrippedName: "Bravo"},
		{Slot: 3, Name: "^1Camper", StrippedName: "Camper", GUID: "GUID-CAMPER"},
		{Slot: 4, Name: "Echo", StrippedName: "Echo"},
	}
}

func (l *fakeLive) Status(id int64) (domain.ServerStatus, bool) {
	players := l.Players(id)
	return domain.ServerStatus{ServerID: id, Players: players, PlayerCount: len(players)}, true
}

type testAPI struct {
	srv    *httptest.Server
	store  *storage.Store
	exec   *fakeExecutor
	conns  *fakeConns
	live   *fakeLive
	hub    *fanout.Hub
	tokens map[string]string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := storage.New(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Seed(ctx, dispatch.DefaultCommands()))

	primary := domain.ServerTarget{Name: "main", Host: "127.0.0.1", RconPort: 28960, MaxPlayers: 24, IsActive: true, IsDefault: true}
	require.NoError(t, store.CreateServer(ctx, &primary))

	a := &testAPI{
		store:  store,
		exec:   &fakeExecutor{},
		conns:  &fakeConns{targets: map[int64]domain.ServerTarget{primary.ID: primary}},
		live:   &fakeLive{watched: make(map[int64]bool)},
		hub:    fanout.NewHub(fanout.HubOptions{RingSize: 16}),
		tokens: make(map[string]string),
	}
	t.Cleanup(a.hub.Close)

	br := breaker.New(breaker.Config{
		Window:             time.Minute,
		AggregateThreshold: 5,
		ActorThreshold:     3,
		Cooldown:           10 * time.Minute,
		Watched:            []string{"ban", "tempban", "kick"},
	}, store, nil)
	acquire := func(context.Context, int64) (dispatch.Executor, error) { return a.exec, nil }
	pub := fanout.NewPublisher(a.hub)
	eng := engine.New(dispatch.NewRegistry(), authz.New(br), br, breaker.NewThrottle(2*time.Second),
		dispatch.NewDispatcher(acquire, dispatch.PlayerMatcher{Strategy: dispatch.ExactThenUnique}, store),
		store, a.live, pub)
	require.NoError(t, eng.Load(ctx))

	authService := auth.NewService("test-secret", time.Hour)
	for _, u := range []struct{ name, group string }{
		{"olivia", "owner"},
		{"mo", "moderator"},
		{"gus", "guest"},
	} {
		hash, err := auth.HashPassword("password-" + u.name)
		require.NoError(t, err)
		user, err := store.CreateUser(ctx, u.name, hash, nil, []string{u.group})
		require.NoError(t, err)
		token, err := authService.GenerateToken(user.ID, user.Username, user.Groups)
		require.NoError(t, err)
		a.tokens[u.name] = token
	}

	router := NewRouter(ctx, Deps{
		Store:    store,
		Engine:   eng,
		Breaker:  br,
		Conns:    a.conns,
		Live:     a.live,
		Hub:      a.hub,
		Webhooks: fanout.NewWebhooks(store, fanout.WebhookOptions{}),
		Auth:     authService,
	})
	a.srv = httptest.NewServer(router)
	t.Cleanup(a.srv.Close)
	return a
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) (int, response) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[user])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func errorCode(r response) string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Code
}

func TestLogin(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "POST", "/api/auth/login", "", LoginRequest{Username: "mo", Password: "password-mo"})
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, 50, login.Power)
	assert.Equal(t, []string{"moderator"}, login.Groups)
	assert.Contains(t, login.Permissions, domain.PermRconKick)

	status, resp = a.do(t, "POST", "/api/auth/login", "", LoginRequest{Username: "mo", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, resp.Success)
	assert.Equal(t, "UNAUTHORIZED", errorCode(resp))
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "GET", "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(resp))

	status, resp = a.do(t, "GET", "/api/audit/logs", "gus", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", errorCode(resp))
}

func TestKickAndBan(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "POST", "/api/rcon/kick", "mo", ModerationRequest{Player: "Camper", Reason: "spawn camping"})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	var out engine.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "clientkick 3 spawn camping", out.Rcon)
	assert.Equal(t, "ok\n", out.Response)

	status, resp = a.do(t, "POST", "/api/rcon/ban", "mo", ModerationRequest{Player: "Camper"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", errorCode(resp))

	status, resp = a.do(t, "POST", "/api/rcon/kick", "mo", ModerationRequest{Player: "camper"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "THROTTLED", errorCode(resp))

	status, resp = a.do(t, "POST", "/api/rcon/kick", "mo", ModerationRequest{Player: "ech"})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	status, resp = a.do(t, "POST", "/api/rcon/kick", "mo", ModerationRequest{Player: "nobody"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "UNRESOLVED_PLACEHOLDER", errorCode(resp))

	assert.Equal(t, []string{"clientkick 3 spawn camping", "clientkick 4"}, a.exec.commands())
}

func TestTempBans(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "POST", "/api/rcon/tempban", "mo", TempBanRequest{Player: "Camper", Duration: "2h", Reason: "wallhack"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", errorCode(resp))

	status, resp = a.do(t, "POST", "/api/rcon/tempban", "olivia", TempBanRequest{Player: "Camper", Duration: "2h", Reason: "bye;quit"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", errorCode(resp))

	status, resp = a.do(t, "POST", "/api/rcon/tempban", "olivia", TempBanRequest{Player: "Camper", Duration: "2h", Reason: "wallhack"})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	assert.Equal(t, []string{"tempban 3 120m wallhack"}, a.exec.commands())

	status, resp = a.do(t, "GET", "/api/tempbans", "mo", nil)
	require.Equal(t, http.StatusOK, status)
	var bans []domain.TempBan
	require.NoError(t, json.Unmarshal(resp.Data, &bans))
	require.Len(t, bans, 1)
	assert.Equal(t, "GUID-CAMPER", bans[0].GUID)
	assert.Equal(t, "olivia", bans[0].BannedBy)
	assert.Equal(t, "wallhack", bans[0].Reason)

	path := "/api/tempbans/" + strconv.FormatInt(bans[0].ID, 10)
	status, _ = a.do(t, "DELETE", path, "mo", nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = a.do(t, "DELETE", path, "olivia", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, "DELETE", path, "olivia", nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, resp = a.do(t, "GET", "/api/tempbans", "mo", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &bans))
	assert.Empty(t, bans)
}

func TestRawCommandNeedsPermission(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "POST", "/api/rcon/command", "mo", RconRequest{Command: "g_gametype war"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", errorCode(resp))

	status, _ = a.do(t, "POST", "/api/rcon/command", "olivia", RconRequest{Command: "g_gametype   war"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"g_gametype war"}, a.exec.commands())
}

func TestEmergencyDisableAndReenable(t *testing.T) {
	a := newTestAPI(t)

	status, _ := a.do(t, "POST", "/api/emergency/disable/kick", "mo", DisableRequest{Reason: "nope"})
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := a.do(t, "POST", "/api/emergency/disable/kick", "olivia", DisableRequest{Reason: "kick abuse", DurationMinutes: 5})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	status, resp = a.do(t, "POST", "/api/rcon/kick", "mo", ModerationRequest{Player: "Camper"})
	assert.Equal(t, http.StatusLocked, status)
	assert.Equal(t, "COMMAND_DISABLED", errorCode(resp))

	status, resp = a.do(t, "GET", "/api/emergency/disabled", "mo", nil)
	require.Equal(t, http.StatusOK, status)
	var disabled []domain.EmergencyShutdown
	require.NoError(t, json.Unmarshal(resp.Data, &disabled))
	require.Len(t, disabled, 1)
	assert.Equal(t, "kick", disabled[0].Command)
	assert.Equal(t, "olivia", disabled[0].DisabledBy)
	assert.True(t, disabled[0].AutoReenable)

	status, _ = a.do(t, "POST", "/api/emergency/reenable/kick", "olivia", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, "POST", "/api/rcon/kick", "mo", ModerationRequest{Player: "Echo"})
	assert.Equal(t, http.StatusOK, status)

	status, resp = a.do(t, "POST", "/api/emergency/disable/nosuch", "olivia", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(resp))
}

func TestCommandsAPI(t *testing.T) {
	a := newTestAPI(t)

	slay := domain.CustomCommand{
		Name: "slay", Usage: "!slay <player>", RconTemplate: "killplayer {playerId:arg0}",
		MinArgs: 1, MaxArgs: 1, MinPower: 50, RequirementType: domain.RequirePower, Enabled: true,
	}

	status, _ := a.do(t, "POST", "/api/commands", "mo", slay)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := a.do(t, "POST", "/api/commands", "olivia", slay)
	require.Equal(t, http.StatusCreated, status, "%+v", resp.Error)

	status, resp = a.do(t, "GET", "/api/commands/slay", "mo", nil)
	require.Equal(t, http.StatusOK, status)
	var got domain.CustomCommand
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, slay.RconTemplate, got.RconTemplate)
	assert.False(t, got.IsBuiltIn)

	kick := dispatch.DefaultCommands()[0]
	kick.MinPower = 0
	status, resp = a.do(t, "PUT", "/api/commands/kick", "olivia", kick)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "BUILT_IN_IMMUTABLE", errorCode(resp))

	bad := slay
	bad.Name = "broken"
	bad.RconTemplate = "say {nope}"
	status, resp = a.do(t, "POST", "/api/commands", "olivia", bad)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_TEMPLATE", errorCode(resp))

	status, _ = a.do(t, "DELETE", "/api/commands/slay", "olivia", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(t, "GET", "/api/commands/slay", "mo", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServersAPI(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "POST", "/api/servers", "olivia", ServerRequest{
		Name: "hardcore", Host: "10.0.0.9", RconPassword: "pw", GameLogPath: "/tmp/games_mp.log",
	})
	require.Equal(t, http.StatusCreated, status, "%+v", resp.Error)
	var srv domain.ServerTarget
	require.NoError(t, json.Unmarshal(resp.Data, &srv))
	assert.Equal(t, 28960, srv.RconPort)
	assert.True(t, srv.IsActive)
	assert.True(t, a.live.isWatched(srv.ID))
	_, ok := a.conns.State(srv.ID)
	assert.True(t, ok)
	assert.NotContains(t, string(resp.Data), "pw", "password is never serialized")

	status, _ = a.do(t, "DELETE", "/api/servers/"+jsonID(srv.ID), "olivia", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, a.live.isWatched(srv.ID))
	_, ok = a.conns.State(srv.ID)
	assert.False(t, ok)

	status, _ = a.do(t, "GET", "/api/servers", "mo", nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func jsonID(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}

func TestWebhooksAPI(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "POST", "/api/webhooks", "olivia", WebhookRequest{
		Name: "discord", URL: "https://example.com/hook", Events: []string{"player.exploded"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", errorCode(resp))

	status, _ = a.do(t, "POST", "/api/webhooks", "olivia", WebhookRequest{
		Name: "discord", URL: "ftp://example.com", Events: []string{domain.EventPlayerBanned},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = a.do(t, "POST", "/api/webhooks", "olivia", WebhookRequest{
		Name: "discord", URL: "https://example.com/hook", Secret: "s3cret",
		Events: []string{domain.EventPlayerBanned, domain.EventSecurityAlert},
	})
	require.Equal(t, http.StatusCreated, status, "%+v", resp.Error)
	var ep domain.WebhookEndpoint
	require.NoError(t, json.Unmarshal(resp.Data, &ep))
	assert.Equal(t, 3, ep.MaxRetries)
	assert.Equal(t, 30*time.Second, ep.RetryDelay)
	assert.True(t, ep.Active)
	assert.NotContains(t, string(resp.Data), "s3cret")

	status, _ = a.do(t, "GET", "/api/webhooks/"+jsonID(ep.ID)+"/deliveries", "olivia", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, "GET", "/api/webhooks/999/deliveries", "olivia", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAuditLogs(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, "POST", "/api/rcon/kick", "mo", ModerationRequest{Player: "Camper"})
	a.do(t, "POST", "/api/rcon/ban", "mo", ModerationRequest{Player: "Camper"})

	status, resp := a.do(t, "GET", "/api/audit/logs?success=false", "olivia", nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Entries []domain.CommandExecution `json:"entries"`
		Total   int                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", page.Entries[0].ErrorCode)
	assert.Equal(t, "mo", page.Entries[0].ActorName)

	status, resp = a.do(t, "GET", "/api/rcon/history", "olivia", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, 2, page.Total)

	status, _ = a.do(t, "GET", "/api/audit/logs?since=yesterday", "olivia", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuditStream(t *testing.T) {
	a := newTestAPI(t)
	a.hub.Publish(domain.NewEvent(domain.EventPlayerBanned, 1, domain.ModerationEvent{Target: "Camper"}))

	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/audit/stream"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+a.tokens["mo"], nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+a.tokens["olivia"], nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, domain.EventPlayerBanned, ev.Type)
}

func TestStatusAndStats(t *testing.T) {
	a := newTestAPI(t)

	status, resp := a.do(t, "GET", "/api/status", "mo", nil)
	require.Equal(t, http.StatusOK, status)
	var views []ServerView
	require.NoError(t, json.Unmarshal(resp.Data, &views))
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Live)
	assert.Equal(t, 3, views[0].Live.PlayerCount)
	assert.Equal(t, domain.ConnStateOnline, views[0].Live.State)

	for _, scope := range []string{"server", "system", "players"} {
		status, resp = a.do(t, "GET", "/api/rcon/stats/"+scope, "mo", nil)
		assert.Equal(t, http.StatusOK, status, scope)
	}
	status, _ = a.do(t, "GET", "/api/rcon/stats/galaxy", "mo", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, resp = a.do(t, "GET", "/api/metrics/json", "mo", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), "stream")

	status, _ = a.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.ErrorCode]int{
		domain.CodeCommandDisabled:        http.StatusLocked,
		domain.CodeInsufficientPower:      http.StatusForbidden,
		domain.CodeArgumentCount:          http.StatusBadRequest,
		domain.CodeCommandTimeout:         http.StatusGatewayTimeout,
		domain.CodeConnection:             http.StatusServiceUnavailable,
		domain.CodeAuthenticationFailed:   http.StatusBadGateway,
		domain.CodeThrottled:              http.StatusTooManyRequests,
		domain.CodeInternal:               http.StatusInternalServerError,
		domain.ErrorCode("SOMETHING_NEW"): http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(code), code)
	}
}

func TestIPLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newIPLimiter(ctx, 1, 2)
	now := time.Now()

	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now), "limits are per address")
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)))

	l.prune(now.Add(time.Hour))
	l.mu.Lock()
	assert.Empty(t, l.clients)
	l.mu.Unlock()
}
