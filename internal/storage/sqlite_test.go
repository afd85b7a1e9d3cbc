package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServers_SingleDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &domain.ServerTarget{Name: "main", Host: "10.0.0.5", RconPort: 28960, IsActive: true, IsDefault: true, MaxPlayers: 24}
	b := &domain.ServerTarget{Name: "hardcore", Host: "10.0.0.6", RconPort: 28961, IsActive: true, MaxPlayers: 18}
	require.NoError(t, s.CreateServer(ctx, a))
	require.NoError(t, s.CreateServer(ctx, b))

	def, err := s.GetDefaultServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, def.ID)

	b.IsDefault = true
	require.NoError(t, s.UpdateServer(ctx, b))

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	defaults := 0
	for _, srv := range servers {
		if srv.IsDefault {
			defaults++
			assert.Equal(t, b.ID, srv.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	c := &domain.ServerTarget{Name: "third", Host: "10.0.0.7", RconPort: 28962, IsActive: true, IsDefault: true}
	require.NoError(t, s.CreateServer(ctx, c))
	def, err = s.GetDefaultServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, def.ID)
}

func TestServers_DefaultFallsBackToActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetDefaultServer(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.CreateServer(ctx, &domain.ServerTarget{Name: "off", Host: "h", RconPort: 1}))
	on := &domain.ServerTarget{Name: "on", Host: "h", RconPort: 2, IsActive: true, GameLogPath: "/srv/cod4/games_mp.log"}
	require.NoError(t, s.CreateServer(ctx, on))

	def, err := s.GetDefaultServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "on", def.Name)
	assert.Equal(t, "/srv/cod4/games_mp.log", def.GameLogPath)

	active, err := s.ListActiveServers(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestServers_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetServer(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteServer(ctx, 99), domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateServer(ctx, &domain.ServerTarget{ID: 99, Name: "x", Host: "h"}), domain.ErrNotFound)
}

func TestSeedServers_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seed := []domain.ServerTarget{{Name: "main", Host: "10.0.0.5", RconPort: 28960, IsActive: true, IsDefault: true}}
	require.NoError(t, s.SeedServers(ctx, seed))
	require.NoError(t, s.SeedServers(ctx, []domain.ServerTarget{{Name: "main", Host: "changed", RconPort: 1}}))

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "10.0.0.5", servers[0].Host)
}

func TestUsers_GroupsAndGUID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Seed(ctx, nil))

	guid := "A1B2C3D4"
	user, err := s.CreateUser(ctx, "alice", "hash", &guid, []string{"moderator", "admin", "admin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"moderator", "admin"}, user.Groups)

	got, err := s.GetUserByGUID(ctx, guid)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []string{"moderator", "admin"}, got.Groups)

	groups, err := s.UserGroups(ctx, user.ID)
	require.NoError(t, err)
	actor := domain.NewActor("user:1", "alice", domain.SourceWeb, groups)
	assert.Equal(t, 80, actor.Power)
	assert.True(t, actor.HasPermission(domain.PermRconBan))
	assert.True(t, actor.HasPermission(domain.PermRconKick))

	require.NoError(t, s.SetUserGroups(ctx, user.ID, []string{"owner"}))
	got, err = s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, got.Groups)

	err = s.SetUserGroups(ctx, user.ID, []string{"nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err = s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, got.Groups, "failed update rolls back")

	require.NoError(t, s.UpdateUserLastLogin(ctx, user.ID))
	require.NoError(t, s.DeleteUser(ctx, "alice"))
	_, err = s.GetUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, "alice"), domain.ErrNotFound)
}

func TestUsers_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Seed(ctx, nil))

	_, err := s.CreateUser(ctx, "bob", "h", nil, nil)
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "alice", "h", nil, []string{"owner"})
	require.NoError(t, err)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, []string{"owner"}, users[0].Groups)
	assert.Empty(t, users[1].Groups)
	assert.Nil(t, users[1].GUID)
}

func TestGroups_Seeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Seed(ctx, nil))
	require.NoError(t, s.Seed(ctx, nil))

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 4)
	assert.Equal(t, "guest", groups[0].Name)
	assert.Equal(t, "owner", groups[3].Name)
	assert.Equal(t, []string{domain.PermAll}, groups[3].Permissions)

	err = s.CreateGroup(ctx, &domain.Group{Name: "god", Power: 101})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))

	mod := groups[1]
	mod.Power = 60
	require.NoError(t, s.UpdateGroup(ctx, &mod))
	got, err := s.GetGroup(ctx, "moderator")
	require.NoError(t, err)
	assert.Equal(t, 60, got.Power)

	require.NoError(t, s.DeleteGroup(ctx, "guest"))
	assert.ErrorIs(t, s.DeleteGroup(ctx, "guest"), domain.ErrNotFound)
}

func TestShutdowns_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reenable := at.Add(10 * time.Minute)
	require.NoError(t, s.SaveShutdown(ctx, domain.EmergencyShutdown{
		Command: "ban", Reason: "5 uses in 1m0s", DisabledAt: at, DisabledBy: "system",
		ReenableAt: &reenable, AutoReenable: true,
	}))
	require.NoError(t, s.SaveShutdown(ctx, domain.EmergencyShutdown{
		Command: "map", Reason: "manual", DisabledAt: at.Add(time.Minute), DisabledBy: "alice",
	}))

	list, err := s.ListShutdowns(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ban", list[0].Command)
	require.NotNil(t, list[0].ReenableAt)
	assert.True(t, reenable.Equal(*list[0].ReenableAt))
	assert.True(t, list[0].AutoReenable)
	assert.Nil(t, list[1].ReenableAt)

	require.NoError(t, s.DeleteShutdown(ctx, list[0]))
	require.NoError(t, s.DeleteShutdown(ctx, list[0]))
	list, err = s.ListShutdowns(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// a delete for an older shutdown leaves a newer one in place
	stale := list[0]
	require.NoError(t, s.SaveShutdown(ctx, domain.EmergencyShutdown{
		Command: "map", Reason: "again", DisabledAt: at.Add(time.Hour), DisabledBy: "bob",
	}))
	require.NoError(t, s.DeleteShutdown(ctx, stale))
	list, err = s.ListShutdowns(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "again", list[0].Reason)
}

func TestTouchPlayer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchPlayer(ctx, domain.OfflinePlayer{
		GUID: "A1B2C3D4", LastName: "Camper", IP: "203.0.113.9", LastSeen: first,
	}))
	require.NoError(t, s.TouchPlayer(ctx, domain.OfflinePlayer{
		GUID: "A1B2C3D4", LastName: "NotCamper", LastSeen: first.Add(time.Hour),
	}))

	p, err := s.GetOfflinePlayer(ctx, "A1B2C3D4")
	require.NoError(t, err)
	assert.Equal(t, "NotCamper", p.LastName)
	assert.Equal(t, "203.0.113.9", p.IP)
	assert.True(t, first.Equal(p.FirstSeen))
	assert.True(t, first.Add(time.Hour).Equal(p.LastSeen))

	found, err := s.SearchOfflinePlayers(ctx, "camp", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	stats, err := s.GetPlayerStats(ctx, first.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Known)
	assert.Equal(t, 1, stats.SeenSince)

	_, err = s.GetOfflinePlayer(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
