package rooms_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/presence"
	"github.com/Tyrowin/gochat-gateway/internal/rooms"
	"github.com/Tyrowin/gochat-gateway/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	manager  *rooms.Manager
	store    *store.Store
	presence *presence.Memory
	metrics  *metrics.Metrics
	clock    *clock.Mock
}

func newFixture(t *testing.T, users ...domain.UserID) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	s, err := store.New(db, logs.GetLoggerFromLevel(slog.LevelDebug), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, u := range users {
		require.NoError(t, s.UpsertUser(context.Background(), domain.Identity{ID: u, DisplayName: string(u)}))
	}

	f := &fixture{store: s, presence: presence.NewMemory(), metrics: metrics.NewUnregistered(), clock: clock.NewMock()}
	f.clock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	next := 0
	f.manager = rooms.NewManager(s, s, f.presence, logs.GetLoggerFromLevel(slog.LevelDebug), f.metrics,
		rooms.WithClock(f.clock),
		rooms.WithIDGenerator(func() domain.GroupID {
			next++
			return domain.GroupID(fmt.Sprintf("g%d", next))
		}))
	return f
}

func (f *fixture) online(t *testing.T, user domain.UserID) domain.Connection {
	t.Helper()
	conn := domain.Connection{ID: domain.ConnectionID("conn-" + string(user)), UserID: user}
	require.NoError(t, f.presence.Register(context.Background(), user, conn.ID))
	return conn
}

func Test_Create_Group_Puts_Owner_First_And_Subscribes_Online_Members(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	alice := f.online(t, "alice")
	bob := f.online(t, "bob")

	g, others, err := f.manager.CreateGroup(ctx, alice, "  team  ", "", []domain.UserID{"bob", "carol", "alice", "bob"})
	req.NoError(err)
	req.Equal(domain.GroupID("g1"), g.ID)
	req.Equal("team", g.Name)
	req.Equal(domain.UserID("alice"), g.OwnerID)
	req.Equal([]domain.UserID{"alice", "bob", "carol"}, g.MemberIDs)
	req.Equal([]domain.ConnectionID{bob.ID}, others)
	req.Equal([]domain.ConnectionID{alice.ID, bob.ID}, f.manager.Subscribers(g.ID, ""))
	req.Equal([]domain.ConnectionID{bob.ID}, f.manager.Subscribers(g.ID, "alice"))
	req.Equal(1.0, testutil.ToFloat64(f.metrics.GroupsCreated))

	stored, err := f.store.GetGroup(ctx, g.ID)
	req.NoError(err)
	req.Equal(g.MemberIDs, stored.MemberIDs)
}

func Test_Create_Group_Rejects_Unknown_Members_And_Blank_Name(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice")
	ctx := context.Background()
	alice := f.online(t, "alice")

	_, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"ghost"})
	req.ErrorIs(err, domain.ErrNotFound)
	req.ErrorContains(err, "ghost")

	_, _, err = f.manager.CreateGroup(ctx, alice, "   ", "", nil)
	req.ErrorIs(err, domain.ErrValidation)
	req.Empty(f.manager.Subscribers("g1", ""))
}

func Test_Join_Existing_Groups_On_Connect(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	alice := f.online(t, "alice")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"bob"})
	req.NoError(err)

	bob := domain.Connection{ID: "bob-later", UserID: "bob"}
	groups, err := f.manager.JoinExistingGroups(ctx, bob)
	req.NoError(err)
	req.Len(groups, 1)
	req.Equal(g.ID, groups[0].ID)
	req.Contains(f.manager.Subscribers(g.ID, ""), bob.ID)
}

func Test_Join_Group_Checks_Membership_And_Existence(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob", "mallory")
	ctx := context.Background()
	alice := f.online(t, "alice")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"bob"})
	req.NoError(err)

	_, err = f.manager.JoinGroup(ctx, domain.Connection{ID: "m1", UserID: "mallory"}, g.ID)
	req.ErrorIs(err, domain.ErrPermission)

	_, err = f.manager.JoinGroup(ctx, domain.Connection{ID: "b1", UserID: "bob"}, "nope")
	req.ErrorIs(err, domain.ErrNotFound)

	joined, err := f.manager.JoinGroup(ctx, domain.Connection{ID: "b1", UserID: "bob"}, g.ID)
	req.NoError(err)
	req.Equal(g.ID, joined.ID)
	req.Contains(f.manager.Subscribers(g.ID, ""), domain.ConnectionID("b1"))
}

// leaveDuringRead hands out the group as it was before user left it, with the
// leave committed in between.
type leaveDuringRead struct {
	rooms.GroupStore
	manager *rooms.Manager
	user    domain.UserID
	left    error
}

func (s *leaveDuringRead) GetGroup(ctx context.Context, id domain.GroupID) (domain.Group, error) {
	g, err := s.GroupStore.GetGroup(ctx, id)
	if s.manager != nil {
		_, s.left = s.manager.LeaveGroup(ctx, id, s.user)
		s.manager = nil
	}
	return g, err
}

func Test_Join_Group_Racing_Leave_Does_Not_Keep_Subscription(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	alice := f.online(t, "alice")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"bob"})
	req.NoError(err)

	racing := &leaveDuringRead{GroupStore: f.store, user: "bob"}
	manager := rooms.NewManager(racing, f.store, f.presence, logs.GetLoggerFromLevel(slog.LevelDebug), f.metrics,
		rooms.WithClock(f.clock))
	racing.manager = manager

	_, _ = manager.JoinGroup(ctx, domain.Connection{ID: "b1", UserID: "bob"}, g.ID)
	req.NoError(racing.left)
	req.NotContains(manager.Subscribers(g.ID, ""), domain.ConnectionID("b1"))

	stored, err := f.store.GetGroup(ctx, g.ID)
	req.NoError(err)
	req.False(stored.HasMember("bob"))
}

func Test_Rejected_Join_Leaves_No_Subscription(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "mallory")
	ctx := context.Background()
	alice := f.online(t, "alice")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", nil)
	req.NoError(err)

	_, err = f.manager.JoinGroup(ctx, domain.Connection{ID: "m1", UserID: "mallory"}, g.ID)
	req.ErrorIs(err, domain.ErrPermission)
	_, err = f.manager.JoinGroup(ctx, domain.Connection{ID: "m1", UserID: "mallory"}, "nope")
	req.ErrorIs(err, domain.ErrNotFound)

	req.Equal([]domain.ConnectionID{alice.ID}, f.manager.Subscribers(g.ID, ""))
	req.Empty(f.manager.Subscribers("nope", ""))
}

func Test_Add_Members(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	alice := f.online(t, "alice")
	carol := f.online(t, "carol")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"bob"})
	req.NoError(err)

	_, _, err = f.manager.AddMembers(ctx, "dave", g.ID, []domain.UserID{"carol"})
	req.ErrorIs(err, domain.ErrPermission)

	updated, added, err := f.manager.AddMembers(ctx, "bob", g.ID, []domain.UserID{"bob", "carol", "dave"})
	req.NoError(err)
	req.Equal([]domain.UserID{"alice", "bob", "carol", "dave"}, updated.MemberIDs)
	req.Equal([]domain.ConnectionID{carol.ID}, added)
	req.Contains(f.manager.Subscribers(g.ID, ""), carol.ID)

	_, _, err = f.manager.AddMembers(ctx, "alice", g.ID, []domain.UserID{"ghost"})
	req.ErrorIs(err, domain.ErrNotFound)
}

func Test_Owner_Leaving_Transfers_Ownership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	alice := f.online(t, "alice")
	bob := f.online(t, "bob")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"bob", "carol"})
	req.NoError(err)

	res, err := f.manager.LeaveGroup(ctx, g.ID, "alice")
	req.NoError(err)
	req.False(res.Deleted)
	req.Equal(domain.UserID("bob"), res.NewOwnerID)
	req.Equal(domain.UserID("bob"), res.Group.OwnerID)
	req.Equal([]domain.UserID{"bob", "carol"}, res.Group.MemberIDs)
	req.Equal([]domain.ConnectionID{bob.ID}, res.Remaining)
	req.NotContains(f.manager.Subscribers(g.ID, ""), alice.ID)

	groups, err := f.store.GroupsForUser(ctx, "alice")
	req.NoError(err)
	req.Empty(groups)
}

func Test_Last_Member_Leaving_Soft_Deletes_Group(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice")
	ctx := context.Background()
	alice := f.online(t, "alice")

	g, _, err := f.manager.CreateGroup(ctx, alice, "solo", "", nil)
	req.NoError(err)

	res, err := f.manager.LeaveGroup(ctx, g.ID, "alice")
	req.NoError(err)
	req.True(res.Deleted)
	req.NotNil(res.Group.DeletedAt)
	req.Empty(res.Remaining)
	req.Equal(1.0, testutil.ToFloat64(f.metrics.GroupsDeleted))

	_, err = f.manager.Group(ctx, g.ID)
	req.ErrorIs(err, domain.ErrNotFound)
	_, err = f.manager.LeaveGroup(ctx, g.ID, "alice")
	req.ErrorIs(err, domain.ErrNotFound)
}

func Test_Leave_Group_Requires_Membership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	alice := f.online(t, "alice")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", nil)
	req.NoError(err)

	_, err = f.manager.LeaveGroup(ctx, g.ID, "bob")
	req.ErrorIs(err, domain.ErrNotFound)
	_, err = f.manager.LeaveGroup(ctx, "missing", "alice")
	req.ErrorIs(err, domain.ErrNotFound)
}

func Test_Delete_Group_Is_Owner_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	alice := f.online(t, "alice")
	bob := f.online(t, "bob")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"bob"})
	req.NoError(err)

	_, err = f.manager.DeleteGroup(ctx, g.ID, "bob")
	req.ErrorIs(err, domain.ErrPermission)

	conns, err := f.manager.DeleteGroup(ctx, g.ID, "alice")
	req.NoError(err)
	req.Equal([]domain.ConnectionID{alice.ID, bob.ID}, conns)
	req.Empty(f.manager.Subscribers(g.ID, ""))

	_, err = f.manager.DeleteGroup(ctx, g.ID, "alice")
	req.True(errors.Is(err, domain.ErrNotFound))
}

func Test_Drop_Connection_Keeps_Membership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	alice := f.online(t, "alice")
	f.online(t, "bob")

	g, _, err := f.manager.CreateGroup(ctx, alice, "team", "", []domain.UserID{"bob"})
	req.NoError(err)

	f.manager.DropConnection(alice.ID)
	req.Equal([]domain.ConnectionID{"conn-bob"}, f.manager.Subscribers(g.ID, ""))

	stored, err := f.manager.Group(ctx, g.ID)
	req.NoError(err)
	req.True(stored.HasMember("alice"))
}
