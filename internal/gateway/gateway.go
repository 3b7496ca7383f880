// Package gateway manages connection lifecycles and dispatches inbound
// actions. Handle is the only place where errors become error signals.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/identity"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/presence"
	"github.com/Tyrowin/gochat-gateway/internal/protocol"
	"github.com/Tyrowin/gochat-gateway/internal/rooms"
	"github.com/Tyrowin/gochat-gateway/internal/router"
	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

// UserDirectory records verified identities.
type UserDirectory interface {
	UpsertUser(ctx context.Context, id domain.Identity) error
}

// Session is an authenticated connection.
type Session struct {
	Connection domain.Connection
	Identity   domain.Identity
}

// Gateway authenticates connections and dispatches their actions.
type Gateway struct {
	verifier identity.Verifier
	users    UserDirectory
	presence presence.Registry
	rooms    *rooms.Manager
	router   *router.Router
	emitter  protocol.Emitter
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock

	mu       sync.RWMutex
	sessions map[domain.ConnectionID]Session
}

// Deps bundles the collaborators of a Gateway.
type Deps struct {
	Verifier identity.Verifier
	Users    UserDirectory
	Presence presence.Registry
	Rooms    *rooms.Manager
	Router   *router.Router
	Emitter  protocol.Emitter
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

// New builds a Gateway. A nil Clock falls back to the wall clock.
func New(d Deps) *Gateway {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Gateway{
		verifier: d.Verifier,
		users:    d.Users,
		presence: d.Presence,
		rooms:    d.Rooms,
		router:   d.Router,
		emitter:  d.Emitter,
		log:      d.Log,
		metrics:  d.Metrics,
		clock:    d.Clock,
		sessions: make(map[domain.ConnectionID]Session),
	}
}

// Connect authenticates a new connection. On failure the connection gets an
// AuthenticationError signal and the caller must close it.
func (g *Gateway) Connect(ctx context.Context, conn domain.ConnectionID, creds identity.Credentials) (Session, error) {
	token := creds.Token()
	if token == "" {
		return Session{}, g.rejectConnect(conn, fmt.Errorf("%w: no credential provided", domain.ErrAuthentication))
	}
	id, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return Session{}, g.rejectConnect(conn, err)
	}
	if err := g.users.UpsertUser(ctx, id); err != nil {
		return Session{}, g.rejectConnect(conn, fmt.Errorf("record user %s: %w", id.ID, err))
	}

	s := Session{
		Connection: domain.Connection{ID: conn, UserID: id.ID, EstablishedAt: g.clock.Now().UTC()},
		Identity:   id,
	}
	if err := g.presence.Register(ctx, id.ID, conn); err != nil {
		return Session{}, g.rejectConnect(conn, fmt.Errorf("register presence: %w", err))
	}
	groups, err := g.rooms.JoinExistingGroups(ctx, s.Connection)
	if err != nil {
		g.log.Error("Rejoining groups failed", "conn_id", conn, "user_id", id.ID, "error", err)
	}

	g.mu.Lock()
	g.sessions[conn] = s
	g.mu.Unlock()

	g.metrics.Connects.Inc()
	g.metrics.ConnectionsActive.Inc()
	g.log.Info("User connected", "conn_id", conn, "user_id", id.ID, "groups", len(groups))
	g.emitter.Emit(conn, protocol.Connected(protocol.ConnectedData{UserID: id.ID, ConnectionID: conn, User: id}))
	return s, nil
}

func (g *Gateway) rejectConnect(conn domain.ConnectionID, err error) error {
	if errors.Is(err, domain.ErrAuthentication) {
		g.metrics.AuthFailures.Inc()
		g.log.Warn("Connection rejected", "conn_id", conn, "error", err)
	} else {
		g.log.Error("Connection setup failed", "conn_id", conn, "error", err)
	}
	g.emitter.Emit(conn, protocol.ErrorSignal(err))
	return err
}

// Disconnect forgets conn. The presence entry is removed only if it still
// points at conn; group membership is untouched.
func (g *Gateway) Disconnect(ctx context.Context, conn domain.ConnectionID) {
	g.mu.Lock()
	s, ok := g.sessions[conn]
	delete(g.sessions, conn)
	g.mu.Unlock()
	if !ok {
		return
	}

	g.rooms.DropConnection(conn)
	removed, err := g.presence.Remove(ctx, s.Identity.ID, conn)
	if err != nil {
		g.log.Error("Removing presence failed", "conn_id", conn, "user_id", s.Identity.ID, "error", err)
	}
	g.metrics.ConnectionsActive.Dec()
	g.log.Info("User disconnected", "conn_id", conn, "user_id", s.Identity.ID, "presence_removed", removed)
}

// Session returns the authenticated session of conn.
func (g *Gateway) Session(conn domain.ConnectionID) (Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[conn]
	return s, ok
}

// Sessions counts authenticated connections.
func (g *Gateway) Sessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Handle parses and runs one inbound frame. Failures are answered with an
// error signal; the connection always stays open.
func (g *Gateway) Handle(ctx context.Context, conn domain.ConnectionID, frame []byte) {
	action, err := protocol.Parse(frame)
	event := "unknown"
	if action != nil {
		event = action.Event()
	}
	if err == nil {
		s, ok := g.Session(conn)
		if !ok {
			err = fmt.Errorf("%w: connection is not authenticated", domain.ErrAuthentication)
		} else {
			err = g.dispatch(ctx, s, action)
		}
	}
	if err != nil {
		g.Reject(conn, event, err)
	}
}

// Reject answers conn with the error signal for err.
func (g *Gateway) Reject(conn domain.ConnectionID, event string, err error) {
	signal := protocol.ErrorSignal(err)
	kind := protocol.ErrorType(err)
	g.metrics.ActionErrors.WithLabelValues(event, kind).Inc()
	if kind == protocol.TypeInternal {
		g.log.Error("Action failed", "conn_id", conn, "event", event, "error", err)
	} else {
		g.log.Debug("Action rejected", "conn_id", conn, "event", event, "type", kind, "error", err)
	}
	g.emitter.Emit(conn, signal)
}

func (g *Gateway) dispatch(ctx context.Context, s Session, action protocol.Action) error {
	conn := s.Connection.ID
	user := s.Identity.ID
	switch a := action.(type) {
	case protocol.JoinGroup:
		grp, err := g.rooms.JoinGroup(ctx, s.Connection, domain.GroupID(a.GroupID))
		if err != nil {
			return err
		}
		g.emitter.Emit(conn, protocol.GroupJoined(grp))

	case protocol.SendMessage:
		_, err := g.router.Route(ctx, conn, s.Identity, a.Content, a.Target())
		return err

	case protocol.CreateGroup:
		grp, others, err := g.rooms.CreateGroup(ctx, s.Connection, a.Name, a.Description, toUserIDs(a.MemberIDs))
		if err != nil {
			return err
		}
		g.emitter.Emit(conn, protocol.GroupCreated(grp))
		protocol.EmitAll(g.emitter, others, protocol.AddedToGroup(grp))

	case protocol.GetMessages:
		h, err := g.router.FetchHistory(ctx, user, a.ConversationID, a.Limit, a.Offset)
		if err != nil {
			return err
		}
		g.emitter.Emit(conn, protocol.MessagesReceived(protocol.MessagesReceivedData{
			Messages:       h.Messages,
			ConversationID: h.ConversationID,
			HasMore:        h.HasMore,
		}))

	case protocol.MarkAsRead:
		ids := lo.Map(a.MessageIDs, func(id string, _ int) domain.MessageID { return domain.MessageID(id) })
		g.emitter.Emit(conn, protocol.MarkedAsRead(g.router.MarkRead(ctx, user, ids)))

	case protocol.Typing:
		return g.router.BroadcastTyping(ctx, user, a.Target(), a.IsTyping)

	case protocol.GetUsersOnline:
		// nil asks for everyone; an explicit empty list matches nobody.
		var candidates []domain.UserID
		if a.UserIDs != nil {
			candidates = toUserIDs(a.UserIDs)
		}
		online, err := g.presence.ListOnline(ctx, candidates)
		if err != nil {
			return fmt.Errorf("list online users: %w", err)
		}
		if online == nil {
			online = []domain.UserID{}
		}
		g.emitter.Emit(conn, protocol.OnlineUsersReceived(protocol.OnlineUsersData{OnlineUsers: online, Total: len(online)}))

	case protocol.LeaveGroup:
		res, err := g.rooms.LeaveGroup(ctx, domain.GroupID(a.GroupID), user)
		if err != nil {
			return err
		}
		now := g.clock.Now().UTC()
		g.emitter.Emit(conn, protocol.LeftGroup(protocol.LeftGroupData{GroupID: res.Group.ID, Timestamp: now}))
		protocol.EmitAll(g.emitter, res.Remaining, protocol.UserLeftGroup(protocol.UserLeftGroupData{
			UserID:     user,
			GroupID:    res.Group.ID,
			NewOwnerID: res.NewOwnerID,
			Timestamp:  now,
		}))

	case protocol.AddMembers:
		grp, added, err := g.rooms.AddMembers(ctx, user, domain.GroupID(a.GroupID), toUserIDs(a.MemberIDs))
		if err != nil {
			return err
		}
		existing := lo.Uniq(append(lo.Without(g.rooms.Subscribers(grp.ID, ""), added...), conn))
		protocol.EmitAll(g.emitter, existing, protocol.MembersAdded(grp))
		protocol.EmitAll(g.emitter, added, protocol.AddedToGroup(grp))

	case protocol.DeleteGroup:
		conns, err := g.rooms.DeleteGroup(ctx, domain.GroupID(a.GroupID), user)
		if err != nil {
			return err
		}
		protocol.EmitAll(g.emitter, lo.Uniq(append(conns, conn)), protocol.GroupDeleted(protocol.GroupDeletedData{
			GroupID:   domain.GroupID(a.GroupID),
			Timestamp: g.clock.Now().UTC(),
		}))

	default:
		return fmt.Errorf("no handler for action %q", action.Event())
	}
	return nil
}

func toUserIDs(ids []string) []domain.UserID {
	return lo.Map(ids, func(id string, _ int) domain.UserID { return domain.UserID(id) })
}
