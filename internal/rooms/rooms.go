// Package rooms owns group membership: durable membership changes go through
// the group store, while channel subscriptions (which live connection
// receives which group's broadcasts) are kept in process.
package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/presence"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// GroupStore is the durable side of group membership.
type GroupStore interface {
	CreateGroup(ctx context.Context, g domain.Group) error
	GetGroup(ctx context.Context, id domain.GroupID) (domain.Group, error)
	UpdateGroup(ctx context.Context, id domain.GroupID, mutate func(*domain.Group) error) (domain.Group, error)
	GroupsForUser(ctx context.Context, user domain.UserID) ([]domain.Group, error)
}

// UserDirectory resolves user ids to real users.
type UserDirectory interface {
	MissingUsers(ctx context.Context, ids []domain.UserID) ([]domain.UserID, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for group timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithIDGenerator replaces the random group id source.
func WithIDGenerator(next func() domain.GroupID) Option {
	return func(m *Manager) { m.newID = next }
}

// Manager is the room membership manager. It is safe for concurrent use.
type Manager struct {
	store    GroupStore
	users    UserDirectory
	presence presence.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock
	newID    func() domain.GroupID

	mu       sync.RWMutex
	channels map[domain.GroupID]map[domain.ConnectionID]domain.UserID
	joined   map[domain.ConnectionID]map[domain.GroupID]struct{}
}

// NewManager builds a Manager over the given stores and presence registry.
func NewManager(store GroupStore, users UserDirectory, registry presence.Registry,
	log *slog.Logger, m *metrics.Metrics, opts ...Option) *Manager {
	mgr := &Manager{
		store:    store,
		users:    users,
		presence: registry,
		log:      log,
		metrics:  m,
		clock:    clock.New(),
		newID:    func() domain.GroupID { return domain.GroupID(uuid.NewString()) },
		channels: make(map[domain.GroupID]map[domain.ConnectionID]domain.UserID),
		joined:   make(map[domain.ConnectionID]map[domain.GroupID]struct{}),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// CreateGroup persists a new group owned by the caller. The owner is always
// added to the member set. The creating connection and the connections of
// every online member are subscribed to the new channel; the latter are
// returned so they can be told about the group.
func (m *Manager) CreateGroup(ctx context.Context, owner domain.Connection, name, description string,
	memberIDs []domain.UserID) (domain.Group, []domain.ConnectionID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Group{}, nil, domain.NewValidationError("group name is required",
			domain.FieldError{Field: "name", Rule: "required"})
	}
	members := lo.Uniq(lo.Compact(append([]domain.UserID{owner.UserID}, memberIDs...)))
	if err := m.ensureUsersExist(ctx, members); err != nil {
		return domain.Group{}, nil, err
	}

	now := m.clock.Now().UTC()
	g := domain.Group{
		ID:          m.newID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     owner.UserID,
		MemberIDs:   members,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateGroup(ctx, g); err != nil {
		return domain.Group{}, nil, fmt.Errorf("create group: %w", err)
	}
	m.metrics.GroupsCreated.Inc()

	m.subscribe(g.ID, owner.ID, owner.UserID)
	others := m.subscribeOnline(ctx, g.ID, lo.Without(members, owner.UserID))
	m.log.Info("Group created", "group_id", g.ID, "user_id", owner.UserID, "members", len(members))
	return g, others, nil
}

// JoinExistingGroups subscribes conn to the channel of every live group its
// user belongs to. It runs once per connect.
func (m *Manager) JoinExistingGroups(ctx context.Context, conn domain.Connection) ([]domain.Group, error) {
	groups, err := m.store.GroupsForUser(ctx, conn.UserID)
	if err != nil {
		return nil, fmt.Errorf("load groups of %s: %w", conn.UserID, err)
	}
	groups = lo.Filter(groups, func(g domain.Group, _ int) bool {
		return !g.IsDeleted() && (g.OwnerID == conn.UserID || g.HasMember(conn.UserID))
	})
	for _, g := range groups {
		m.subscribe(g.ID, conn.ID, conn.UserID)
	}
	return groups, nil
}

// JoinGroup subscribes conn to an existing group's channel. The caller must
// already be a member.
//
// The subscription is taken before membership is read, so a leave or delete
// committed after the read still finds it and tears it down.
func (m *Manager) JoinGroup(ctx context.Context, conn domain.Connection, id domain.GroupID) (domain.Group, error) {
	m.subscribe(id, conn.ID, conn.UserID)
	g, err := m.Group(ctx, id)
	if err == nil && !g.HasMember(conn.UserID) {
		err = fmt.Errorf("%w: %s is not a member of group %s", domain.ErrPermission, conn.UserID, id)
	}
	if err != nil {
		m.unsubscribe(id, conn.ID)
		return domain.Group{}, err
	}
	return g, nil
}

// Group returns a live group. Missing and soft-deleted groups are NotFound.
func (m *Manager) Group(ctx context.Context, id domain.GroupID) (domain.Group, error) {
	g, err := m.store.GetGroup(ctx, id)
	if err != nil {
		return domain.Group{}, err
	}
	if g.IsDeleted() {
		return domain.Group{}, fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
	}
	return g, nil
}

// AddMembers adds newMemberIDs to a live group on behalf of requester, who
// must be a member. Ids already present are skipped. It returns the updated
// group and the connections of newly added members that are online.
func (m *Manager) AddMembers(ctx context.Context, requester domain.UserID, id domain.GroupID,
	newMemberIDs []domain.UserID) (domain.Group, []domain.ConnectionID, error) {
	candidates := lo.Uniq(lo.Compact(newMemberIDs))
	if err := m.ensureUsersExist(ctx, candidates); err != nil {
		return domain.Group{}, nil, err
	}

	var added []domain.UserID
	g, err := m.store.UpdateGroup(ctx, id, func(g *domain.Group) error {
		if g.IsDeleted() {
			return fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
		}
		if !g.HasMember(requester) {
			return fmt.Errorf("%w: %s is not a member of group %s", domain.ErrPermission, requester, id)
		}
		added = lo.Without(candidates, g.MemberIDs...)
		g.MemberIDs = append(g.MemberIDs, added...)
		g.UpdatedAt = m.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return domain.Group{}, nil, err
	}
	return g, m.subscribeOnline(ctx, g.ID, added), nil
}

// LeaveResult describes the outcome of a member leaving a group.
type LeaveResult struct {
	Group domain.Group
	// Deleted is set when the group became empty and was soft-deleted.
	Deleted bool
	// NewOwnerID is set when the departing owner handed the group over.
	NewOwnerID domain.UserID
	// Remaining are the connections still subscribed to the channel.
	Remaining []domain.ConnectionID
}

// LeaveGroup removes user from the group. A departing owner hands ownership
// to a remaining member; a group left without members is soft-deleted.
func (m *Manager) LeaveGroup(ctx context.Context, id domain.GroupID, user domain.UserID) (LeaveResult, error) {
	var result LeaveResult
	g, err := m.store.UpdateGroup(ctx, id, func(g *domain.Group) error {
		result = LeaveResult{}
		if g.IsDeleted() || !g.HasMember(user) {
			return fmt.Errorf("%w: %s is not a member of group %s", domain.ErrNotFound, user, id)
		}
		now := m.clock.Now().UTC()
		g.MemberIDs = lo.Without(g.MemberIDs, user)
		g.UpdatedAt = now
		switch {
		case len(g.MemberIDs) == 0:
			g.DeletedAt = &now
			result.Deleted = true
		case g.OwnerID == user:
			g.OwnerID = g.MemberIDs[0]
			result.NewOwnerID = g.OwnerID
		}
		return nil
	})
	if err != nil {
		return LeaveResult{}, err
	}
	result.Group = g

	m.unsubscribeUser(g.ID, user)
	if result.Deleted {
		m.dropChannel(g.ID)
		m.metrics.GroupsDeleted.Inc()
		m.log.Info("Group soft-deleted after last member left", "group_id", g.ID, "user_id", user)
	} else {
		result.Remaining = m.Subscribers(g.ID, "")
	}
	return result, nil
}

// DeleteGroup soft-deletes a group. Only its current owner may do so. The
// connections that were subscribed to the channel are returned.
func (m *Manager) DeleteGroup(ctx context.Context, id domain.GroupID, user domain.UserID) ([]domain.ConnectionID, error) {
	_, err := m.store.UpdateGroup(ctx, id, func(g *domain.Group) error {
		if g.IsDeleted() {
			return fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
		}
		if g.OwnerID != user {
			return fmt.Errorf("%w: only the owner may delete group %s", domain.ErrPermission, id)
		}
		now := m.clock.Now().UTC()
		g.DeletedAt = &now
		g.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.GroupsDeleted.Inc()
	m.log.Info("Group soft-deleted by owner", "group_id", id, "user_id", user)
	return m.dropChannel(id), nil
}

// Subscribers lists the connections subscribed to a group's channel,
// leaving out those that belong to exclude.
func (m *Manager) Subscribers(id domain.GroupID, exclude domain.UserID) []domain.ConnectionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var conns []domain.ConnectionID
	for conn, user := range m.channels[id] {
		if exclude != "" && user == exclude {
			continue
		}
		conns = append(conns, conn)
	}
	slices.Sort(conns)
	return conns
}

// DropConnection removes every channel subscription of a closed connection.
// Durable membership is untouched.
func (m *Manager) DropConnection(conn domain.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.joined[conn] {
		if members, ok := m.channels[id]; ok {
			delete(members, conn)
			if len(members) == 0 {
				delete(m.channels, id)
			}
		}
	}
	delete(m.joined, conn)
}

func (m *Manager) ensureUsersExist(ctx context.Context, ids []domain.UserID) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := m.users.MissingUsers(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve users: %w", err)
	}
	if len(missing) > 0 {
		names := lo.Map(missing, func(id domain.UserID, _ int) string { return string(id) })
		return fmt.Errorf("users %s: %w", strings.Join(names, ", "), domain.ErrNotFound)
	}
	return nil
}

// subscribeOnline subscribes the live connection of each user, if any.
func (m *Manager) subscribeOnline(ctx context.Context, id domain.GroupID, users []domain.UserID) []domain.ConnectionID {
	var conns []domain.ConnectionID
	for _, user := range users {
		conn, ok, err := m.presence.Lookup(ctx, user)
		if err != nil {
			m.log.Warn("Presence lookup failed", "user_id", user, "error", err)
			continue
		}
		if !ok {
			continue
		}
		m.subscribe(id, conn, user)
		conns = append(conns, conn)
	}
	return conns
}

func (m *Manager) subscribe(id domain.GroupID, conn domain.ConnectionID, user domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		m.channels[id] = make(map[domain.ConnectionID]domain.UserID)
	}
	m.channels[id][conn] = user
	if _, ok := m.joined[conn]; !ok {
		m.joined[conn] = make(map[domain.GroupID]struct{})
	}
	m.joined[conn][id] = struct{}{}
}

func (m *Manager) unsubscribe(id domain.GroupID, conn domain.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.channels[id]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(m.channels, id)
		}
	}
	if groups, ok := m.joined[conn]; ok {
		delete(groups, id)
		if len(groups) == 0 {
			delete(m.joined, conn)
		}
	}
}

func (m *Manager) unsubscribeUser(id domain.GroupID, user domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.channels[id]
	for conn, owner := range members {
		if owner != user {
			continue
		}
		delete(members, conn)
		delete(m.joined[conn], id)
	}
	if len(members) == 0 {
		delete(m.channels, id)
	}
}

// dropChannel removes a channel and returns the connections it had.
func (m *Manager) dropChannel(id domain.GroupID) []domain.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := lo.Keys(m.channels[id])
	for _, conn := range conns {
		delete(m.joined[conn], id)
	}
	delete(m.channels, id)
	slices.Sort(conns)
	return conns
}
