// Package router persists chat messages and fans them out to live
// connections. Durability always precedes delivery.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/presence"
	"github.com/Tyrowin/gochat-gateway/internal/protocol"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_message_store.go -package=mocks github.com/Tyrowin/gochat-gateway/internal/router MessageStore

// MessageStore is the durable message log.
type MessageStore interface {
	SaveMessage(ctx context.Context, m domain.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error)
	CountMessages(ctx context.Context, ids []domain.MessageID) (int, error)
}

// Channels resolves live groups and their subscribed connections.
type Channels interface {
	Group(ctx context.Context, id domain.GroupID) (domain.Group, error)
	Subscribers(id domain.GroupID, exclude domain.UserID) []domain.ConnectionID
}

// UserDirectory resolves user ids to real users.
type UserDirectory interface {
	MissingUsers(ctx context.Context, ids []domain.UserID) ([]domain.UserID, error)
}

// Limits bounds message content and history pages.
type Limits struct {
	MaxContentLength    int
	DefaultHistoryLimit int
	MaxHistoryLimit     int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxContentLength: 4000, DefaultHistoryLimit: 50, MaxHistoryLimit: 100}
}

// Option configures a Router.
type Option func(*Router)

// WithClock sets the clock used for message timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithIDGenerator replaces the random message id source.
func WithIDGenerator(next func() domain.MessageID) Option {
	return func(r *Router) { r.newID = next }
}

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(r *Router) { r.limits = l }
}

// Router is the message router. It only reads presence and channel state.
type Router struct {
	messages MessageStore
	channels Channels
	users    UserDirectory
	presence presence.Registry
	emitter  protocol.Emitter
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock
	newID    func() domain.MessageID
	limits   Limits
}

// New builds a Router. Without options it uses the wall clock, random ids
// and DefaultLimits.
func New(messages MessageStore, channels Channels, users UserDirectory, registry presence.Registry,
	emitter protocol.Emitter, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Router {
	r := &Router{
		messages: messages,
		channels: channels,
		users:    users,
		presence: registry,
		emitter:  emitter,
		log:      log,
		metrics:  m,
		clock:    clock.New(),
		newID:    func() domain.MessageID { return domain.MessageID(uuid.NewString()) },
		limits:   DefaultLimits(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receipt is what the sender learns about a routed message.
type Receipt struct {
	MessageID domain.MessageID
	Status    domain.DeliveryStatus
	// Recipients lists the users the message was addressed to, online or not.
	Recipients []domain.UserID
}

// Route validates, persists and delivers one message sent from conn.
func (r *Router) Route(ctx context.Context, conn domain.ConnectionID, sender domain.Identity,
	content string, target domain.Target) (Receipt, error) {
	if err := r.validate(sender.ID, content, target); err != nil {
		return Receipt{}, err
	}

	var group domain.Group
	if target.IsGroup() {
		g, err := r.channels.Group(ctx, target.GroupID)
		if err != nil {
			return Receipt{}, err
		}
		if !g.HasMember(sender.ID) {
			return Receipt{}, fmt.Errorf("%w: %s is not a member of group %s", domain.ErrPermission, sender.ID, g.ID)
		}
		group = g
	} else {
		missing, err := r.users.MissingUsers(ctx, []domain.UserID{target.RecipientID})
		if err != nil {
			return Receipt{}, fmt.Errorf("resolve recipient: %w", err)
		}
		if len(missing) > 0 {
			return Receipt{}, fmt.Errorf("recipient %s: %w", target.RecipientID, domain.ErrNotFound)
		}
	}

	msg := domain.Message{
		ID:        r.newID(),
		SenderID:  sender.ID,
		Content:   content,
		Target:    target,
		CreatedAt: r.clock.Now().UTC(),
	}
	if err := r.messages.SaveMessage(ctx, msg); err != nil {
		return Receipt{}, fmt.Errorf("persist message %s: %w", msg.ID, err)
	}

	var receipt Receipt
	if target.IsGroup() {
		receipt = r.deliverToGroup(conn, sender, msg, group)
		r.metrics.MessagesRouted.WithLabelValues("group", string(receipt.Status)).Inc()
	} else {
		receipt = r.deliverDirect(ctx, conn, msg)
		r.metrics.MessagesRouted.WithLabelValues("direct", string(receipt.Status)).Inc()
	}
	return receipt, nil
}

func (r *Router) validate(sender domain.UserID, content string, target domain.Target) error {
	if strings.TrimSpace(content) == "" {
		return domain.NewValidationError("message content is required",
			domain.FieldError{Field: "content", Rule: "required"})
	}
	if n := r.limits.MaxContentLength; n > 0 && utf8.RuneCountInString(content) > n {
		return domain.NewValidationError(fmt.Sprintf("message content exceeds %d characters", n),
			domain.FieldError{Field: "content", Rule: "max", Param: fmt.Sprint(n)})
	}
	if !target.Valid() {
		return domain.NewValidationError("exactly one of groupId or targetUserId is required",
			domain.FieldError{Field: "groupId", Rule: "required_without"},
			domain.FieldError{Field: "targetUserId", Rule: "required_without"})
	}
	if target.IsDirect() && target.RecipientID == sender {
		return domain.NewValidationError("cannot send a direct message to yourself",
			domain.FieldError{Field: "targetUserId", Rule: "ne"})
	}
	return nil
}

// deliverToGroup broadcasts to every subscribed connection except the
// sender's own and acknowledges the sending connection.
func (r *Router) deliverToGroup(conn domain.ConnectionID, sender domain.Identity, msg domain.Message,
	g domain.Group) Receipt {
	recipients := lo.Without(g.MemberIDs, sender.ID)
	name := sender.DisplayName
	if name == "" {
		name = string(sender.ID)
	}
	delivered := protocol.EmitAll(r.emitter, r.channels.Subscribers(g.ID, sender.ID), protocol.ReceiveGroupMessage(protocol.GroupMessageData{
		Sender:    name,
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		GroupID:   g.ID,
		MessageID: msg.ID,
		Timestamp: msg.CreatedAt,
	}))
	r.log.Debug("Group message broadcast", "group_id", g.ID, "user_id", sender.ID,
		"recipients", len(recipients), "delivered", delivered)

	r.emitter.Emit(conn, protocol.MessageSent(protocol.MessageSentData{
		Status:    domain.StatusSuccess,
		MessageID: msg.ID,
		GroupID:   g.ID,
	}))
	return Receipt{MessageID: msg.ID, Status: domain.StatusSuccess, Recipients: recipients}
}

// deliverDirect pushes the message to the recipient's live connection and
// echoes it to the sender, or reports it saved when the recipient is offline.
func (r *Router) deliverDirect(ctx context.Context, conn domain.ConnectionID, msg domain.Message) Receipt {
	recipient := msg.Target.RecipientID
	receipt := Receipt{MessageID: msg.ID, Status: domain.StatusSaved, Recipients: []domain.UserID{recipient}}

	target, online, err := r.presence.Lookup(ctx, recipient)
	if err != nil {
		r.log.Warn("Presence lookup failed, treating recipient as offline", "user_id", recipient, "error", err)
	}
	if online && err == nil {
		data := protocol.DirectMessageData{
			Content:     msg.Content,
			SenderID:    msg.SenderID,
			RecipientID: recipient,
			MessageID:   msg.ID,
			Status:      domain.StatusDelivered,
			Timestamp:   msg.CreatedAt,
		}
		if r.emitter.Emit(target, protocol.ReceiveMessage(data)) {
			receipt.Status = domain.StatusDelivered
			data.IsOwn = true
			r.emitter.Emit(conn, protocol.ReceiveMessage(data))
		}
	}

	r.emitter.Emit(conn, protocol.MessageSent(protocol.MessageSentData{
		Status:       receipt.Status,
		MessageID:    msg.ID,
		TargetUserID: recipient,
	}))
	return receipt
}

// History is one page of a conversation, newest first.
type History struct {
	ConversationID string
	Messages       []domain.Message
	HasMore        bool
}

// FetchHistory returns a page of the conversation the requester takes part in.
func (r *Router) FetchHistory(ctx context.Context, requester domain.UserID, conversationID string,
	limit, offset int) (History, error) {
	conv, err := domain.ParseConversationID(conversationID)
	if err != nil {
		return History{}, err
	}
	if conv.IsDirect() {
		if !conv.Includes(requester) {
			return History{}, fmt.Errorf("%w: %s is not part of conversation %s", domain.ErrPermission, requester, conv.ID)
		}
	} else {
		g, err := r.channels.Group(ctx, conv.GroupID)
		if err != nil {
			return History{}, err
		}
		if !g.HasMember(requester) {
			return History{}, fmt.Errorf("%w: %s is not a member of group %s", domain.ErrPermission, requester, g.ID)
		}
	}

	limit = r.clampLimit(limit)
	offset = max(offset, 0)
	page, err := r.messages.ListMessages(ctx, conv.ID, limit+1, offset)
	if err != nil {
		return History{}, fmt.Errorf("load history of %s: %w", conv.ID, err)
	}
	h := History{ConversationID: conv.ID, Messages: page}
	if len(page) > limit {
		h.Messages = page[:limit]
		h.HasMore = true
	}
	if h.Messages == nil {
		h.Messages = []domain.Message{}
	}
	return h, nil
}

func (r *Router) clampLimit(limit int) int {
	if limit <= 0 {
		limit = r.limits.DefaultHistoryLimit
	}
	if r.limits.MaxHistoryLimit > 0 && limit > r.limits.MaxHistoryLimit {
		limit = r.limits.MaxHistoryLimit
	}
	return max(limit, 1)
}

// BroadcastTyping fans a typing indicator out. Nothing is persisted and the
// sender gets no acknowledgement.
func (r *Router) BroadcastTyping(ctx context.Context, sender domain.UserID, target domain.Target, isTyping bool) error {
	if !target.Valid() {
		return domain.NewValidationError("exactly one of groupId or targetUserId is required",
			domain.FieldError{Field: "groupId", Rule: "required_without"},
			domain.FieldError{Field: "targetUserId", Rule: "required_without"})
	}
	if target.IsGroup() {
		g, err := r.channels.Group(ctx, target.GroupID)
		if err != nil {
			return err
		}
		if !g.HasMember(sender) {
			return fmt.Errorf("%w: %s is not a member of group %s", domain.ErrPermission, sender, g.ID)
		}
		protocol.EmitAll(r.emitter, r.channels.Subscribers(g.ID, sender), protocol.UserTyping(protocol.UserTypingData{
			UserID:   sender,
			IsTyping: isTyping,
			GroupID:  g.ID,
		}))
		return nil
	}

	conn, online, err := r.presence.Lookup(ctx, target.RecipientID)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", target.RecipientID, err)
	}
	if online {
		r.emitter.Emit(conn, protocol.UserTyping(protocol.UserTypingData{
			UserID:     sender,
			IsTyping:   isTyping,
			FromUserID: sender,
		}))
	}
	return nil
}

// MarkRead acknowledges read receipts. Read state is not persisted; the
// result counts how many of ids name stored messages. It never fails.
func (r *Router) MarkRead(ctx context.Context, requester domain.UserID, ids []domain.MessageID) protocol.MarkedAsReadData {
	ids = lo.Uniq(lo.Compact(ids))
	count, err := r.messages.CountMessages(ctx, ids)
	if err != nil {
		r.log.Warn("Counting read messages failed", "user_id", requester, "error", err)
		count = 0
	}
	return protocol.MarkedAsReadData{MessageIDs: ids, Count: count}
}
