package protocol

import (
	"errors"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
)

// Signal is one outbound event addressed to a connection.
type Signal struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Emitter delivers signals to live connections. Emit reports false when the
// connection is gone or cannot keep up; delivery is best effort.
type Emitter interface {
	Emit(conn domain.ConnectionID, s Signal) bool
}

// EmitAll sends s to every connection in conns and returns how many accepted it.
func EmitAll(e Emitter, conns []domain.ConnectionID, s Signal) int {
	delivered := 0
	for _, c := range conns {
		if e.Emit(c, s) {
			delivered++
		}
	}
	return delivered
}

// ConnectedData is the payload of Connected.
type ConnectedData struct {
	UserID       domain.UserID       `json:"userId"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	User         domain.Identity     `json:"user"`
}

// GroupMessageData is the payload of ReceiveGroupMessage.
type GroupMessageData struct {
	Sender    string           `json:"sender"`
	Content   string           `json:"content"`
	SenderID  domain.UserID    `json:"senderId"`
	GroupID   domain.GroupID   `json:"groupId"`
	MessageID domain.MessageID `json:"messageId"`
	Timestamp time.Time        `json:"timestamp"`
}

// DirectMessageData is the payload of ReceiveMessage.
type DirectMessageData struct {
	Content     string                `json:"content"`
	SenderID    domain.UserID         `json:"senderId"`
	RecipientID domain.UserID         `json:"recipientId"`
	MessageID   domain.MessageID      `json:"messageId"`
	Status      domain.DeliveryStatus `json:"status"`
	IsOwn       bool                  `json:"isOwn"`
	Timestamp   time.Time             `json:"timestamp"`
}

// MessageSentData is the payload of MessageSent.
type MessageSentData struct {
	Status       domain.DeliveryStatus `json:"status"`
	MessageID    domain.MessageID      `json:"messageId"`
	GroupID      domain.GroupID        `json:"groupId,omitempty"`
	TargetUserID domain.UserID         `json:"targetUserId,omitempty"`
}

// MessagesReceivedData is the payload of MessagesReceived.
type MessagesReceivedData struct {
	Messages       []domain.Message `json:"messages"`
	ConversationID string           `json:"conversationId"`
	HasMore        bool             `json:"hasMore"`
}

// GroupData carries a group snapshot.
type GroupData struct {
	Group domain.Group `json:"group"`
}

// UserTypingData is the payload of UserTyping.
type UserTypingData struct {
	UserID     domain.UserID  `json:"userId"`
	IsTyping   bool           `json:"isTyping"`
	GroupID    domain.GroupID `json:"groupId,omitempty"`
	FromUserID domain.UserID  `json:"fromUserId,omitempty"`
}

// OnlineUsersData is the payload of OnlineUsersReceived.
type OnlineUsersData struct {
	OnlineUsers []domain.UserID `json:"onlineUsers"`
	Total       int             `json:"total"`
}

// UserLeftGroupData is the payload of UserLeftGroup.
type UserLeftGroupData struct {
	UserID     domain.UserID  `json:"userId"`
	GroupID    domain.GroupID `json:"groupId"`
	NewOwnerID domain.UserID  `json:"newOwnerId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// LeftGroupData is the payload of LeftGroup.
type LeftGroupData struct {
	GroupID   domain.GroupID `json:"groupId"`
	Timestamp time.Time      `json:"timestamp"`
}

// GroupDeletedData is the payload of GroupDeleted.
type GroupDeletedData struct {
	GroupID   domain.GroupID `json:"groupId"`
	Timestamp time.Time      `json:"timestamp"`
}

// MarkedAsReadData is the payload of MarkedAsRead.
type MarkedAsReadData struct {
	MessageIDs []domain.MessageID `json:"messageIds"`
	Count      int                `json:"count"`
}

// ErrorData is the payload of an error signal.
type ErrorData struct {
	Message string              `json:"message"`
	Type    string              `json:"type"`
	Details []domain.FieldError `json:"details,omitempty"`
}

// Connected acknowledges an authenticated connection.
func Connected(d ConnectedData) Signal { return Signal{"connected", d} }

// ReceiveGroupMessage delivers a group message to a member.
func ReceiveGroupMessage(d GroupMessageData) Signal { return Signal{"receiveGroupMessage", d} }

// ReceiveMessage delivers a direct message to its recipient.
func ReceiveMessage(d DirectMessageData) Signal { return Signal{"receiveMessage", d} }

// MessageSent acknowledges a routed message to its sender.
func MessageSent(d MessageSentData) Signal { return Signal{"messageSent", d} }

// MessagesReceived answers getMessages with a history page.
func MessagesReceived(d MessagesReceivedData) Signal { return Signal{"messagesReceived", d} }

// GroupCreated confirms a new group to its creator.
func GroupCreated(g domain.Group) Signal { return Signal{"groupCreated", GroupData{g}} }

// GroupJoined confirms a joinGroup.
func GroupJoined(g domain.Group) Signal { return Signal{"groupJoined", GroupData{g}} }

// MembersAdded confirms addMembers to the requester.
func MembersAdded(g domain.Group) Signal { return Signal{"membersAdded", GroupData{g}} }

// AddedToGroup tells a user they were added to g.
func AddedToGroup(g domain.Group) Signal { return Signal{"addedToGroup", GroupData{g}} }

// UserTyping relays a typing indicator.
func UserTyping(d UserTypingData) Signal { return Signal{"userTyping", d} }

// OnlineUsersReceived answers getUsersOnline.
func OnlineUsersReceived(d OnlineUsersData) Signal { return Signal{"onlineUsersReceived", d} }

// UserLeftGroup tells the remaining members that someone left.
func UserLeftGroup(d UserLeftGroupData) Signal { return Signal{"userLeftGroup", d} }

// LeftGroup confirms leaveGroup to the departing user.
func LeftGroup(d LeftGroupData) Signal { return Signal{"leftGroup", d} }

// GroupDeleted tells subscribers a group is gone.
func GroupDeleted(d GroupDeletedData) Signal { return Signal{"groupDeleted", d} }

// MarkedAsRead answers markAsRead with the ids that changed.
func MarkedAsRead(d MarkedAsReadData) Signal { return Signal{"markedAsRead", d} }

// Error types carried in the "type" field of an error signal.
const (
	TypeAuthentication = "AuthenticationError"
	TypeValidation     = "ValidationError"
	TypeNotFound       = "NotFoundError"
	TypePermission     = "PermissionError"
	TypeRateLimit      = "RateLimitError"
	TypeInternal       = "InternalError"
)

// ErrorType classifies err into one of the error signal types.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return TypeAuthentication
	case errors.Is(err, domain.ErrValidation):
		return TypeValidation
	case errors.Is(err, domain.ErrNotFound):
		return TypeNotFound
	case errors.Is(err, domain.ErrPermission):
		return TypePermission
	case errors.Is(err, domain.ErrRateLimited):
		return TypeRateLimit
	default:
		return TypeInternal
	}
}

// ErrorSignal converts err into the outbound error signal. Internal errors
// are reported with a generic message; the caller is expected to log them.
func ErrorSignal(err error) Signal {
	data := ErrorData{Message: err.Error(), Type: ErrorType(err)}
	if data.Type == TypeInternal {
		data.Message = "internal error"
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		data.Details = verr.Fields
	}
	return Signal{"error", data}
}
