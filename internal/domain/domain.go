// Package domain holds the gateway's core types: identities, connections,
// groups, messages and the conversation addressing scheme.
// No transport, storage or runtime logic belongs here.
package domain

import (
	"slices"
	"time"
)

type (
	UserID       string
	ConnectionID string
	GroupID      string
	MessageID    string
)

// Identity is the claim set produced by the identity verifier.
// It is immutable for the lifetime of a connection.
type Identity struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Connection is one live transport session bound to a verified user.
type Connection struct {
	ID            ConnectionID
	UserID        UserID
	EstablishedAt time.Time
}

// Group is a named set of members with a single owner.
// The owner is always a member; an empty group is soft-deleted.
type Group struct {
	ID          GroupID    `json:"groupId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	OwnerID     UserID     `json:"ownerId"`
	MemberIDs   []UserID   `json:"memberIds"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

func (g Group) HasMember(id UserID) bool {
	return slices.Contains(g.MemberIDs, id)
}

func (g Group) IsDeleted() bool {
	return g.DeletedAt != nil
}

// Target addresses a message either to a group channel or to one user.
// Exactly one of the two fields is set on a valid target.
type Target struct {
	GroupID     GroupID `json:"groupId,omitempty"`
	RecipientID UserID  `json:"recipientId,omitempty"`
}

func GroupTarget(id GroupID) Target { return Target{GroupID: id} }

func DirectTarget(id UserID) Target { return Target{RecipientID: id} }

func (t Target) IsGroup() bool { return t.GroupID != "" && t.RecipientID == "" }

func (t Target) IsDirect() bool { return t.RecipientID != "" && t.GroupID == "" }

func (t Target) Valid() bool { return t.IsGroup() || t.IsDirect() }

// Message is immutable once persisted.
type Message struct {
	ID        MessageID `json:"messageId"`
	SenderID  UserID    `json:"senderId"`
	Content   string    `json:"content"`
	Target    Target    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationID returns the history key the message is filed under.
func (m Message) ConversationID() string {
	if m.Target.IsGroup() {
		return string(m.Target.GroupID)
	}
	return DirectConversationID(m.SenderID, m.Target.RecipientID)
}

// DeliveryStatus reports what happened to a routed message.
type DeliveryStatus string

const (
	StatusSuccess   DeliveryStatus = "success"
	StatusDelivered DeliveryStatus = "delivered"
	StatusSaved     DeliveryStatus = "saved"
)
