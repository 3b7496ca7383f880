package domain

import (
	"fmt"
	"net/url"
	"strings"
)

const directPrefix = "dm:"

// DirectConversationID builds the stable identifier of the two-party thread
// between a and b. Argument order does not matter. Each participant is
// query-escaped, so ids containing ':' stay distinct and parseable.
func DirectConversationID(a, b UserID) string {
	if b < a {
		a, b = b, a
	}
	return directPrefix + url.QueryEscape(string(a)) + ":" + url.QueryEscape(string(b))
}

// Conversation is a parsed history address: a group channel or a direct pair.
type Conversation struct {
	ID           string
	GroupID      GroupID
	Participants [2]UserID
}

func (c Conversation) IsDirect() bool {
	return c.GroupID == ""
}

// Includes reports whether user is one of the two direct participants.
func (c Conversation) Includes(user UserID) bool {
	return c.Participants[0] == user || c.Participants[1] == user
}

// ParseConversationID classifies id as a direct pair ("dm:<a>:<b>", each
// participant query-escaped) or a group id. Direct ids are returned in
// canonical form.
func ParseConversationID(id string) (Conversation, error) {
	if id == "" {
		return Conversation{}, NewValidationError("conversationId is required",
			FieldError{Field: "conversationId", Rule: "required"})
	}
	rest, ok := strings.CutPrefix(id, directPrefix)
	if !ok {
		return Conversation{ID: id, GroupID: GroupID(id)}, nil
	}
	malformed := NewValidationError(
		fmt.Sprintf("malformed direct conversation id %q", id),
		FieldError{Field: "conversationId", Rule: "format"})
	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return Conversation{}, malformed
	}
	a, errA := url.QueryUnescape(parts[0])
	b, errB := url.QueryUnescape(parts[1])
	if errA != nil || errB != nil || a == "" || b == "" {
		return Conversation{}, malformed
	}
	return Conversation{
		ID:           DirectConversationID(UserID(a), UserID(b)),
		Participants: [2]UserID{UserID(a), UserID(b)},
	}, nil
}
