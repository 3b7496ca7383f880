// Package protocol defines the gateway's wire format: every frame is a JSON
// envelope {"event": name, "data": payload}. Inbound frames parse into exactly
// one Action variant; anything else is a validation error.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Envelope is the framing shared by inbound actions and outbound signals.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Action is one inbound request from a connected client.
type Action interface {
	Event() string
}

// JoinGroup subscribes the connection to a group it already belongs to.
type JoinGroup struct {
	GroupID string `json:"groupId" validate:"required"`
}

// SendMessage posts content to a group or to one user, never both.
type SendMessage struct {
	Content      string `json:"content" validate:"required"`
	GroupID      string `json:"groupId,omitempty" validate:"required_without=TargetUserID,excluded_with=TargetUserID"`
	TargetUserID string `json:"targetUserId,omitempty" validate:"required_without=GroupID"`
}

// CreateGroup creates a group owned by the sender.
type CreateGroup struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description,omitempty" validate:"max=500"`
	MemberIDs   []string `json:"memberIds" validate:"max=256,dive,required"`
}

// GetMessages requests a page of conversation history, newest first.
type GetMessages struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Limit          int    `json:"limit,omitempty" validate:"min=0"`
	Offset         int    `json:"offset,omitempty" validate:"min=0"`
}

// MarkAsRead marks direct messages addressed to the sender as read.
type MarkAsRead struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,dive,required"`
}

// Typing relays a typing indicator to a group or to one user.
type Typing struct {
	GroupID      string `json:"groupId,omitempty" validate:"required_without=TargetUserID,excluded_with=TargetUserID"`
	TargetUserID string `json:"targetUserId,omitempty" validate:"required_without=GroupID"`
	IsTyping     bool   `json:"isTyping"`
}

// GetUsersOnline lists online users. Without userIds it lists everyone;
// with an empty list it lists nobody.
type GetUsersOnline struct {
	UserIDs []string `json:"userIds,omitempty" validate:"omitempty,dive,required"`
}

// LeaveGroup removes the sender from a group.
type LeaveGroup struct {
	GroupID string `json:"groupId" validate:"required"`
}

// AddMembers adds users to a group the sender belongs to.
type AddMembers struct {
	GroupID   string   `json:"groupId" validate:"required"`
	MemberIDs []string `json:"memberIds" validate:"required,min=1,max=256,dive,required"`
}

// DeleteGroup soft-deletes a group owned by the sender.
type DeleteGroup struct {
	GroupID string `json:"groupId" validate:"required"`
}

func (JoinGroup) Event() string      { return "joinGroup" }
func (SendMessage) Event() string    { return "sendMessage" }
func (CreateGroup) Event() string    { return "createGroup" }
func (GetMessages) Event() string    { return "getMessages" }
func (MarkAsRead) Event() string     { return "markAsRead" }
func (Typing) Event() string         { return "typing" }
func (GetUsersOnline) Event() string { return "getUsersOnline" }
func (LeaveGroup) Event() string     { return "leaveGroup" }
func (AddMembers) Event() string     { return "addMembers" }
func (DeleteGroup) Event() string    { return "deleteGroup" }

// Target returns the addressed group or user of a send.
func (a SendMessage) Target() domain.Target {
	return domain.Target{GroupID: domain.GroupID(a.GroupID), RecipientID: domain.UserID(a.TargetUserID)}
}

// Target returns the addressed group or user of a typing signal.
func (a Typing) Target() domain.Target {
	return domain.Target{GroupID: domain.GroupID(a.GroupID), RecipientID: domain.UserID(a.TargetUserID)}
}

var actions = map[string]func() Action{
	"joinGroup":      func() Action { return &JoinGroup{} },
	"sendMessage":    func() Action { return &SendMessage{} },
	"createGroup":    func() Action { return &CreateGroup{} },
	"getMessages":    func() Action { return &GetMessages{} },
	"markAsRead":     func() Action { return &MarkAsRead{} },
	"typing":         func() Action { return &Typing{} },
	"getUsersOnline": func() Action { return &GetUsersOnline{} },
	"leaveGroup":     func() Action { return &LeaveGroup{} },
	"addMembers":     func() Action { return &AddMembers{} },
	"deleteGroup":    func() Action { return &DeleteGroup{} },
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Parse decodes one inbound frame into its Action variant and validates it.
// The returned Action is a value, never a pointer.
func Parse(frame []byte) (Action, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, domain.NewValidationError("frame is not a JSON envelope")
	}
	factory, ok := actions[env.Event]
	if !ok {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown event %q", env.Event),
			domain.FieldError{Field: "event", Rule: "oneof"})
	}
	action := factory()
	data := env.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(action); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("malformed %s payload: %v", env.Event, err))
	}
	if err := validate.Struct(action); err != nil {
		return nil, validationError(env.Event, err)
	}
	return reflect.ValueOf(action).Elem().Interface().(Action), nil
}

func validationError(event string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewValidationError(fmt.Sprintf("invalid %s payload: %v", event, err))
	}
	fields := make([]domain.FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, domain.FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return domain.NewValidationError("invalid "+event+" payload", fields...)
}
