package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestParse_Variants(t *testing.T) {
	tests := []struct {
		frame string
		want  Action
	}{
		{`{"event":"joinGroup","data":{"groupId":"g1"}}`, JoinGroup{GroupID: "g1"}},
		{`{"event":"sendMessage","data":{"content":"hello","groupId":"g1"}}`, SendMessage{Content: "hello", GroupID: "g1"}},
		{`{"event":"sendMessage","data":{"content":"hi","targetUserId":"carol"}}`, SendMessage{Content: "hi", TargetUserID: "carol"}},
		{`{"event":"createGroup","data":{"name":"Study Group","memberIds":["bob"]}}`, CreateGroup{Name: "Study Group", MemberIDs: []string{"bob"}}},
		{`{"event":"getMessages","data":{"conversationId":"g1","limit":10}}`, GetMessages{ConversationID: "g1", Limit: 10}},
		{`{"event":"markAsRead","data":{"messageIds":["m1"]}}`, MarkAsRead{MessageIDs: []string{"m1"}}},
		{`{"event":"typing","data":{"groupId":"g1","isTyping":true}}`, Typing{GroupID: "g1", IsTyping: true}},
		{`{"event":"getUsersOnline"}`, GetUsersOnline{}},
		{`{"event":"getUsersOnline","data":{"userIds":["bob"]}}`, GetUsersOnline{UserIDs: []string{"bob"}}},
		{`{"event":"leaveGroup","data":{"groupId":"g1"}}`, LeaveGroup{GroupID: "g1"}},
		{`{"event":"addMembers","data":{"groupId":"g1","memberIds":["carol"]}}`, AddMembers{GroupID: "g1", MemberIDs: []string{"carol"}}},
		{`{"event":"deleteGroup","data":{"groupId":"g1"}}`, DeleteGroup{GroupID: "g1"}},
	}
	for _, tt := range tests {
		t.Run(tt.want.Event(), func(t *testing.T) {
			got, err := Parse([]byte(tt.frame))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Keeps_Empty_User_List(t *testing.T) {
	got, err := Parse([]byte(`{"event":"getUsersOnline","data":{"userIds":[]}}`))
	require.NoError(t, err)
	ids := got.(GetUsersOnline).UserIDs
	require.NotNil(t, ids)
	require.Empty(t, ids)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		field string
	}{
		{"not json", `hello`, ""},
		{"unknown event", `{"event":"dance"}`, "event"},
		{"empty content", `{"event":"sendMessage","data":{"content":"","groupId":"g1"}}`, "content"},
		{"no target", `{"event":"sendMessage","data":{"content":"x"}}`, "groupId"},
		{"both targets", `{"event":"sendMessage","data":{"content":"x","groupId":"g1","targetUserId":"bob"}}`, "groupId"},
		{"unknown field", `{"event":"joinGroup","data":{"groupId":"g1","admin":true}}`, ""},
		{"wrong type", `{"event":"joinGroup","data":{"groupId":42}}`, ""},
		{"missing group name", `{"event":"createGroup","data":{"memberIds":[]}}`, "name"},
		{"blank member id", `{"event":"createGroup","data":{"name":"x","memberIds":[""]}}`, "memberIds[0]"},
		{"negative offset", `{"event":"getMessages","data":{"conversationId":"g1","offset":-1}}`, "offset"},
		{"no message ids", `{"event":"markAsRead","data":{"messageIds":[]}}`, "messageIds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := Parse([]byte(tt.frame))
			req.ErrorIs(err, domain.ErrValidation)

			var verr *domain.ValidationError
			req.True(errors.As(err, &verr))
			if tt.field != "" {
				req.NotEmpty(verr.Fields)
				req.Equal(tt.field, verr.Fields[0].Field)
			}
		})
	}
}

func TestErrorSignal(t *testing.T) {
	tests := []struct {
		err      error
		wantType string
		wantMsg  string
	}{
		{fmt.Errorf("%w: bad token", domain.ErrAuthentication), TypeAuthentication, "authentication failed: bad token"},
		{fmt.Errorf("group g1: %w", domain.ErrNotFound), TypeNotFound, "group g1: not found"},
		{fmt.Errorf("%w: only the owner may delete", domain.ErrPermission), TypePermission, "permission denied: only the owner may delete"},
		{domain.ErrRateLimited, TypeRateLimit, "rate limit exceeded"},
		{errors.New("disk on fire"), TypeInternal, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			sig := ErrorSignal(tt.err)
			require.Equal(t, "error", sig.Event)
			data := sig.Data.(ErrorData)
			require.Equal(t, tt.wantType, data.Type)
			require.Equal(t, tt.wantMsg, data.Message)
		})
	}
}

func TestErrorSignal_CarriesValidationDetails(t *testing.T) {
	req := require.New(t)
	_, err := Parse([]byte(`{"event":"leaveGroup","data":{}}`))
	req.Error(err)

	raw, err := json.Marshal(ErrorSignal(err))
	req.NoError(err)
	req.JSONEq(`{"event":"error","data":{"message":"invalid leaveGroup payload (groupId)","type":"ValidationError","details":[{"field":"groupId","rule":"required"}]}}`, string(raw))
}
