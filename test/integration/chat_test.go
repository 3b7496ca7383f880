package integration

import (
	"context"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/protocol"
	"github.com/Tyrowin/gochat-gateway/test/testhelpers"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func groupOf(t *testing.T, f testhelpers.Frame) domain.Group {
	t.Helper()
	var data protocol.GroupData
	f.Decode(t, &data)
	return data.Group
}

// TestGroupConversation drives a group from creation until its owner leaves.
func TestGroupConversation(t *testing.T) {
	req := require.New(t)
	gw := testhelpers.StartGateway(t)
	alice := gw.Connect(t, "alice")
	bob := gw.Connect(t, "bob")
	carol := gw.Connect(t, "carol")

	alice.Send(t, "createGroup", map[string]any{"name": "Study Group", "memberIds": []string{"bob"}})
	g := groupOf(t, alice.Expect(t, "groupCreated"))
	req.Equal(domain.UserID("alice"), g.OwnerID)
	req.Equal([]domain.UserID{"alice", "bob"}, g.MemberIDs)
	req.Equal(g.ID, groupOf(t, bob.Expect(t, "addedToGroup")).ID)

	alice.Send(t, "sendMessage", map[string]any{"content": "hello", "groupId": g.ID})
	var received protocol.GroupMessageData
	bob.Expect(t, "receiveGroupMessage").Decode(t, &received)
	req.Equal("alice", received.Sender)
	req.Equal("hello", received.Content)
	req.Equal(g.ID, received.GroupID)
	var ack protocol.MessageSentData
	alice.Expect(t, "messageSent").Decode(t, &ack)
	req.Equal(domain.StatusSuccess, ack.Status)
	req.Equal(received.MessageID, ack.MessageID)

	bob.Send(t, "typing", map[string]any{"groupId": g.ID, "isTyping": true})
	var typing protocol.UserTypingData
	alice.Expect(t, "userTyping").Decode(t, &typing)
	req.Equal(protocol.UserTypingData{UserID: "bob", IsTyping: true, GroupID: g.ID}, typing)

	carol.Send(t, "joinGroup", map[string]any{"groupId": g.ID})
	req.Equal(protocol.TypePermission, carol.Next(t).ErrorType(t))
	carol.Send(t, "getMessages", map[string]any{"conversationId": g.ID})
	req.Equal(protocol.TypePermission, carol.Next(t).ErrorType(t))

	alice.Send(t, "addMembers", map[string]any{"groupId": g.ID, "memberIds": []string{"carol"}})
	req.Len(groupOf(t, alice.Expect(t, "membersAdded")).MemberIDs, 3)
	bob.Expect(t, "membersAdded")
	carol.Expect(t, "addedToGroup")

	carol.Send(t, "getMessages", map[string]any{"conversationId": g.ID})
	var history protocol.MessagesReceivedData
	carol.Expect(t, "messagesReceived").Decode(t, &history)
	req.Equal(string(g.ID), history.ConversationID)
	req.Len(history.Messages, 1)
	req.Equal("hello", history.Messages[0].Content)

	bob.Send(t, "leaveGroup", map[string]any{"groupId": g.ID})
	bob.Expect(t, "leftGroup")
	var left protocol.UserLeftGroupData
	alice.Expect(t, "userLeftGroup").Decode(t, &left)
	req.Equal(domain.UserID("bob"), left.UserID)
	req.Empty(left.NewOwnerID)
	carol.Expect(t, "userLeftGroup")

	alice.Send(t, "leaveGroup", map[string]any{"groupId": g.ID})
	alice.Expect(t, "leftGroup")
	carol.Expect(t, "userLeftGroup").Decode(t, &left)
	req.Equal(domain.UserID("alice"), left.UserID)
	req.Equal(domain.UserID("carol"), left.NewOwnerID)

	stored, err := gw.App.Store.GetGroup(context.Background(), g.ID)
	req.NoError(err)
	req.Equal(domain.UserID("carol"), stored.OwnerID)
	req.Equal([]domain.UserID{"carol"}, stored.MemberIDs)

	carol.Send(t, "leaveGroup", map[string]any{"groupId": g.ID})
	carol.Expect(t, "leftGroup")
	bob.Send(t, "joinGroup", map[string]any{"groupId": g.ID})
	req.Equal(protocol.TypeNotFound, bob.Next(t).ErrorType(t))
}

// TestDirectMessages covers online delivery, offline storage and history.
func TestDirectMessages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	gw := testhelpers.StartGateway(t)
	alice := gw.Connect(t, "alice")
	bob := gw.Connect(t, "bob")

	alice.Send(t, "sendMessage", map[string]any{"content": "hi bob", "targetUserId": "bob"})
	var got protocol.DirectMessageData
	bob.Expect(t, "receiveMessage").Decode(t, &got)
	req.Equal(domain.UserID("alice"), got.SenderID)
	req.Equal(domain.StatusDelivered, got.Status)
	req.False(got.IsOwn)
	var echo protocol.DirectMessageData
	alice.Expect(t, "receiveMessage").Decode(t, &echo)
	req.True(echo.IsOwn)
	req.Equal(got.MessageID, echo.MessageID)
	var ack protocol.MessageSentData
	alice.Expect(t, "messageSent").Decode(t, &ack)
	req.Equal(domain.StatusDelivered, ack.Status)
	req.Equal(domain.UserID("bob"), ack.TargetUserID)

	bob.Send(t, "typing", map[string]any{"targetUserId": "alice", "isTyping": true})
	var typing protocol.UserTypingData
	alice.Expect(t, "userTyping").Decode(t, &typing)
	req.Equal(domain.UserID("bob"), typing.FromUserID)

	req.NoError(bob.Conn.Close())
	req.Eventually(func() bool {
		_, online, err := gw.App.Presence.Lookup(ctx, "bob")
		return err == nil && !online
	}, 2*time.Second, 10*time.Millisecond)

	alice.Send(t, "getUsersOnline", map[string]any{})
	var online protocol.OnlineUsersData
	alice.Expect(t, "onlineUsersReceived").Decode(t, &online)
	req.Equal([]domain.UserID{"alice"}, online.OnlineUsers)

	alice.Send(t, "sendMessage", map[string]any{"content": "are you there?", "targetUserId": "bob"})
	alice.Expect(t, "messageSent").Decode(t, &ack)
	req.Equal(domain.StatusSaved, ack.Status)

	bob = gw.Connect(t, "bob")
	bob.Send(t, "getMessages", map[string]any{"conversationId": domain.DirectConversationID("bob", "alice"), "limit": 1})
	var page protocol.MessagesReceivedData
	bob.Expect(t, "messagesReceived").Decode(t, &page)
	req.Len(page.Messages, 1)
	req.Equal("are you there?", page.Messages[0].Content)
	req.True(page.HasMore)

	bob.Send(t, "getMessages", map[string]any{"conversationId": domain.DirectConversationID("alice", "bob"), "limit": 1, "offset": 1})
	bob.Expect(t, "messagesReceived").Decode(t, &page)
	req.Equal("hi bob", page.Messages[0].Content)
	req.False(page.HasMore)

	bob.Send(t, "markAsRead", map[string]any{"messageIds": []domain.MessageID{got.MessageID, ack.MessageID, "missing"}})
	var read protocol.MarkedAsReadData
	bob.Expect(t, "markedAsRead").Decode(t, &read)
	req.Equal(2, read.Count)

	carol := gw.Connect(t, "carol")
	carol.Send(t, "getMessages", map[string]any{"conversationId": domain.DirectConversationID("alice", "bob")})
	req.Equal(protocol.TypePermission, carol.Next(t).ErrorType(t))
}

// TestInvalidActionsKeepConnectionOpen checks that malformed frames are
// answered with validation errors.
func TestInvalidActionsKeepConnectionOpen(t *testing.T) {
	req := require.New(t)
	gw := testhelpers.StartGateway(t)
	alice := gw.Connect(t, "alice")

	for _, frame := range []string{
		`not json`,
		`{"event":"explode","data":{}}`,
		`{"event":"sendMessage","data":{"content":"","groupId":"g"}}`,
		`{"event":"sendMessage","data":{"content":"x","groupId":"g","targetUserId":"u"}}`,
		`{"event":"sendMessage","data":{"content":"x","targetUserId":"alice"}}`,
	} {
		req.NoError(alice.Conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		req.Equal(protocol.TypeValidation, alice.Next(t).ErrorType(t), frame)
	}

	alice.Send(t, "sendMessage", map[string]any{"content": "hello?", "targetUserId": "nobody"})
	req.Equal(protocol.TypeNotFound, alice.Next(t).ErrorType(t))

	alice.Send(t, "getUsersOnline", map[string]any{})
	alice.Expect(t, "onlineUsersReceived")
}

// TestReconnectRejoinsGroups checks that a member's new connection is
// subscribed to the groups it belongs to.
func TestReconnectRejoinsGroups(t *testing.T) {
	req := require.New(t)
	gw := testhelpers.StartGateway(t)
	alice := gw.Connect(t, "alice")
	bob := gw.Connect(t, "bob")

	alice.Send(t, "createGroup", map[string]any{"name": "team", "memberIds": []string{"bob"}})
	g := groupOf(t, alice.Expect(t, "groupCreated"))
	bob.Expect(t, "addedToGroup")

	req.NoError(bob.Conn.Close())
	req.Eventually(func() bool { return gw.App.Gateway.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)
	bob = gw.Connect(t, "bob")

	alice.Send(t, "sendMessage", map[string]any{"content": "welcome back", "groupId": g.ID})
	var received protocol.GroupMessageData
	bob.Expect(t, "receiveGroupMessage").Decode(t, &received)
	req.Equal("welcome back", received.Content)

	alice.Send(t, "deleteGroup", map[string]any{"groupId": g.ID})
	alice.Expect(t, "messageSent")
	alice.Expect(t, "groupDeleted")
	bob.Expect(t, "groupDeleted")
}
