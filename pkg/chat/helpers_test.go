package chat

import (
	"testing"
	"time"

	"chatClient/pkg/api"
	"chatClient/pkg/chattest"

	"go.uber.org/zap"
)

const (
	me    api.ID = "7"
	alice api.ID = "8"
	bob   api.ID = "9"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	direct = api.ConversationThread("1")
	team   = api.GroupThread("2")
)

func ids(messages []api.Message) []api.ID {
	out := make([]api.ID, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Id)
	}
	return out
}

func msgs(thread api.ThreadRef, idList ...api.ID) []api.Message {
	out := make([]api.Message, 0, len(idList))
	for _, id := range idList {
		m := api.Message{Id: id, SenderId: alice, Content: "m" + id.String(), MessageType: api.MessageText}
		if thread.IsGroup() {
			m.GroupId = thread.Id
		} else {
			m.ConversationId = thread.Id
		}
		out = append(out, m)
	}
	return out
}

func newBackend(t *testing.T) *chattest.Backend {
	t.Helper()
	b := chattest.NewBackend()
	b.AddUser(me, "Dana Volunteer")
	b.AddUser(alice, "Alice")
	b.AddUser(bob, "Bob")
	b.AddConversation(api.Conversation{Id: direct.Id, OtherUserId: alice, OtherUserName: "Alice"})
	b.AddGroup(api.GroupChat{
		Id:        team.Id,
		Name:      "Food drive",
		CreatorId: alice,
		Members: []api.GroupMember{
			{UserId: alice, IsAdmin: true, FullName: "Alice"},
			{UserId: me, FullName: "Dana Volunteer"},
			{UserId: bob, FullName: "Bob"},
		},
	})
	return b
}

func nopLogger() *zap.Logger { return zap.NewNop() }
