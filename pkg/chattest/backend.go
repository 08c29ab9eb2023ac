// Package chattest provides an in-memory portal backend for tests.
package chattest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"chatClient/pkg/api"
)

// ErrOffline is what a failing call returns unless another error is given.
var ErrOffline = fmt.Errorf("%w: connection refused", api.ErrTransport)

// Operation names accepted by Fail, Heal and Calls.
const (
	OpGetConversations    = "GetConversations"
	OpGetOrCreate         = "GetOrCreateConversation"
	OpGetMessages         = "GetMessages"
	OpSendMessage         = "SendMessage"
	OpMarkDelivered       = "MarkDelivered"
	OpMarkRead            = "MarkRead"
	OpGetTyping           = "GetTyping"
	OpSetTyping           = "SetTyping"
	OpUpload              = "Upload"
	OpGetGroups           = "GetGroups"
	OpGetGroup            = "GetGroup"
	OpCreateGroup         = "CreateGroup"
	OpUpdateGroup         = "UpdateGroup"
	OpUpdateGroupSettings = "UpdateGroupSettings"
	OpAddMember           = "AddMember"
	OpRemoveMember        = "RemoveMember"
	OpSetAdmin            = "SetAdmin"
	OpApproveJoinRequest  = "ApproveJoinRequest"
	OpRejectJoinRequest   = "RejectJoinRequest"
	OpJoinGroup           = "JoinGroup"
	OpLeaveGroup          = "LeaveGroup"
	OpGetPinned           = "GetPinned"
	OpPin                 = "Pin"
	OpUnpin               = "Unpin"
	OpGetMuted            = "GetMuted"
	OpMute                = "Mute"
	OpUnmute              = "Unmute"
	OpHeartbeat           = "Heartbeat"
	OpGetStatus           = "GetStatus"
)

// TypingCall records one typing broadcast.
type TypingCall struct {
	Thread   api.ThreadRef
	UserId   api.ID
	IsTyping bool
}

// Backend is an api.Storage kept in memory. Pin and mute entries are stored
// as posted, duplicates included, the way a careless server would.
type Backend struct {
	mu            sync.Mutex
	nextId        int
	names         map[api.ID]string
	conversations []api.Conversation
	groups        map[api.ID]api.GroupChat
	messages      map[api.ThreadRef][]api.Message
	pinned        []api.ThreadEntry
	muted         []api.ThreadEntry
	typing        map[api.ThreadRef][]api.TypingUser
	status        map[api.ID]api.UserStatus
	failures      map[string]error
	calls         map[string]int
	typingCalls   []TypingCall
	sendGate      chan struct{}
}

func NewBackend() *Backend {
	return &Backend{
		nextId:   100,
		names:    make(map[api.ID]string),
		groups:   make(map[api.ID]api.GroupChat),
		messages: make(map[api.ThreadRef][]api.Message),
		typing:   make(map[api.ThreadRef][]api.TypingUser),
		status:   make(map[api.ID]api.UserStatus),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

var _ api.Storage = (*Backend)(nil)

// Fail makes op return err, or ErrOffline when err is nil, until Heal.
func (b *Backend) Fail(op string, err error) {
	if err == nil {
		err = ErrOffline
	}
	b.mu.Lock()
	b.failures[op] = err
	b.mu.Unlock()
}

func (b *Backend) Heal(op string) {
	b.mu.Lock()
	delete(b.failures, op)
	b.mu.Unlock()
}

func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *Backend) TypingCalls() []TypingCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TypingCall(nil), b.typingCalls...)
}

// HoldSends blocks SendMessage until the returned release func is called.
func (b *Backend) HoldSends() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.sendGate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.sendGate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

// enter counts op and returns its injected failure. Callers hold b.mu.
func (b *Backend) enter(op string) error {
	b.calls[op]++
	return b.failures[op]
}

func (b *Backend) newId() api.ID {
	b.nextId++
	return api.ID(strconv.Itoa(b.nextId))
}

func notFound(what string, id api.ID) error {
	return &api.StatusError{Method: http.MethodGet, Path: what + "/" + id.String(), StatusCode: http.StatusNotFound, Body: "not found"}
}

func forbidden(path string) error {
	return &api.StatusError{Method: http.MethodPost, Path: path, StatusCode: http.StatusForbidden, Body: "forbidden"}
}

// AddUser registers a display name used for conversations and typing.
func (b *Backend) AddUser(id api.ID, name string) {
	b.mu.Lock()
	b.names[id] = name
	b.mu.Unlock()
}

// AddConversation stores a conversation as seen by its owner.
func (b *Backend) AddConversation(c api.Conversation) {
	b.mu.Lock()
	b.conversations = append(b.conversations, c)
	b.mu.Unlock()
}

func (b *Backend) AddGroup(g api.GroupChat) {
	b.mu.Lock()
	b.groups[g.Id] = g
	b.mu.Unlock()
}

func (b *Backend) Group(id api.ID) (api.GroupChat, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[id]
	return g, ok
}

// Post stores a message as if another client had sent it and returns it
// with its assigned id.
func (b *Backend) Post(thread api.ThreadRef, senderId api.ID, content string) api.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store(api.OutgoingMessage{
		ConversationId: idIf(!thread.IsGroup(), thread.Id),
		GroupId:        idIf(thread.IsGroup(), thread.Id),
		SenderId:       senderId,
		Content:        content,
		MessageType:    api.MessageText,
	})
}

// Seed posts n text messages numbered from 1 into thread.
func (b *Backend) Seed(thread api.ThreadRef, senderId api.ID, n int) []api.Message {
	out := make([]api.Message, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, b.Post(thread, senderId, "message "+strconv.Itoa(i)))
	}
	return out
}

func (b *Backend) Messages(thread api.ThreadRef) []api.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Message(nil), b.messages[thread]...)
}

// SetTypers replaces who the server reports as typing in thread.
func (b *Backend) SetTypers(thread api.ThreadRef, users ...api.TypingUser) {
	b.mu.Lock()
	b.typing[thread] = users
	b.mu.Unlock()
}

func (b *Backend) SetStatus(status api.UserStatus) {
	b.mu.Lock()
	b.status[status.UserId] = status
	b.mu.Unlock()
}

func (b *Backend) PinnedEntries() []api.ThreadEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.ThreadEntry(nil), b.pinned...)
}

func idIf(ok bool, id api.ID) api.ID {
	if ok {
		return id
	}
	return ""
}

func (b *Backend) store(out api.OutgoingMessage) api.Message {
	msg := api.Message{
		Id:             b.newId(),
		ConversationId: out.ConversationId,
		GroupId:        out.GroupId,
		SenderId:       out.SenderId,
		SenderName:     b.names[out.SenderId],
		Content:        out.Content,
		MessageType:    out.MessageType,
		FileUrl:        out.FileUrl,
		FileName:       out.FileName,
		FileSize:       out.FileSize,
		CreatedAt:      time.Now().UTC(),
		Status:         api.StatusSent,
	}
	thread := out.Thread()
	b.messages[thread] = append(b.messages[thread], msg)
	return msg
}

func (b *Backend) GetConversations(ctx context.Context, userId api.ID) ([]api.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetConversations); err != nil {
		return nil, err
	}
	return append([]api.Conversation(nil), b.conversations...), nil
}

func (b *Backend) GetOrCreateConversation(ctx context.Context, userId api.ID, otherUserId api.ID) (api.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetOrCreate); err != nil {
		return api.Conversation{}, err
	}
	for _, c := range b.conversations {
		if c.OtherUserId == otherUserId {
			return c, nil
		}
	}
	c := api.Conversation{Id: b.newId(), OtherUserId: otherUserId, OtherUserName: b.names[otherUserId]}
	b.conversations = append(b.conversations, c)
	return c, nil
}

func (b *Backend) GetMessages(ctx context.Context, thread api.ThreadRef, query api.PageQuery) (api.MessagePage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetMessages); err != nil {
		return api.MessagePage{}, err
	}
	all := b.messages[thread]
	end := len(all)
	if query.Before != "" {
		end = 0
		for i, m := range all {
			if m.Id == query.Before {
				end = i
				break
			}
		}
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return api.MessagePage{
		Messages: append([]api.Message{}, all[start:end]...),
		HasMore:  start > 0,
	}, nil
}

func (b *Backend) SendMessage(ctx context.Context, message api.OutgoingMessage) (api.Message, error) {
	b.mu.Lock()
	gate := b.sendGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return api.Message{}, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpSendMessage); err != nil {
		return api.Message{}, err
	}
	return b.store(message), nil
}

func (b *Backend) MarkDelivered(ctx context.Context, thread api.ThreadRef, userId api.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpMarkDelivered); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i, m := range b.messages[thread] {
		if m.SenderId != userId && m.DeliveredAt == nil {
			b.messages[thread][i].DeliveredAt = &now
			b.messages[thread][i].Status = api.StatusDelivered
		}
	}
	return nil
}

func (b *Backend) MarkRead(ctx context.Context, thread api.ThreadRef, userId api.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpMarkRead); err != nil {
		return err
	}
	for i, m := range b.messages[thread] {
		if m.SenderId != userId && !m.IsRead {
			b.messages[thread][i].IsRead = true
			b.messages[thread][i].Status = api.StatusRead
		}
	}
	return nil
}

func (b *Backend) GetTyping(ctx context.Context, thread api.ThreadRef, userId api.ID) (api.TypingState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetTyping); err != nil {
		return api.TypingState{}, err
	}
	return api.TypingState{Users: append([]api.TypingUser(nil), b.typing[thread]...)}, nil
}

func (b *Backend) SetTyping(ctx context.Context, thread api.ThreadRef, userId api.ID, isTyping bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpSetTyping); err != nil {
		return err
	}
	b.typingCalls = append(b.typingCalls, TypingCall{Thread: thread, UserId: userId, IsTyping: isTyping})
	return nil
}

func (b *Backend) Upload(ctx context.Context, kind api.MessageType, fileName string, content io.Reader) (api.Upload, error) {
	n, err := io.Copy(io.Discard, content)
	if err != nil {
		return api.Upload{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpUpload); err != nil {
		return api.Upload{}, err
	}
	return api.Upload{
		FileUrl:  "https://files.example.test/" + string(kind) + "/" + fileName,
		FileName: fileName,
		FileSize: n,
	}, nil
}

func (b *Backend) GetGroups(ctx context.Context, userId api.ID) ([]api.GroupChat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetGroups); err != nil {
		return nil, err
	}
	var out []api.GroupChat
	for _, g := range b.groups {
		if _, ok := g.Member(userId); ok || g.CreatorId == userId {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (b *Backend) GetGroup(ctx context.Context, groupId api.ID) (api.GroupChat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetGroup); err != nil {
		return api.GroupChat{}, err
	}
	g, ok := b.groups[groupId]
	if !ok {
		return api.GroupChat{}, notFound("/api/groups", groupId)
	}
	return g, nil
}

func (b *Backend) CreateGroup(ctx context.Context, group api.NewGroup) (api.GroupChat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpCreateGroup); err != nil {
		return api.GroupChat{}, err
	}
	g := api.GroupChat{
		Id:          b.newId(),
		Name:        group.Name,
		Description: group.Description,
		Avatar:      group.Avatar,
		CreatorId:   group.CreatorId,
		Members:     []api.GroupMember{{UserId: group.CreatorId, IsAdmin: true, FullName: b.names[group.CreatorId]}},
	}
	for _, id := range group.MemberIds {
		g.Members = append(g.Members, api.GroupMember{UserId: id, FullName: b.names[id]})
	}
	b.groups[g.Id] = g
	return g, nil
}

// mutateGroup applies fn to a stored group after checking actorId may act.
func (b *Backend) mutateGroup(op string, groupId api.ID, actorId api.ID, adminOnly bool, fn func(*api.GroupChat) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(op); err != nil {
		return err
	}
	g, ok := b.groups[groupId]
	if !ok {
		return notFound("/api/groups", groupId)
	}
	if adminOnly && !g.IsAdmin(actorId) {
		return forbidden("/api/groups/" + groupId.String())
	}
	if err := fn(&g); err != nil {
		return err
	}
	b.groups[groupId] = g
	return nil
}

func (b *Backend) UpdateGroup(ctx context.Context, groupId api.ID, update api.GroupUpdate, actorId api.ID) error {
	return b.mutateGroup(OpUpdateGroup, groupId, actorId, true, func(g *api.GroupChat) error {
		if update.Name != nil {
			g.Name = *update.Name
		}
		if update.Description != nil {
			g.Description = *update.Description
		}
		if update.Avatar != nil {
			g.Avatar = *update.Avatar
		}
		return nil
	})
}

func (b *Backend) UpdateGroupSettings(ctx context.Context, groupId api.ID, settings api.GroupSettings, actorId api.ID) error {
	return b.mutateGroup(OpUpdateGroupSettings, groupId, actorId, true, func(g *api.GroupChat) error {
		g.AllowMemberAdd = settings.AllowMemberAdd
		g.JoinApprovalRequired = settings.JoinApprovalRequired
		return nil
	})
}

func (b *Backend) AddMember(ctx context.Context, groupId api.ID, userId api.ID, actorId api.ID) error {
	return b.mutateGroup(OpAddMember, groupId, actorId, false, func(g *api.GroupChat) error {
		if !g.IsAdmin(actorId) && !g.AllowMemberAdd {
			return forbidden("/api/groups/" + groupId.String() + "/members")
		}
		if _, ok := g.Member(userId); ok {
			return nil
		}
		g.Members = append(g.Members, api.GroupMember{UserId: userId, FullName: b.names[userId]})
		return nil
	})
}

func (b *Backend) RemoveMember(ctx context.Context, groupId api.ID, userId api.ID, actorId api.ID) error {
	return b.mutateGroup(OpRemoveMember, groupId, actorId, true, func(g *api.GroupChat) error {
		g.Members = withoutMember(g.Members, userId)
		return nil
	})
}

func (b *Backend) SetAdmin(ctx context.Context, groupId api.ID, userId api.ID, isAdmin bool, actorId api.ID) error {
	return b.mutateGroup(OpSetAdmin, groupId, actorId, true, func(g *api.GroupChat) error {
		for i := range g.Members {
			if g.Members[i].UserId == userId {
				g.Members[i].IsAdmin = isAdmin
				return nil
			}
		}
		return notFound("/api/groups/"+groupId.String()+"/members", userId)
	})
}

func (b *Backend) ApproveJoinRequest(ctx context.Context, groupId api.ID, requestId api.ID, actorId api.ID) error {
	return b.mutateGroup(OpApproveJoinRequest, groupId, actorId, true, func(g *api.GroupChat) error {
		req, ok := takeRequest(g, requestId)
		if !ok {
			return notFound("/api/groups/"+groupId.String()+"/requests", requestId)
		}
		g.Members = append(g.Members, api.GroupMember{UserId: req.UserId, FullName: req.FullName})
		return nil
	})
}

func (b *Backend) RejectJoinRequest(ctx context.Context, groupId api.ID, requestId api.ID, actorId api.ID) error {
	return b.mutateGroup(OpRejectJoinRequest, groupId, actorId, true, func(g *api.GroupChat) error {
		if _, ok := takeRequest(g, requestId); !ok {
			return notFound("/api/groups/"+groupId.String()+"/requests", requestId)
		}
		return nil
	})
}

func (b *Backend) JoinGroup(ctx context.Context, groupId api.ID, userId api.ID) error {
	return b.mutateGroup(OpJoinGroup, groupId, userId, false, func(g *api.GroupChat) error {
		if _, ok := g.Member(userId); ok {
			return nil
		}
		if g.JoinApprovalRequired {
			g.PendingRequests = append(g.PendingRequests, api.JoinRequest{
				Id:        b.newId(),
				UserId:    userId,
				FullName:  b.names[userId],
				CreatedAt: time.Now().UTC(),
			})
			return nil
		}
		g.Members = append(g.Members, api.GroupMember{UserId: userId, FullName: b.names[userId]})
		return nil
	})
}

func (b *Backend) LeaveGroup(ctx context.Context, groupId api.ID, userId api.ID) error {
	return b.mutateGroup(OpLeaveGroup, groupId, userId, false, func(g *api.GroupChat) error {
		if g.CreatorId == userId {
			return forbidden("/api/groups/" + groupId.String() + "/leave")
		}
		g.Members = withoutMember(g.Members, userId)
		return nil
	})
}

func withoutMember(members []api.GroupMember, userId api.ID) []api.GroupMember {
	out := members[:0:0]
	for _, m := range members {
		if m.UserId != userId {
			out = append(out, m)
		}
	}
	return out
}

func takeRequest(g *api.GroupChat, requestId api.ID) (api.JoinRequest, bool) {
	for i, r := range g.PendingRequests {
		if r.Id == requestId {
			g.PendingRequests = append(g.PendingRequests[:i:i], g.PendingRequests[i+1:]...)
			return r, true
		}
	}
	return api.JoinRequest{}, false
}

func (b *Backend) GetPinned(ctx context.Context, userId api.ID) ([]api.PinnedEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetPinned); err != nil {
		return nil, err
	}
	return entriesOf(b.pinned, userId), nil
}

func (b *Backend) Pin(ctx context.Context, entry api.PinnedEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpPin); err != nil {
		return err
	}
	b.pinned = append(b.pinned, entry)
	return nil
}

func (b *Backend) Unpin(ctx context.Context, entry api.PinnedEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpUnpin); err != nil {
		return err
	}
	b.pinned = withoutEntry(b.pinned, entry)
	return nil
}

func (b *Backend) GetMuted(ctx context.Context, userId api.ID) ([]api.MutedEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetMuted); err != nil {
		return nil, err
	}
	return entriesOf(b.muted, userId), nil
}

func (b *Backend) Mute(ctx context.Context, entry api.MutedEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpMute); err != nil {
		return err
	}
	b.muted = append(b.muted, entry)
	return nil
}

func (b *Backend) Unmute(ctx context.Context, entry api.MutedEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpUnmute); err != nil {
		return err
	}
	b.muted = withoutEntry(b.muted, entry)
	return nil
}

func entriesOf(entries []api.ThreadEntry, userId api.ID) []api.ThreadEntry {
	var out []api.ThreadEntry
	for _, e := range entries {
		if e.UserId == userId {
			out = append(out, e)
		}
	}
	return out
}

func withoutEntry(entries []api.ThreadEntry, entry api.ThreadEntry) []api.ThreadEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e != entry {
			out = append(out, e)
		}
	}
	return out
}

func (b *Backend) Heartbeat(ctx context.Context, userId api.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpHeartbeat); err != nil {
		return err
	}
	now := time.Now().UTC()
	b.status[userId] = api.UserStatus{UserId: userId, IsOnline: true, LastSeen: &now}
	return nil
}

func (b *Backend) GetStatus(ctx context.Context, userId api.ID) (api.UserStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(OpGetStatus); err != nil {
		return api.UserStatus{}, err
	}
	if s, ok := b.status[userId]; ok {
		return s, nil
	}
	return api.UserStatus{UserId: userId}, nil
}
