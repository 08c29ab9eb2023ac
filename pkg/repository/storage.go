package repository

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"chatClient/pkg/api"
)

type storage struct {
	client *Client
}

// NewStorage binds the portal REST contract to client.
func NewStorage(client *Client) api.Storage {
	return &storage{client: client}
}

func threadBase(thread api.ThreadRef) string {
	if thread.IsGroup() {
		return "/api/groups/" + url.PathEscape(thread.Id.String())
	}
	return "/api/conversations/" + url.PathEscape(thread.Id.String())
}

func userBody(userId api.ID) map[string]any {
	return map[string]any{"userId": userId}
}

func (s *storage) GetConversations(ctx context.Context, userId api.ID) ([]api.Conversation, error) {
	var conversations []api.Conversation
	err := s.client.Do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(userId.String()), nil, nil, &conversations)
	return conversations, err
}

func (s *storage) GetOrCreateConversation(ctx context.Context, userId api.ID, otherUserId api.ID) (api.Conversation, error) {
	var conversation api.Conversation
	body := map[string]any{"user1Id": userId, "user2Id": otherUserId}
	err := s.client.Do(ctx, http.MethodPost, "/api/conversations", nil, body, &conversation)
	return conversation, err
}

func (s *storage) GetMessages(ctx context.Context, thread api.ThreadRef, query api.PageQuery) (api.MessagePage, error) {
	q := url.Values{}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Before != "" {
		q.Set("before", query.Before.String())
	}
	if query.UserId != "" {
		q.Set("userId", query.UserId.String())
	}
	var page api.MessagePage
	err := s.client.Do(ctx, http.MethodGet, threadBase(thread)+"/messages", q, nil, &page)
	return page, err
}

func (s *storage) SendMessage(ctx context.Context, message api.OutgoingMessage) (api.Message, error) {
	path := "/api/messages"
	if message.GroupId != "" {
		path = threadBase(message.Thread()) + "/messages"
	}
	var saved api.Message
	err := s.client.Do(ctx, http.MethodPost, path, nil, message, &saved)
	return saved, err
}

func (s *storage) MarkDelivered(ctx context.Context, thread api.ThreadRef, userId api.ID) error {
	return s.client.Do(ctx, http.MethodPut, threadBase(thread)+"/delivered", nil, userBody(userId), nil)
}

func (s *storage) MarkRead(ctx context.Context, thread api.ThreadRef, userId api.ID) error {
	return s.client.Do(ctx, http.MethodPut, threadBase(thread)+"/read", nil, userBody(userId), nil)
}

func (s *storage) GetTyping(ctx context.Context, thread api.ThreadRef, userId api.ID) (api.TypingState, error) {
	var state api.TypingState
	q := url.Values{"userId": {userId.String()}}
	err := s.client.Do(ctx, http.MethodGet, threadBase(thread)+"/typing", q, nil, &state)
	return state, err
}

func (s *storage) SetTyping(ctx context.Context, thread api.ThreadRef, userId api.ID, isTyping bool) error {
	body := map[string]any{"userId": userId, "isTyping": isTyping}
	return s.client.Do(ctx, http.MethodPost, threadBase(thread)+"/typing", nil, body, nil)
}

func (s *storage) Upload(ctx context.Context, kind api.MessageType, fileName string, content io.Reader) (api.Upload, error) {
	var upload api.Upload
	err := s.client.Upload(ctx, "/api/chat/upload/"+url.PathEscape(string(kind)), "file", fileName, content, &upload)
	if err == nil && upload.FileName == "" {
		upload.FileName = fileName
	}
	return upload, err
}

func (s *storage) GetGroups(ctx context.Context, userId api.ID) ([]api.GroupChat, error) {
	var groups []api.GroupChat
	err := s.client.Do(ctx, http.MethodGet, "/api/groups/user/"+url.PathEscape(userId.String()), nil, nil, &groups)
	return groups, err
}

func (s *storage) GetGroup(ctx context.Context, groupId api.ID) (api.GroupChat, error) {
	var group api.GroupChat
	err := s.client.Do(ctx, http.MethodGet, threadBase(api.GroupThread(groupId)), nil, nil, &group)
	return group, err
}

func (s *storage) CreateGroup(ctx context.Context, group api.NewGroup) (api.GroupChat, error) {
	var created api.GroupChat
	err := s.client.Do(ctx, http.MethodPost, "/api/groups", nil, group, &created)
	return created, err
}

func (s *storage) UpdateGroup(ctx context.Context, groupId api.ID, update api.GroupUpdate, actorId api.ID) error {
	body := struct {
		api.GroupUpdate
		ActorId api.ID `json:"actorId"`
	}{update, actorId}
	return s.client.Do(ctx, http.MethodPut, threadBase(api.GroupThread(groupId)), nil, body, nil)
}

func (s *storage) UpdateGroupSettings(ctx context.Context, groupId api.ID, settings api.GroupSettings, actorId api.ID) error {
	body := struct {
		api.GroupSettings
		ActorId api.ID `json:"actorId"`
	}{settings, actorId}
	return s.client.Do(ctx, http.MethodPut, threadBase(api.GroupThread(groupId))+"/settings", nil, body, nil)
}

func (s *storage) AddMember(ctx context.Context, groupId api.ID, userId api.ID, actorId api.ID) error {
	body := map[string]any{"userId": userId, "actorId": actorId}
	return s.client.Do(ctx, http.MethodPost, threadBase(api.GroupThread(groupId))+"/members", nil, body, nil)
}

func (s *storage) RemoveMember(ctx context.Context, groupId api.ID, userId api.ID, actorId api.ID) error {
	path := threadBase(api.GroupThread(groupId)) + "/members/" + url.PathEscape(userId.String())
	return s.client.Do(ctx, http.MethodDelete, path, url.Values{"actorId": {actorId.String()}}, nil, nil)
}

func (s *storage) SetAdmin(ctx context.Context, groupId api.ID, userId api.ID, isAdmin bool, actorId api.ID) error {
	path := threadBase(api.GroupThread(groupId)) + "/members/" + url.PathEscape(userId.String()) + "/admin"
	body := map[string]any{"isAdmin": isAdmin, "actorId": actorId}
	return s.client.Do(ctx, http.MethodPut, path, nil, body, nil)
}

func (s *storage) ApproveJoinRequest(ctx context.Context, groupId api.ID, requestId api.ID, actorId api.ID) error {
	return s.decideJoinRequest(ctx, groupId, requestId, actorId, "approve")
}

func (s *storage) RejectJoinRequest(ctx context.Context, groupId api.ID, requestId api.ID, actorId api.ID) error {
	return s.decideJoinRequest(ctx, groupId, requestId, actorId, "reject")
}

func (s *storage) decideJoinRequest(ctx context.Context, groupId, requestId, actorId api.ID, decision string) error {
	path := threadBase(api.GroupThread(groupId)) + "/requests/" + url.PathEscape(requestId.String()) + "/" + decision
	return s.client.Do(ctx, http.MethodPost, path, nil, map[string]any{"actorId": actorId}, nil)
}

func (s *storage) JoinGroup(ctx context.Context, groupId api.ID, userId api.ID) error {
	return s.client.Do(ctx, http.MethodPost, threadBase(api.GroupThread(groupId))+"/join", nil, userBody(userId), nil)
}

func (s *storage) LeaveGroup(ctx context.Context, groupId api.ID, userId api.ID) error {
	return s.client.Do(ctx, http.MethodPost, threadBase(api.GroupThread(groupId))+"/leave", nil, userBody(userId), nil)
}

func (s *storage) GetPinned(ctx context.Context, userId api.ID) ([]api.PinnedEntry, error) {
	return s.getEntries(ctx, "/api/pinned/", userId)
}

func (s *storage) Pin(ctx context.Context, entry api.PinnedEntry) error {
	return s.client.Do(ctx, http.MethodPost, "/api/pinned", nil, entry, nil)
}

func (s *storage) Unpin(ctx context.Context, entry api.PinnedEntry) error {
	return s.deleteEntry(ctx, "/api/pinned/", entry)
}

func (s *storage) GetMuted(ctx context.Context, userId api.ID) ([]api.MutedEntry, error) {
	return s.getEntries(ctx, "/api/muted/", userId)
}

func (s *storage) Mute(ctx context.Context, entry api.MutedEntry) error {
	return s.client.Do(ctx, http.MethodPost, "/api/muted", nil, entry, nil)
}

func (s *storage) Unmute(ctx context.Context, entry api.MutedEntry) error {
	return s.deleteEntry(ctx, "/api/muted/", entry)
}

func (s *storage) getEntries(ctx context.Context, prefix string, userId api.ID) ([]api.ThreadEntry, error) {
	var entries []api.ThreadEntry
	err := s.client.Do(ctx, http.MethodGet, prefix+url.PathEscape(userId.String()), nil, nil, &entries)
	return entries, err
}

func (s *storage) deleteEntry(ctx context.Context, prefix string, entry api.ThreadEntry) error {
	q := url.Values{}
	if entry.GroupId != "" {
		q.Set("groupId", entry.GroupId.String())
	} else {
		q.Set("conversationId", entry.ConversationId.String())
	}
	return s.client.Do(ctx, http.MethodDelete, prefix+url.PathEscape(entry.UserId.String()), q, nil, nil)
}

func (s *storage) Heartbeat(ctx context.Context, userId api.ID) error {
	return s.client.Do(ctx, http.MethodPost, "/api/volunteers/"+url.PathEscape(userId.String())+"/heartbeat", nil, nil, nil)
}

func (s *storage) GetStatus(ctx context.Context, userId api.ID) (api.UserStatus, error) {
	var status api.UserStatus
	err := s.client.Do(ctx, http.MethodGet, "/api/volunteers/"+url.PathEscape(userId.String())+"/status", nil, nil, &status)
	if status.UserId == "" {
		status.UserId = userId
	}
	return status, err
}
