package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatClient/pkg/api"
	"chatClient/pkg/cache"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MinGroupMembers is how many members besides the creator a new group needs.
const MinGroupMembers = 2

// SnapshotTTL bounds how long cached thread lists are trusted at startup.
const SnapshotTTL = 24 * time.Hour

// ThreadSummary is one row of the chat list.
type ThreadSummary struct {
	Thread             api.ThreadRef   `json:"thread"`
	Title              string          `json:"title"`
	Avatar             string          `json:"avatar,omitempty"`
	LastMessageContent string          `json:"lastMessageContent,omitempty"`
	LastMessageType    api.MessageType `json:"lastMessageType,omitempty"`
	LastMessageSender  api.ID          `json:"lastMessageSender,omitempty"`
	LastMessageTime    *time.Time      `json:"lastMessageTime,omitempty"`
	UnreadCount        int             `json:"unreadCount"`
	Pinned             bool            `json:"pinned"`
	Muted              bool            `json:"muted"`
}

// ConversationStore holds the current user's thread lists and their pin and
// mute sets. Pin and mute changes are applied by re-fetching the set after
// the server accepts them.
type ConversationStore struct {
	chats  api.ChatRepository
	groups api.GroupRepository
	prefs  api.PreferenceRepository
	cache  cache.Cache
	userId api.ID
	log    *zap.Logger

	changes *notifier

	mu            sync.RWMutex
	conversations []api.Conversation
	groupChats    []api.GroupChat
	pinned        map[api.ThreadRef]struct{}
	muted         map[api.ThreadRef]struct{}
	refreshed     bool
	restored      bool
}

type snapshot struct {
	Conversations []api.Conversation `json:"conversations"`
	Groups        []api.GroupChat    `json:"groups"`
	Pinned        []api.ThreadRef    `json:"pinned"`
	Muted         []api.ThreadRef    `json:"muted"`
}

func NewConversationStore(chats api.ChatRepository, groups api.GroupRepository, prefs api.PreferenceRepository, c cache.Cache, userId api.ID, logger *zap.Logger) *ConversationStore {
	return &ConversationStore{
		chats:   chats,
		groups:  groups,
		prefs:   prefs,
		cache:   c,
		userId:  userId,
		log:     logger,
		changes: &notifier{},
		pinned:  make(map[api.ThreadRef]struct{}),
		muted:   make(map[api.ThreadRef]struct{}),
	}
}

func (s *ConversationStore) snapshotKey() string {
	return "chat:threads:" + s.userId.String()
}

// Restore fills the store from the cache when it has not been refreshed yet.
func (s *ConversationStore) Restore(ctx context.Context) bool {
	if s.cache == nil {
		return false
	}
	var snap snapshot
	found, err := s.cache.Get(ctx, s.snapshotKey(), &snap)
	if err != nil {
		s.log.Debug("reading thread snapshot", zap.Error(err))
		return false
	}
	if !found {
		return false
	}

	s.mu.Lock()
	if s.refreshed {
		s.mu.Unlock()
		return false
	}
	s.conversations = snap.Conversations
	s.groupChats = snap.Groups
	s.pinned = toSet(snap.Pinned)
	s.muted = toSet(snap.Muted)
	s.restored = true
	s.mu.Unlock()

	s.changes.emit(ChangeThreads, api.ThreadRef{})
	return true
}

func (s *ConversationStore) persist(ctx context.Context) {
	if s.cache == nil {
		return
	}
	// Copies: the cache marshals after the lock is released.
	s.mu.RLock()
	snap := snapshot{
		Conversations: append([]api.Conversation(nil), s.conversations...),
		Groups:        append([]api.GroupChat(nil), s.groupChats...),
		Pinned:        fromSet(s.pinned),
		Muted:         fromSet(s.muted),
	}
	s.mu.RUnlock()
	if err := s.cache.Set(ctx, s.snapshotKey(), snap, SnapshotTTL); err != nil {
		s.log.Debug("writing thread snapshot", zap.Error(err))
	}
}

// RefreshAll fetches conversations, groups, pins and mutes in parallel. A
// failing fetch is logged and leaves its part stale; the others still land.
// The first failure is returned.
func (s *ConversationStore) RefreshAll(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.logged("conversations", s.RefreshConversations(ctx)) })
	g.Go(func() error { return s.logged("groups", s.RefreshGroups(ctx)) })
	g.Go(func() error { return s.logged("pinned", s.RefreshPinned(ctx)) })
	g.Go(func() error { return s.logged("muted", s.RefreshMuted(ctx)) })
	err := g.Wait()

	s.mu.Lock()
	s.refreshed = true
	s.mu.Unlock()
	s.changes.emit(ChangeThreads, api.ThreadRef{})

	s.persist(ctx)
	return err
}

// Ready reports whether the lists hold anything worth showing, fetched or
// restored from the cache.
func (s *ConversationStore) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed || s.restored
}

func (s *ConversationStore) logged(part string, err error) error {
	if err != nil {
		s.log.Warn("refreshing chat list", zap.String("part", part), zap.Error(err))
	}
	return err
}

func (s *ConversationStore) RefreshConversations(ctx context.Context) error {
	conversations, err := s.chats.GetConversations(ctx, s.userId)
	if err != nil {
		return fmt.Errorf("fetching conversations: %w", err)
	}
	s.mu.Lock()
	s.conversations = conversations
	s.mu.Unlock()
	s.changes.emit(ChangeThreads, api.ThreadRef{})
	return nil
}

func (s *ConversationStore) RefreshGroups(ctx context.Context) error {
	groups, err := s.groups.GetGroups(ctx, s.userId)
	if err != nil {
		return fmt.Errorf("fetching groups: %w", err)
	}
	s.mu.Lock()
	s.groupChats = groups
	s.mu.Unlock()
	s.changes.emit(ChangeThreads, api.ThreadRef{})
	return nil
}

func (s *ConversationStore) RefreshPinned(ctx context.Context) error {
	entries, err := s.prefs.GetPinned(ctx, s.userId)
	if err != nil {
		return fmt.Errorf("fetching pinned threads: %w", err)
	}
	s.mu.Lock()
	s.pinned = entrySet(entries)
	s.mu.Unlock()
	s.changes.emit(ChangeThreads, api.ThreadRef{})
	return nil
}

func (s *ConversationStore) RefreshMuted(ctx context.Context) error {
	entries, err := s.prefs.GetMuted(ctx, s.userId)
	if err != nil {
		return fmt.Errorf("fetching muted threads: %w", err)
	}
	s.mu.Lock()
	s.muted = entrySet(entries)
	s.mu.Unlock()
	s.changes.emit(ChangeThreads, api.ThreadRef{})
	return nil
}

func (s *ConversationStore) Pin(ctx context.Context, thread api.ThreadRef) error {
	if err := s.prefs.Pin(ctx, api.NewThreadEntry(s.userId, thread)); err != nil {
		return fmt.Errorf("pinning %s: %w", thread, err)
	}
	return s.afterPreference(ctx, s.RefreshPinned)
}

func (s *ConversationStore) Unpin(ctx context.Context, thread api.ThreadRef) error {
	if err := s.prefs.Unpin(ctx, api.NewThreadEntry(s.userId, thread)); err != nil {
		return fmt.Errorf("unpinning %s: %w", thread, err)
	}
	return s.afterPreference(ctx, s.RefreshPinned)
}

func (s *ConversationStore) Mute(ctx context.Context, thread api.ThreadRef) error {
	if err := s.prefs.Mute(ctx, api.NewThreadEntry(s.userId, thread)); err != nil {
		return fmt.Errorf("muting %s: %w", thread, err)
	}
	return s.afterPreference(ctx, s.RefreshMuted)
}

func (s *ConversationStore) Unmute(ctx context.Context, thread api.ThreadRef) error {
	if err := s.prefs.Unmute(ctx, api.NewThreadEntry(s.userId, thread)); err != nil {
		return fmt.Errorf("unmuting %s: %w", thread, err)
	}
	return s.afterPreference(ctx, s.RefreshMuted)
}

func (s *ConversationStore) TogglePin(ctx context.Context, thread api.ThreadRef) error {
	if s.IsPinned(thread) {
		return s.Unpin(ctx, thread)
	}
	return s.Pin(ctx, thread)
}

func (s *ConversationStore) ToggleMute(ctx context.Context, thread api.ThreadRef) error {
	if s.IsMuted(thread) {
		return s.Unmute(ctx, thread)
	}
	return s.Mute(ctx, thread)
}

func (s *ConversationStore) afterPreference(ctx context.Context, refresh func(context.Context) error) error {
	if err := refresh(ctx); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

func (s *ConversationStore) IsPinned(thread api.ThreadRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pinned[thread]
	return ok
}

func (s *ConversationStore) IsMuted(thread api.ThreadRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.muted[thread]
	return ok
}

// Pinned returns the pinned set in a stable order.
func (s *ConversationStore) Pinned() []api.ThreadRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fromSet(s.pinned)
}

func (s *ConversationStore) Muted() []api.ThreadRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fromSet(s.muted)
}

func (s *ConversationStore) Conversations() []api.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.Conversation(nil), s.conversations...)
}

func (s *ConversationStore) Groups() []api.GroupChat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.GroupChat(nil), s.groupChats...)
}

func (s *ConversationStore) Conversation(id api.ID) (api.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.Id == id {
			return c, true
		}
	}
	return api.Conversation{}, false
}

func (s *ConversationStore) Group(id api.ID) (api.GroupChat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groupChats {
		if g.Id == id {
			return g, true
		}
	}
	return api.GroupChat{}, false
}

// PutGroup stores an authoritative copy of a group, adding it if unknown.
func (s *ConversationStore) PutGroup(group api.GroupChat) {
	s.mu.Lock()
	replaced := false
	for i := range s.groupChats {
		if s.groupChats[i].Id == group.Id {
			s.groupChats[i] = group
			replaced = true
			break
		}
	}
	if !replaced {
		s.groupChats = append(s.groupChats, group)
	}
	s.mu.Unlock()
	s.changes.emit(ChangeGroup, group.Thread())
}

// DropGroup forgets a group the user left.
func (s *ConversationStore) DropGroup(id api.ID) {
	s.mu.Lock()
	for i := range s.groupChats {
		if s.groupChats[i].Id == id {
			s.groupChats = append(s.groupChats[:i], s.groupChats[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.changes.emit(ChangeThreads, api.GroupThread(id))
}

// OpenConversation gets or creates the one-to-one thread with otherUserId.
func (s *ConversationStore) OpenConversation(ctx context.Context, otherUserId api.ID) (api.Conversation, error) {
	conversation, err := s.chats.GetOrCreateConversation(ctx, s.userId, otherUserId)
	if err != nil {
		return api.Conversation{}, fmt.Errorf("opening conversation with %s: %w", otherUserId, err)
	}

	s.mu.Lock()
	known := false
	for i := range s.conversations {
		if s.conversations[i].Id == conversation.Id {
			s.conversations[i] = conversation
			known = true
			break
		}
	}
	if !known {
		s.conversations = append(s.conversations, conversation)
	}
	s.mu.Unlock()

	s.changes.emit(ChangeThreads, conversation.Thread())
	return conversation, nil
}

// CreateGroup requires MinGroupMembers members besides the creator.
func (s *ConversationStore) CreateGroup(ctx context.Context, group api.NewGroup) (api.GroupChat, error) {
	group.CreatorId = s.userId
	members := make([]api.ID, 0, len(group.MemberIds))
	seen := map[api.ID]bool{s.userId: true}
	for _, id := range group.MemberIds {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < MinGroupMembers {
		return api.GroupChat{}, api.ErrGroupTooSmall
	}
	group.MemberIds = members

	created, err := s.groups.CreateGroup(ctx, group)
	if err != nil {
		return api.GroupChat{}, fmt.Errorf("creating group %q: %w", group.Name, err)
	}
	s.PutGroup(created)
	s.changes.emit(ChangeThreads, created.Thread())
	return created, nil
}

// ClearUnread zeroes the unread counter of thread locally once it is opened.
func (s *ConversationStore) ClearUnread(thread api.ThreadRef) {
	s.mu.Lock()
	changed := false
	if thread.IsGroup() {
		for i := range s.groupChats {
			if s.groupChats[i].Id == thread.Id && s.groupChats[i].UnreadCount != 0 {
				s.groupChats[i].UnreadCount = 0
				changed = true
			}
		}
	} else {
		for i := range s.conversations {
			if s.conversations[i].Id == thread.Id && s.conversations[i].UnreadCount != 0 {
				s.conversations[i].UnreadCount = 0
				changed = true
			}
		}
	}
	s.mu.Unlock()
	if changed {
		s.changes.emit(ChangeThreads, thread)
	}
}

// Threads merges conversations and groups into the chat list: pinned first,
// then most recent activity first.
func (s *ConversationStore) Threads() []ThreadSummary {
	s.mu.RLock()
	out := make([]ThreadSummary, 0, len(s.conversations)+len(s.groupChats))
	for _, c := range s.conversations {
		_, pinned := s.pinned[c.Thread()]
		_, muted := s.muted[c.Thread()]
		out = append(out, ThreadSummary{
			Thread:             c.Thread(),
			Title:              c.OtherUserName,
			Avatar:             c.OtherUserAvatar,
			LastMessageContent: c.LastMessageContent,
			LastMessageType:    c.LastMessageType,
			LastMessageSender:  c.LastMessageSender,
			LastMessageTime:    c.LastMessageTime,
			UnreadCount:        c.UnreadCount,
			Pinned:             pinned,
			Muted:              muted,
		})
	}
	for _, g := range s.groupChats {
		_, pinned := s.pinned[g.Thread()]
		_, muted := s.muted[g.Thread()]
		out = append(out, ThreadSummary{
			Thread:             g.Thread(),
			Title:              g.Name,
			Avatar:             g.Avatar,
			LastMessageContent: g.LastMessageContent,
			LastMessageType:    g.LastMessageType,
			LastMessageSender:  g.LastMessageSender,
			LastMessageTime:    g.LastMessageTime,
			UnreadCount:        g.UnreadCount,
			Pinned:             pinned,
			Muted:              muted,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return after(out[i].LastMessageTime, out[j].LastMessageTime)
	})
	return out
}

func after(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}

func entrySet(entries []api.ThreadEntry) map[api.ThreadRef]struct{} {
	set := make(map[api.ThreadRef]struct{}, len(entries))
	for _, e := range entries {
		if e.ConversationId == "" && e.GroupId == "" {
			continue
		}
		set[e.Thread()] = struct{}{}
	}
	return set
}

func toSet(refs []api.ThreadRef) map[api.ThreadRef]struct{} {
	set := make(map[api.ThreadRef]struct{}, len(refs))
	for _, r := range refs {
		set[r] = struct{}{}
	}
	return set
}

func fromSet(set map[api.ThreadRef]struct{}) []api.ThreadRef {
	out := make([]api.ThreadRef, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
