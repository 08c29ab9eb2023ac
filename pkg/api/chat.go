package api

import (
	"context"
	"io"
)

// ChatRepository is the portal's messaging contract.
type ChatRepository interface {
	GetConversations(ctx context.Context, userId ID) ([]Conversation, error)
	GetOrCreateConversation(ctx context.Context, userId ID, otherUserId ID) (Conversation, error)
	GetMessages(ctx context.Context, thread ThreadRef, query PageQuery) (MessagePage, error)
	SendMessage(ctx context.Context, message OutgoingMessage) (Message, error)
	MarkDelivered(ctx context.Context, thread ThreadRef, userId ID) error
	MarkRead(ctx context.Context, thread ThreadRef, userId ID) error
	GetTyping(ctx context.Context, thread ThreadRef, userId ID) (TypingState, error)
	SetTyping(ctx context.Context, thread ThreadRef, userId ID, isTyping bool) error
	Upload(ctx context.Context, kind MessageType, fileName string, content io.Reader) (Upload, error)
}

// GroupRepository covers group chats and their membership administration.
type GroupRepository interface {
	GetGroups(ctx context.Context, userId ID) ([]GroupChat, error)
	GetGroup(ctx context.Context, groupId ID) (GroupChat, error)
	CreateGroup(ctx context.Context, group NewGroup) (GroupChat, error)
	UpdateGroup(ctx context.Context, groupId ID, update GroupUpdate, actorId ID) error
	UpdateGroupSettings(ctx context.Context, groupId ID, settings GroupSettings, actorId ID) error
	AddMember(ctx context.Context, groupId ID, userId ID, actorId ID) error
	RemoveMember(ctx context.Context, groupId ID, userId ID, actorId ID) error
	SetAdmin(ctx context.Context, groupId ID, userId ID, isAdmin bool, actorId ID) error
	ApproveJoinRequest(ctx context.Context, groupId ID, requestId ID, actorId ID) error
	RejectJoinRequest(ctx context.Context, groupId ID, requestId ID, actorId ID) error
	JoinGroup(ctx context.Context, groupId ID, userId ID) error
	LeaveGroup(ctx context.Context, groupId ID, userId ID) error
}

// PreferenceRepository stores per-user pin and mute sets.
type PreferenceRepository interface {
	GetPinned(ctx context.Context, userId ID) ([]PinnedEntry, error)
	Pin(ctx context.Context, entry PinnedEntry) error
	Unpin(ctx context.Context, entry PinnedEntry) error
	GetMuted(ctx context.Context, userId ID) ([]MutedEntry, error)
	Mute(ctx context.Context, entry MutedEntry) error
	Unmute(ctx context.Context, entry MutedEntry) error
}

type PresenceRepository interface {
	Heartbeat(ctx context.Context, userId ID) error
	GetStatus(ctx context.Context, userId ID) (UserStatus, error)
}

// Storage is everything the client needs from the portal.
type Storage interface {
	ChatRepository
	GroupRepository
	PreferenceRepository
	PresenceRepository
}

// EventStream pushes server-side changes for one thread. The channel is
// closed when ctx is done.
type EventStream interface {
	Subscribe(ctx context.Context, thread ThreadRef) (<-chan ServerEvent, error)
}
