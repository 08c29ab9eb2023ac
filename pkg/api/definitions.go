package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID identifies any record handed out by the portal API. The API is not
// consistent about numeric and string ids, so both decode into an ID.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type ThreadKind string

const (
	KindConversation ThreadKind = "conversation"
	KindGroup        ThreadKind = "group"
)

// ThreadRef points at either a one-to-one conversation or a group chat.
type ThreadRef struct {
	Kind ThreadKind `json:"kind"`
	Id   ID         `json:"id"`
}

func ConversationThread(id ID) ThreadRef { return ThreadRef{Kind: KindConversation, Id: id} }

func GroupThread(id ID) ThreadRef { return ThreadRef{Kind: KindGroup, Id: id} }

func (t ThreadRef) IsZero() bool { return t.Id == "" }

func (t ThreadRef) IsGroup() bool { return t.Kind == KindGroup }

func (t ThreadRef) String() string { return string(t.Kind) + ":" + string(t.Id) }

// ParseThreadKind accepts the kind names used in routes and config.
func ParseThreadKind(s string) (ThreadKind, error) {
	switch ThreadKind(strings.ToLower(s)) {
	case KindConversation:
		return KindConversation, nil
	case KindGroup:
		return KindGroup, nil
	}
	return "", fmt.Errorf("unknown thread kind %q", s)
}

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageFile     MessageType = "file"
	MessageCampaign MessageType = "campaign"
	MessageSystem   MessageType = "system"
)

// IsAttachment reports whether messages of this type carry an uploaded file.
func (t MessageType) IsAttachment() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

type Conversation struct {
	Id                 ID          `json:"id"`
	OtherUserId        ID          `json:"otherUserId"`
	OtherUserName      string      `json:"otherUserName"`
	OtherUserAvatar    string      `json:"otherUserAvatar,omitempty"`
	LastMessageContent string      `json:"lastMessageContent,omitempty"`
	LastMessageType    MessageType `json:"lastMessageType,omitempty"`
	LastMessageSender  ID          `json:"lastMessageSender,omitempty"`
	LastMessageTime    *time.Time  `json:"lastMessageTime,omitempty"`
	UnreadCount        int         `json:"unreadCount"`
}

func (c Conversation) Thread() ThreadRef { return ConversationThread(c.Id) }

type GroupMember struct {
	UserId   ID     `json:"userId"`
	IsAdmin  bool   `json:"isAdmin"`
	Avatar   string `json:"avatar,omitempty"`
	FullName string `json:"fullName"`
}

type JoinRequest struct {
	Id        ID        `json:"id"`
	UserId    ID        `json:"userId"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}

type GroupChat struct {
	Id                   ID            `json:"id"`
	Name                 string        `json:"name"`
	Description          string        `json:"description,omitempty"`
	Avatar               string        `json:"avatar,omitempty"`
	CreatorId            ID            `json:"creatorId"`
	Members              []GroupMember `json:"members"`
	AllowMemberAdd       bool          `json:"allowMemberAdd"`
	JoinApprovalRequired bool          `json:"joinApprovalRequired"`
	PendingRequests      []JoinRequest `json:"pendingRequests,omitempty"`
	LastMessageContent   string        `json:"lastMessageContent,omitempty"`
	LastMessageType      MessageType   `json:"lastMessageType,omitempty"`
	LastMessageSender    ID            `json:"lastMessageSender,omitempty"`
	LastMessageTime      *time.Time    `json:"lastMessageTime,omitempty"`
	UnreadCount          int           `json:"unreadCount"`
}

func (g GroupChat) Thread() ThreadRef { return GroupThread(g.Id) }

// Member returns the membership record of userId, if any.
func (g GroupChat) Member(userId ID) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.UserId == userId {
			return m, true
		}
	}
	return GroupMember{}, false
}

// IsAdmin treats the creator as an admin even when the member list says otherwise.
func (g GroupChat) IsAdmin(userId ID) bool {
	if userId == g.CreatorId {
		return true
	}
	m, ok := g.Member(userId)
	return ok && m.IsAdmin
}

type Message struct {
	Id             ID             `json:"id"`
	ConversationId ID             `json:"conversationId,omitempty"`
	GroupId        ID             `json:"groupId,omitempty"`
	SenderId       ID             `json:"senderId"`
	SenderName     string         `json:"senderName,omitempty"`
	Content        string         `json:"content"`
	MessageType    MessageType    `json:"messageType"`
	FileUrl        string         `json:"fileUrl,omitempty"`
	FileName       string         `json:"fileName,omitempty"`
	FileSize       int64          `json:"fileSize,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	IsRead         bool           `json:"isRead"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
	Status         DeliveryStatus `json:"status,omitempty"`

	// Client-side transit flags, never persisted by the API.
	Sending bool `json:"sending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

func (m Message) Thread() ThreadRef {
	if m.GroupId != "" {
		return GroupThread(m.GroupId)
	}
	return ConversationThread(m.ConversationId)
}

// Outgoing rebuilds the request body that creates this message.
func (m Message) Outgoing() OutgoingMessage {
	return OutgoingMessage{
		ConversationId: m.ConversationId,
		GroupId:        m.GroupId,
		SenderId:       m.SenderId,
		Content:        m.Content,
		MessageType:    m.MessageType,
		FileUrl:        m.FileUrl,
		FileName:       m.FileName,
		FileSize:       m.FileSize,
	}
}

type OutgoingMessage struct {
	ConversationId ID          `json:"conversationId,omitempty"`
	GroupId        ID          `json:"groupId,omitempty"`
	SenderId       ID          `json:"senderId"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType"`
	FileUrl        string      `json:"fileUrl,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
}

func (o OutgoingMessage) Thread() ThreadRef {
	if o.GroupId != "" {
		return GroupThread(o.GroupId)
	}
	return ConversationThread(o.ConversationId)
}

type PageQuery struct {
	Limit  int
	Before ID
	UserId ID
}

type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// ThreadEntry is a pin or mute membership record.
type ThreadEntry struct {
	UserId         ID `json:"userId"`
	ConversationId ID `json:"conversationId,omitempty"`
	GroupId        ID `json:"groupId,omitempty"`
}

type (
	PinnedEntry = ThreadEntry
	MutedEntry  = ThreadEntry
)

func (e ThreadEntry) Thread() ThreadRef {
	if e.GroupId != "" {
		return GroupThread(e.GroupId)
	}
	return ConversationThread(e.ConversationId)
}

func NewThreadEntry(userId ID, thread ThreadRef) ThreadEntry {
	e := ThreadEntry{UserId: userId}
	if thread.IsGroup() {
		e.GroupId = thread.Id
	} else {
		e.ConversationId = thread.Id
	}
	return e
}

type TypingUser struct {
	UserId   ID     `json:"userId"`
	FullName string `json:"fullName,omitempty"`
}

type TypingState struct {
	Users []TypingUser `json:"typingUsers"`
}

type UserStatus struct {
	UserId   ID         `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type Upload struct {
	FileUrl  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type NewGroup struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	CreatorId   ID     `json:"creatorId"`
	MemberIds   []ID   `json:"memberIds"`
}

type GroupUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

type GroupSettings struct {
	AllowMemberAdd       bool `json:"allowMemberAdd"`
	JoinApprovalRequired bool `json:"joinApprovalRequired"`
}

// Event types pushed by the server stream.
const (
	EventMessage = "message"
	EventTyping  = "typing"
	EventStatus  = "status"
)

type ServerEvent struct {
	Type    string       `json:"type"`
	Message *Message     `json:"message,omitempty"`
	Typing  []TypingUser `json:"typingUsers,omitempty"`
	Status  *UserStatus  `json:"status,omitempty"`
}
