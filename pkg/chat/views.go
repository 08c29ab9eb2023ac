package chat

import (
	"encoding/json"

	"chatClient/pkg/api"
)

// ThreadView is the state of the open thread screen. It is one of
// ThreadLoading, ThreadEmpty, ThreadReady or ThreadError; nil means no
// thread is open.
type ThreadView interface {
	threadView()
}

type ThreadLoading struct {
	Thread api.ThreadRef `json:"thread"`
}

type ThreadEmpty struct {
	Thread api.ThreadRef   `json:"thread"`
	Typing TypingView      `json:"typing"`
	Status *api.UserStatus `json:"status,omitempty"`
	Group  *api.GroupChat  `json:"group,omitempty"`
}

type ThreadReady struct {
	Thread    api.ThreadRef   `json:"thread"`
	Messages  []api.Message   `json:"messages"`
	HasMore   bool            `json:"hasMore"`
	Sending   bool            `json:"sending"`
	Uploading bool            `json:"uploading"`
	Typing    TypingView      `json:"typing"`
	Status    *api.UserStatus `json:"status,omitempty"`
	Group     *api.GroupChat  `json:"group,omitempty"`
}

type ThreadError struct {
	Thread api.ThreadRef `json:"thread"`
	Err    string        `json:"error"`
}

func (ThreadLoading) threadView() {}
func (ThreadEmpty) threadView()   {}
func (ThreadReady) threadView()   {}
func (ThreadError) threadView()   {}

func (v ThreadLoading) MarshalJSON() ([]byte, error) {
	type plain ThreadLoading
	return tagged("loading", plain(v))
}

func (v ThreadEmpty) MarshalJSON() ([]byte, error) {
	type plain ThreadEmpty
	return tagged("empty", plain(v))
}

func (v ThreadReady) MarshalJSON() ([]byte, error) {
	type plain ThreadReady
	return tagged("ready", plain(v))
}

func (v ThreadError) MarshalJSON() ([]byte, error) {
	type plain ThreadError
	return tagged("error", plain(v))
}

// ListView is the state of the chat list: ListLoading or ListReady.
type ListView interface {
	listView()
}

type ListLoading struct{}

type ListReady struct {
	Threads []ThreadSummary `json:"threads"`
}

func (ListLoading) listView() {}
func (ListReady) listView()   {}

func (v ListLoading) MarshalJSON() ([]byte, error) {
	return tagged("loading", struct{}{})
}

func (v ListReady) MarshalJSON() ([]byte, error) {
	type plain ListReady
	return tagged("ready", plain(v))
}

// tagged encodes v as an object carrying a "state" discriminator.
func tagged(state string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["state"], err = json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// GroupSettingsView is the group settings screen as seen by one user.
type GroupSettingsView struct {
	Group         api.GroupChat `json:"group"`
	IsAdmin       bool          `json:"isAdmin"`
	IsCreator     bool          `json:"isCreator"`
	IsMember      bool          `json:"isMember"`
	CanAddMembers bool          `json:"canAddMembers"`
	CanLeave      bool          `json:"canLeave"`
}

func NewGroupSettingsView(group api.GroupChat, userId api.ID) GroupSettingsView {
	_, member := group.Member(userId)
	creator := group.CreatorId == userId
	admin := group.IsAdmin(userId)
	return GroupSettingsView{
		Group:         group,
		IsAdmin:       admin,
		IsCreator:     creator,
		IsMember:      member || creator,
		CanAddMembers: admin || (member && group.AllowMemberAdd),
		CanLeave:      member && !creator,
	}
}
