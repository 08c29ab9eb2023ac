package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"chatClient/pkg/api"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"
)

var (
	// ErrInvalidPatch is returned when a settings patch cannot be decoded or applied.
	ErrInvalidPatch   = errors.New("invalid settings patch")
	ErrEmptyGroupName = errors.New("group name cannot be empty")
)

// GroupEditable is the part of a group a settings screen can change. It is
// the document JSON Patch edits are applied to.
type GroupEditable struct {
	Name                 string `json:"name"`
	Description          string `json:"description"`
	Avatar               string `json:"avatar"`
	AllowMemberAdd       bool   `json:"allowMemberAdd"`
	JoinApprovalRequired bool   `json:"joinApprovalRequired"`
}

func editableOf(g api.GroupChat) GroupEditable {
	return GroupEditable{
		Name:                 g.Name,
		Description:          g.Description,
		Avatar:               g.Avatar,
		AllowMemberAdd:       g.AllowMemberAdd,
		JoinApprovalRequired: g.JoinApprovalRequired,
	}
}

// GroupAdmin runs membership and settings changes for groups. Nothing is
// applied locally: every change is sent to the server and the group is then
// fetched again and stored.
type GroupAdmin struct {
	repo   api.GroupRepository
	store  *ConversationStore
	userId api.ID
	log    *zap.Logger
}

func NewGroupAdmin(repo api.GroupRepository, store *ConversationStore, userId api.ID, logger *zap.Logger) *GroupAdmin {
	return &GroupAdmin{repo: repo, store: store, userId: userId, log: logger}
}

// Refresh fetches groupId and stores it.
func (a *GroupAdmin) Refresh(ctx context.Context, groupId api.ID) (api.GroupChat, error) {
	group, err := a.repo.GetGroup(ctx, groupId)
	if err != nil {
		if api.IsStatus(err, http.StatusNotFound) {
			return api.GroupChat{}, fmt.Errorf("%w: %s", api.ErrUnknownGroup, groupId)
		}
		return api.GroupChat{}, fmt.Errorf("fetching group %s: %w", groupId, err)
	}
	a.store.PutGroup(group)
	return group, nil
}

// Settings builds the settings screen of groupId from a fresh copy.
func (a *GroupAdmin) Settings(ctx context.Context, groupId api.ID) (GroupSettingsView, error) {
	group, err := a.Refresh(ctx, groupId)
	if err != nil {
		return GroupSettingsView{}, err
	}
	return NewGroupSettingsView(group, a.userId), nil
}

func (a *GroupAdmin) current(ctx context.Context, groupId api.ID) (api.GroupChat, error) {
	if group, ok := a.store.Group(groupId); ok {
		return group, nil
	}
	return a.Refresh(ctx, groupId)
}

func (a *GroupAdmin) admin(ctx context.Context, groupId api.ID) (api.GroupChat, error) {
	group, err := a.current(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	if !group.IsAdmin(a.userId) {
		return api.GroupChat{}, api.ErrNotAdmin
	}
	return group, nil
}

// apply runs call and then re-fetches the group whether or not the call
// succeeded, so the stored copy matches the server either way.
func (a *GroupAdmin) apply(ctx context.Context, groupId api.ID, action string, call func(context.Context) error) (api.GroupChat, error) {
	callErr := call(ctx)
	group, err := a.Refresh(ctx, groupId)
	if callErr != nil {
		if err != nil {
			a.log.Debug("refetch after failed group change", zap.Stringer("group", groupId), zap.Error(err))
		}
		return api.GroupChat{}, fmt.Errorf("%s in group %s: %w", action, groupId, callErr)
	}
	return group, err
}

// AddMember is open to admins, and to any member when the group allows
// members to add others.
func (a *GroupAdmin) AddMember(ctx context.Context, groupId api.ID, userId api.ID) (api.GroupChat, error) {
	group, err := a.current(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	if !NewGroupSettingsView(group, a.userId).CanAddMembers {
		return api.GroupChat{}, api.ErrNotAdmin
	}
	return a.apply(ctx, groupId, "adding member", func(ctx context.Context) error {
		return a.repo.AddMember(ctx, groupId, userId, a.userId)
	})
}

func (a *GroupAdmin) RemoveMember(ctx context.Context, groupId api.ID, userId api.ID) (api.GroupChat, error) {
	group, err := a.admin(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	if userId == group.CreatorId {
		return api.GroupChat{}, api.ErrCreatorImmutable
	}
	return a.apply(ctx, groupId, "removing member", func(ctx context.Context) error {
		return a.repo.RemoveMember(ctx, groupId, userId, a.userId)
	})
}

func (a *GroupAdmin) SetAdmin(ctx context.Context, groupId api.ID, userId api.ID, isAdmin bool) (api.GroupChat, error) {
	group, err := a.admin(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	if userId == group.CreatorId {
		return api.GroupChat{}, api.ErrCreatorImmutable
	}
	if _, ok := group.Member(userId); !ok {
		return api.GroupChat{}, fmt.Errorf("%s is not a member of group %s", userId, groupId)
	}
	return a.apply(ctx, groupId, "changing admin", func(ctx context.Context) error {
		return a.repo.SetAdmin(ctx, groupId, userId, isAdmin, a.userId)
	})
}

func (a *GroupAdmin) ToggleAdmin(ctx context.Context, groupId api.ID, userId api.ID) (api.GroupChat, error) {
	group, err := a.current(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	member, _ := group.Member(userId)
	return a.SetAdmin(ctx, groupId, userId, !member.IsAdmin)
}

func (a *GroupAdmin) SetJoinApproval(ctx context.Context, groupId api.ID, required bool) (api.GroupChat, error) {
	group, err := a.admin(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	settings := api.GroupSettings{AllowMemberAdd: group.AllowMemberAdd, JoinApprovalRequired: required}
	return a.updateSettings(ctx, groupId, settings)
}

func (a *GroupAdmin) SetAllowMemberAdd(ctx context.Context, groupId api.ID, allow bool) (api.GroupChat, error) {
	group, err := a.admin(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	settings := api.GroupSettings{AllowMemberAdd: allow, JoinApprovalRequired: group.JoinApprovalRequired}
	return a.updateSettings(ctx, groupId, settings)
}

func (a *GroupAdmin) ToggleJoinApproval(ctx context.Context, groupId api.ID) (api.GroupChat, error) {
	group, err := a.current(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	return a.SetJoinApproval(ctx, groupId, !group.JoinApprovalRequired)
}

func (a *GroupAdmin) ToggleAllowMemberAdd(ctx context.Context, groupId api.ID) (api.GroupChat, error) {
	group, err := a.current(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}
	return a.SetAllowMemberAdd(ctx, groupId, !group.AllowMemberAdd)
}

func (a *GroupAdmin) updateSettings(ctx context.Context, groupId api.ID, settings api.GroupSettings) (api.GroupChat, error) {
	return a.apply(ctx, groupId, "updating settings", func(ctx context.Context) error {
		return a.repo.UpdateGroupSettings(ctx, groupId, settings, a.userId)
	})
}

func (a *GroupAdmin) ApproveJoinRequest(ctx context.Context, groupId api.ID, requestId api.ID) (api.GroupChat, error) {
	if _, err := a.admin(ctx, groupId); err != nil {
		return api.GroupChat{}, err
	}
	return a.apply(ctx, groupId, "approving join request", func(ctx context.Context) error {
		return a.repo.ApproveJoinRequest(ctx, groupId, requestId, a.userId)
	})
}

func (a *GroupAdmin) RejectJoinRequest(ctx context.Context, groupId api.ID, requestId api.ID) (api.GroupChat, error) {
	if _, err := a.admin(ctx, groupId); err != nil {
		return api.GroupChat{}, err
	}
	return a.apply(ctx, groupId, "rejecting join request", func(ctx context.Context) error {
		return a.repo.RejectJoinRequest(ctx, groupId, requestId, a.userId)
	})
}

// Edit changes name, description or avatar. Nil fields are left alone.
func (a *GroupAdmin) Edit(ctx context.Context, groupId api.ID, update api.GroupUpdate) (api.GroupChat, error) {
	if _, err := a.admin(ctx, groupId); err != nil {
		return api.GroupChat{}, err
	}
	if update.Name != nil && *update.Name == "" {
		return api.GroupChat{}, ErrEmptyGroupName
	}
	return a.apply(ctx, groupId, "editing", func(ctx context.Context) error {
		return a.repo.UpdateGroup(ctx, groupId, update, a.userId)
	})
}

// Patch applies an RFC 6902 JSON Patch to the editable settings of groupId
// and sends whatever it changed.
func (a *GroupAdmin) Patch(ctx context.Context, groupId api.ID, patchJSON []byte) (api.GroupChat, error) {
	group, err := a.admin(ctx, groupId)
	if err != nil {
		return api.GroupChat{}, err
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return api.GroupChat{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	before := editableOf(group)
	doc, err := json.Marshal(before)
	if err != nil {
		return api.GroupChat{}, err
	}
	modified, err := patch.Apply(doc)
	if err != nil {
		return api.GroupChat{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	var after GroupEditable
	if err := json.Unmarshal(modified, &after); err != nil {
		return api.GroupChat{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	var update api.GroupUpdate
	if after.Name != before.Name {
		update.Name = &after.Name
	}
	if after.Description != before.Description {
		update.Description = &after.Description
	}
	if after.Avatar != before.Avatar {
		update.Avatar = &after.Avatar
	}
	if update.Name != nil || update.Description != nil || update.Avatar != nil {
		if group, err = a.Edit(ctx, groupId, update); err != nil {
			return api.GroupChat{}, err
		}
	}
	if after.AllowMemberAdd != before.AllowMemberAdd || after.JoinApprovalRequired != before.JoinApprovalRequired {
		settings := api.GroupSettings{AllowMemberAdd: after.AllowMemberAdd, JoinApprovalRequired: after.JoinApprovalRequired}
		if group, err = a.updateSettings(ctx, groupId, settings); err != nil {
			return api.GroupChat{}, err
		}
	}
	return group, nil
}

// Join asks to join groupId. When the group requires approval the user only
// shows up in it once an admin approves.
func (a *GroupAdmin) Join(ctx context.Context, groupId api.ID) error {
	if err := a.repo.JoinGroup(ctx, groupId, a.userId); err != nil {
		return fmt.Errorf("joining group %s: %w", groupId, err)
	}
	if err := a.store.RefreshGroups(ctx); err != nil {
		a.log.Warn("refreshing groups after join", zap.Error(err))
	}
	return nil
}

func (a *GroupAdmin) Leave(ctx context.Context, groupId api.ID) error {
	group, err := a.current(ctx, groupId)
	if err != nil {
		return err
	}
	if group.CreatorId == a.userId {
		return api.ErrCreatorImmutable
	}
	if err := a.repo.LeaveGroup(ctx, groupId, a.userId); err != nil {
		return fmt.Errorf("leaving group %s: %w", groupId, err)
	}
	a.store.DropGroup(groupId)
	return nil
}
