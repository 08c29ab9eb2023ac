package chat

import (
	"context"
	"testing"

	"chatClient/pkg/api"
	"chatClient/pkg/chattest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroupAdmin(backend *chattest.Backend, userId api.ID) (*GroupAdmin, *ConversationStore) {
	store := NewConversationStore(backend, backend, backend, nil, userId, nopLogger())
	return NewGroupAdmin(backend, store, userId, nopLogger()), store
}

func TestNonAdminCannotRemoveMembers(t *testing.T) {
	backend := newBackend(t)
	admin, _ := newGroupAdmin(backend, me)

	_, err := admin.RemoveMember(context.Background(), team.Id, bob)
	assert.ErrorIs(t, err, api.ErrNotAdmin)
	assert.Zero(t, backend.Calls(chattest.OpRemoveMember))
}

func TestCreatorCannotBeRemovedDemotedOrLeave(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	asCreator, _ := newGroupAdmin(backend, alice)
	_, err := asCreator.SetAdmin(ctx, team.Id, alice, false)
	assert.ErrorIs(t, err, api.ErrCreatorImmutable)
	assert.ErrorIs(t, asCreator.Leave(ctx, team.Id), api.ErrCreatorImmutable)

	_, err = asCreator.SetAdmin(ctx, team.Id, me, true)
	require.NoError(t, err)

	asAdmin, _ := newGroupAdmin(backend, me)
	_, err = asAdmin.RemoveMember(ctx, team.Id, alice)
	assert.ErrorIs(t, err, api.ErrCreatorImmutable)
}

func TestMutationsRefetchGroup(t *testing.T) {
	backend := newBackend(t)
	admin, store := newGroupAdmin(backend, alice)
	ctx := context.Background()

	group, err := admin.ToggleAdmin(ctx, team.Id, bob)
	require.NoError(t, err)
	member, _ := group.Member(bob)
	assert.True(t, member.IsAdmin)

	stored, ok := store.Group(team.Id)
	require.True(t, ok)
	assert.True(t, stored.IsAdmin(bob))

	_, err = admin.RemoveMember(ctx, team.Id, bob)
	require.NoError(t, err)
	stored, _ = store.Group(team.Id)
	_, still := stored.Member(bob)
	assert.False(t, still)
	assert.Equal(t, 3, backend.Calls(chattest.OpGetGroup))
}

func TestMemberMayAddWhenAllowed(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	const carol api.ID = "10"

	asMember, _ := newGroupAdmin(backend, me)
	_, err := asMember.AddMember(ctx, team.Id, carol)
	assert.ErrorIs(t, err, api.ErrNotAdmin)

	asCreator, _ := newGroupAdmin(backend, alice)
	_, err = asCreator.ToggleAllowMemberAdd(ctx, team.Id)
	require.NoError(t, err)

	asMember, _ = newGroupAdmin(backend, me)
	group, err := asMember.AddMember(ctx, team.Id, carol)
	require.NoError(t, err)
	_, ok := group.Member(carol)
	assert.True(t, ok)
}

func TestPatchEditsSettings(t *testing.T) {
	backend := newBackend(t)
	admin, store := newGroupAdmin(backend, alice)

	patch := []byte(`[
		{"op": "replace", "path": "/name", "value": "Winter food drive"},
		{"op": "replace", "path": "/joinApprovalRequired", "value": true}
	]`)
	group, err := admin.Patch(context.Background(), team.Id, patch)
	require.NoError(t, err)
	assert.Equal(t, "Winter food drive", group.Name)
	assert.True(t, group.JoinApprovalRequired)
	assert.Equal(t, 1, backend.Calls(chattest.OpUpdateGroup))
	assert.Equal(t, 1, backend.Calls(chattest.OpUpdateGroupSettings))

	stored, _ := store.Group(team.Id)
	assert.Equal(t, "Winter food drive", stored.Name)
}

func TestPatchRejectsBadDocument(t *testing.T) {
	backend := newBackend(t)
	admin, _ := newGroupAdmin(backend, alice)

	_, err := admin.Patch(context.Background(), team.Id, []byte(`[{"op":"remove","path":"/missing"}]`))
	require.Error(t, err)
	assert.Zero(t, backend.Calls(chattest.OpUpdateGroup))
}

func TestJoinWithApprovalThenApprove(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	const carol api.ID = "10"
	backend.AddUser(carol, "Carol")

	asCreator, _ := newGroupAdmin(backend, alice)
	_, err := asCreator.SetJoinApproval(ctx, team.Id, true)
	require.NoError(t, err)

	asCarol, carolStore := newGroupAdmin(backend, carol)
	require.NoError(t, asCarol.Join(ctx, team.Id))
	assert.Empty(t, carolStore.Groups())

	group, err := asCreator.Refresh(ctx, team.Id)
	require.NoError(t, err)
	require.Len(t, group.PendingRequests, 1)

	group, err = asCreator.ApproveJoinRequest(ctx, team.Id, group.PendingRequests[0].Id)
	require.NoError(t, err)
	assert.Empty(t, group.PendingRequests)
	_, ok := group.Member(carol)
	assert.True(t, ok)

	require.NoError(t, asCarol.Leave(ctx, team.Id))
	g, _ := backend.Group(team.Id)
	_, ok = g.Member(carol)
	assert.False(t, ok)
}

func TestSettingsView(t *testing.T) {
	backend := newBackend(t)
	admin, _ := newGroupAdmin(backend, me)

	view, err := admin.Settings(context.Background(), team.Id)
	require.NoError(t, err)
	assert.False(t, view.IsAdmin)
	assert.True(t, view.IsMember)
	assert.False(t, view.CanAddMembers)
	assert.True(t, view.CanLeave)

	_, err = admin.Settings(context.Background(), "404")
	assert.ErrorIs(t, err, api.ErrUnknownGroup)
}
