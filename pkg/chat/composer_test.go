package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"chatClient/pkg/api"
	"chatClient/pkg/chattest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newComposer(t *testing.T, backend *chattest.Backend, thread api.ThreadRef) (*Composer, *Timeline) {
	t.Helper()
	tl := NewTimeline(backend, me, nopLogger())
	tl.Open(thread)
	return NewComposer(backend, tl, me, "Dana Volunteer", nopLogger()), tl
}

func TestSendConfirmsMessage(t *testing.T) {
	backend := newBackend(t)
	c, tl := newComposer(t, backend, direct)

	saved, err := c.Send(context.Background(), direct, "  see you at 9  ")
	require.NoError(t, err)
	assert.False(t, IsTempId(saved.Id))
	assert.Equal(t, "see you at 9", saved.Content)

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, saved.Id, msgs[0].Id)
	assert.False(t, msgs[0].Sending)
	assert.Len(t, backend.Messages(direct), 1)
}

func TestSendOfflineMarksFailed(t *testing.T) {
	backend := newBackend(t)
	backend.Fail(chattest.OpSendMessage, nil)
	c, tl := newComposer(t, backend, direct)

	msg, err := c.Send(context.Background(), direct, "hello")
	require.ErrorIs(t, err, api.ErrTransport)
	assert.True(t, msg.Failed)

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
	assert.False(t, msgs[0].Sending)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, c.Sending())
}

func TestRetryResendsSameBody(t *testing.T) {
	backend := newBackend(t)
	backend.Fail(chattest.OpSendMessage, nil)
	c, tl := newComposer(t, backend, team)
	ctx := context.Background()

	failed, err := c.UploadAttachment(ctx, team, api.MessageFile, "roster.pdf", strings.NewReader("pdf"))
	require.Error(t, err)
	require.True(t, failed.Failed)

	backend.Heal(chattest.OpSendMessage)
	saved, err := c.Retry(ctx, team, failed.Id)
	require.NoError(t, err)

	assert.Equal(t, "roster.pdf", saved.Content)
	assert.Equal(t, api.MessageFile, saved.MessageType)
	assert.Equal(t, failed.FileUrl, saved.FileUrl)
	assert.False(t, saved.Failed)

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, saved.Id, msgs[0].Id)
	assert.False(t, msgs[0].Failed)

	stored := backend.Messages(team)
	require.Len(t, stored, 1)
	assert.Equal(t, team.Id, stored[0].GroupId)
}

func TestRetryRequiresFailedMessage(t *testing.T) {
	backend := newBackend(t)
	c, _ := newComposer(t, backend, direct)
	saved, err := c.Send(context.Background(), direct, "hi")
	require.NoError(t, err)

	_, err = c.Retry(context.Background(), direct, saved.Id)
	assert.ErrorIs(t, err, api.ErrNotFailed)
}

func TestSendBlankIsNoop(t *testing.T) {
	backend := newBackend(t)
	c, tl := newComposer(t, backend, direct)

	_, err := c.Send(context.Background(), direct, " \n\t ")
	assert.ErrorIs(t, err, api.ErrEmptyMessage)
	assert.Zero(t, tl.Len())
	assert.Zero(t, backend.Calls(chattest.OpSendMessage))
}

func TestOneSendInFlight(t *testing.T) {
	backend := newBackend(t)
	release := backend.HoldSends()
	defer release()
	c, tl := newComposer(t, backend, direct)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, direct, "first")
		done <- err
	}()
	require.Eventually(t, c.Sending, waitFor, tick)

	_, err := c.Send(ctx, direct, "second")
	assert.ErrorIs(t, err, api.ErrSendInFlight)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, tl.Len())
	assert.Len(t, backend.Messages(direct), 1)
}

func TestTypingTrueOnceUntilDebounce(t *testing.T) {
	backend := newBackend(t)
	c, _ := newComposer(t, backend, direct)
	c.debounce = 60 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, c.Keystroke(ctx, direct, "h"))
	require.NoError(t, c.Keystroke(ctx, direct, "he"))
	require.NoError(t, c.Keystroke(ctx, direct, "hel"))
	assert.Equal(t, []chattest.TypingCall{{Thread: direct, UserId: me, IsTyping: true}}, backend.TypingCalls())

	require.Eventually(t, func() bool { return len(backend.TypingCalls()) == 2 }, waitFor, tick)
	assert.False(t, backend.TypingCalls()[1].IsTyping)

	require.NoError(t, c.Keystroke(ctx, direct, "hell"))
	calls := backend.TypingCalls()
	require.Len(t, calls, 3)
	assert.True(t, calls[2].IsTyping)
}

func TestSendStopsTyping(t *testing.T) {
	backend := newBackend(t)
	c, _ := newComposer(t, backend, direct)
	ctx := context.Background()

	require.NoError(t, c.Keystroke(ctx, direct, "ok"))
	_, err := c.Send(ctx, direct, "ok")
	require.NoError(t, err)

	calls := backend.TypingCalls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].IsTyping)
	assert.False(t, calls[1].IsTyping)
}

func TestClearingDraftStopsTyping(t *testing.T) {
	backend := newBackend(t)
	c, _ := newComposer(t, backend, direct)
	ctx := context.Background()

	require.NoError(t, c.Keystroke(ctx, direct, "x"))
	require.NoError(t, c.Keystroke(ctx, direct, ""))
	require.NoError(t, c.Keystroke(ctx, direct, ""))

	calls := backend.TypingCalls()
	require.Len(t, calls, 2)
	assert.False(t, calls[1].IsTyping)
}

func TestUploadAttachmentSendsFileMessage(t *testing.T) {
	backend := newBackend(t)
	c, _ := newComposer(t, backend, direct)

	saved, err := c.UploadAttachment(context.Background(), direct, api.MessageImage, "flyer.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "flyer.png", saved.Content)
	assert.Equal(t, api.MessageImage, saved.MessageType)
	assert.Equal(t, int64(len("png-bytes")), saved.FileSize)
	assert.NotEmpty(t, saved.FileUrl)
	assert.False(t, c.Uploading())
}

func TestUploadRejectsUnsupportedKind(t *testing.T) {
	backend := newBackend(t)
	c, _ := newComposer(t, backend, direct)

	_, err := c.UploadAttachment(context.Background(), direct, api.MessageCampaign, "x", strings.NewReader(""))
	assert.ErrorIs(t, err, api.ErrUnsupportedAttachment)
	assert.Zero(t, backend.Calls(chattest.OpUpload))
}
