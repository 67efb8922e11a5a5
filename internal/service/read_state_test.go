package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"construction_chat/internal/domain"
	apperrors "construction_chat/pkg/errors"
)

func TestListOrderAndPins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	me := uuid.New()

	quiet, err := h.chat.SendDirect(ctx, actor(me), uuid.New(), SendInput{Content: "first"})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	busy, err := h.chat.SendDirect(ctx, actor(me), uuid.New(), SendInput{Content: "second"})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	empty, err := h.convs.CreateGroup(ctx, actor(me), "empty", nil)
	require.NoError(t, err)

	list, err := h.reads.List(ctx, me)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []uuid.UUID{empty.ID, busy.ConversationID, quiet.ConversationID}, ids(list))

	h.notifier.reset()
	p, err := h.reads.SetPinned(ctx, actor(me), quiet.ConversationID, true)
	require.NoError(t, err)
	assert.True(t, p.Pinned)
	require.Len(t, h.notifier.ofType(domain.EventConversationChanged), 1)

	list, err = h.reads.List(ctx, me)
	require.NoError(t, err)
	assert.Equal(t, quiet.ConversationID, list[0].ID)
}

func TestPatchState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	msg, err := h.chat.SendDirect(ctx, actor(a), b, SendInput{Content: "x"})
	require.NoError(t, err)

	state, err := h.reads.PatchState(ctx, actor(a), msg.ConversationID, []byte(`[{"op":"replace","path":"/pinned","value":true}]`))
	require.NoError(t, err)
	assert.True(t, state.Pinned)

	p, err := h.store.Conversations().GetParticipant(ctx, msg.ConversationID, a)
	require.NoError(t, err)
	assert.True(t, p.Pinned)
	assert.NotNil(t, p.PinnedAt)

	bad := []string{
		`not json`,
		`[{"op":"replace","path":"/pinned","value":"yes"}]`,
		`[{"op":"add","path":"/muted","value":true}]`,
		`[{"op":"test","path":"/pinned","value":false}]`,
	}
	for _, patch := range bad {
		_, err := h.reads.PatchState(ctx, actor(a), msg.ConversationID, []byte(patch))
		assert.ErrorIs(t, err, apperrors.ErrValidationFailed, patch)
	}

	_, err = h.reads.PatchState(ctx, actor(uuid.New()), msg.ConversationID, []byte(`[]`))
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestUnreadIgnoresOwnMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	msg, err := h.chat.SendDirect(ctx, actor(a), b, SendInput{Content: "1"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
		_, err = h.chat.Send(ctx, actor(b), msg.ConversationID, SendInput{Content: "reply"})
		require.NoError(t, err)
	}

	n, err := h.reads.Unread(ctx, a, msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = h.reads.Unread(ctx, b, msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func ids(list []*domain.ConversationSummary) []uuid.UUID {
	out := make([]uuid.UUID, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
