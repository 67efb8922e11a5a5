package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUnreadCount(t *testing.T) {
	me, them := uuid.New(), uuid.New()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	var msgs []*Message
	for i := 0; i < 6; i++ {
		sender := them
		if i%3 == 0 {
			sender = me
		}
		msgs = append(msgs, &Message{ID: uuid.New(), SenderID: sender, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	assert.Equal(t, 4, UnreadCount(msgs, me, nil), "nil cursor counts every foreign message")

	cursor := base.Add(2 * time.Minute)
	assert.Equal(t, 2, UnreadCount(msgs, me, &cursor), "messages at minute 4 and 5")

	cursor = base.Add(time.Hour)
	assert.Zero(t, UnreadCount(msgs, me, &cursor))
}

func TestSortConversations(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	at := func(m int) *time.Time { v := base.Add(time.Duration(m) * time.Minute); return &v }

	old := &ConversationSummary{ID: uuid.New(), CreatedAt: base, LastMessageAt: at(5)}
	recent := &ConversationSummary{ID: uuid.New(), CreatedAt: base, LastMessageAt: at(30)}
	neverMessaged := &ConversationSummary{ID: uuid.New(), CreatedAt: base.Add(10 * time.Minute)}
	pinnedOld := &ConversationSummary{ID: uuid.New(), CreatedAt: base, LastMessageAt: at(1), Pinned: true}
	pinnedNew := &ConversationSummary{ID: uuid.New(), CreatedAt: base, LastMessageAt: at(20), Pinned: true}

	list := []*ConversationSummary{old, pinnedOld, recent, neverMessaged, pinnedNew}
	SortConversations(list)

	assert.Equal(t, []*ConversationSummary{pinnedNew, pinnedOld, recent, neverMessaged, old}, list)
}

func TestSoftDeleteVisibility(t *testing.T) {
	deletedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &Participant{DeletedAt: &deletedAt}

	before := &Message{CreatedAt: deletedAt.Add(-time.Minute)}
	after := &Message{CreatedAt: deletedAt.Add(time.Minute)}
	assert.True(t, p.HidesMessage(before))
	assert.False(t, p.HidesMessage(after))

	assert.True(t, p.HidesConversation(nil))
	assert.True(t, p.HidesConversation(&before.CreatedAt))
	assert.False(t, p.HidesConversation(&after.CreatedAt))

	active := &Participant{}
	assert.False(t, active.HidesMessage(before))
	assert.False(t, active.HidesConversation(nil))
}
