package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"construction_chat/internal/domain"
	"construction_chat/pkg/logger"
)

type fakeSubscriber struct {
	id     string
	userID uuid.UUID
	fail   bool

	mu     sync.Mutex
	frames []domain.Event
}

func newFake(userID uuid.UUID) *fakeSubscriber {
	return &fakeSubscriber{id: uuid.NewString(), userID: userID}
}

func (f *fakeSubscriber) ID() string        { return f.id }
func (f *fakeSubscriber) UserID() uuid.UUID { return f.userID }

func (f *fakeSubscriber) Send(payload []byte) error {
	if f.fail {
		return errors.New("gone")
	}
	event, err := domain.DecodeEvent(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, event)
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) received() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.frames...)
}

func pushed(convID, sender uuid.UUID) domain.MessagePushed {
	return domain.MessagePushed{
		Channel: domain.ConversationChannel(convID),
		Message: &domain.Message{ID: uuid.New(), ConversationID: convID, SenderID: sender, Content: "x", CreatedAt: time.Now()},
	}
}

func TestPublishExcludesOnlyOriginConnection(t *testing.T) {
	h := New(logger.Nop())
	alice, bob := uuid.New(), uuid.New()
	convID := uuid.New()

	aliceTab1 := newFake(alice)
	aliceTab2 := newFake(alice)
	bobTab := newFake(bob)
	for _, s := range []*fakeSubscriber{aliceTab1, aliceTab2, bobTab} {
		h.Register(s)
		require.True(t, h.Subscribe(s, convID))
	}

	n := h.Publish(domain.ConversationChannel(convID), pushed(convID, alice), aliceTab1.ID())
	assert.Equal(t, 2, n)
	assert.Empty(t, aliceTab1.received())
	assert.Len(t, aliceTab2.received(), 1, "the sender's other tab still gets the push")
	assert.Len(t, bobTab.received(), 1)
}

func TestPublishOnlyReachesSubscribers(t *testing.T) {
	h := New(logger.Nop())
	convID := uuid.New()
	inside := newFake(uuid.New())
	outside := newFake(uuid.New())
	h.Register(inside)
	h.Register(outside)
	h.Subscribe(inside, convID)

	h.Publish(domain.ConversationChannel(convID), pushed(convID, uuid.New()), "")
	assert.Len(t, inside.received(), 1)
	assert.Empty(t, outside.received())

	h.Unsubscribe(inside, convID)
	h.Publish(domain.ConversationChannel(convID), pushed(convID, uuid.New()), "")
	assert.Len(t, inside.received(), 1)
}

func TestListUpdateSkipsViewersForMessages(t *testing.T) {
	h := New(logger.Nop())
	user := uuid.New()
	convID := uuid.New()

	viewing := newFake(user)
	elsewhere := newFake(user)
	h.Register(viewing)
	h.Register(elsewhere)
	h.Subscribe(viewing, convID)

	h.PublishListUpdate(user, domain.ConversationChanged{ConversationID: convID, Reason: domain.ChangeReasonMessage}, "")
	assert.Empty(t, viewing.received())
	assert.Len(t, elsewhere.received(), 1)

	h.PublishListUpdate(user, domain.ConversationChanged{ConversationID: convID, Reason: domain.ChangeReasonPinned}, elsewhere.ID())
	assert.Len(t, viewing.received(), 1, "pin changes reach viewers too")
	assert.Len(t, elsewhere.received(), 1, "origin excluded")
}

func TestUnregisterDropsEverything(t *testing.T) {
	h := New(logger.Nop())
	sub := newFake(uuid.New())
	h.Register(sub)
	h.Subscribe(sub, uuid.New())
	assert.Equal(t, Stats{Subscribers: 1, Channels: 2}, h.Stats())

	h.Unregister(sub)
	h.Unregister(sub)
	assert.Equal(t, Stats{}, h.Stats())
	assert.False(t, h.Subscribe(sub, uuid.New()))
}

func TestDropUserLeavesOtherUsers(t *testing.T) {
	h := New(logger.Nop())
	convID := uuid.New()
	removed := newFake(uuid.New())
	stays := newFake(uuid.New())
	h.Register(removed)
	h.Register(stays)
	h.Subscribe(removed, convID)
	h.Subscribe(stays, convID)

	h.DropUser(removed.UserID(), convID)
	ch := domain.ConversationChannel(convID)
	assert.False(t, h.Subscribed(removed.ID(), ch))
	assert.True(t, h.Subscribed(stays.ID(), ch))
}

func TestFailedSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New(logger.Nop())
	convID := uuid.New()
	broken := newFake(uuid.New())
	broken.fail = true
	ok := newFake(uuid.New())
	h.Register(broken)
	h.Register(ok)
	h.Subscribe(broken, convID)
	h.Subscribe(ok, convID)

	n := h.Publish(domain.ConversationChannel(convID), pushed(convID, uuid.New()), "")
	assert.Equal(t, 1, n)
	assert.Len(t, ok.received(), 1)
}

func TestConcurrentJoinLeavePublish(t *testing.T) {
	h := New(logger.Nop())
	convID := uuid.New()
	ch := domain.ConversationChannel(convID)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := newFake(uuid.New())
			h.Register(sub)
			h.Subscribe(sub, convID)
			h.Unsubscribe(sub, convID)
			h.Unregister(sub)
		}()
		go func(i int) {
			defer wg.Done()
			h.Publish(ch, pushed(convID, uuid.New()), fmt.Sprint(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, Stats{}, h.Stats())
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	h := New(logger.Nop())
	convID := uuid.New()
	sub := newFake(uuid.New())
	h.Register(sub)
	h.Subscribe(sub, convID)

	wrongChannel := pushed(uuid.New(), uuid.New())
	assert.Zero(t, h.Publish(domain.ConversationChannel(convID), domain.MessagePushed{
		Channel: domain.ConversationChannel(convID),
		Message: wrongChannel.Message,
	}, ""))
	assert.Empty(t, sub.received())
}
