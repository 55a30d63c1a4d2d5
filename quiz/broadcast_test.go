/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type staticChecker map[string]bool

func (c staticChecker) Exists(code string) bool { return c[code] }

func newTestBroadcaster(clock clockwork.Clock) *Broadcaster {
	return NewBroadcaster(staticChecker{"1234": true}, 25*time.Second, clock)
}

func recvFrame(t *testing.T, sub *Subscription) Frame {
	t.Helper()
	select {
	case f, ok := <-sub.Frames():
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func TestSubscribeUnknownRoom(t *testing.T) {
	b := newTestBroadcaster(clockwork.NewFakeClock())

	if _, err := b.Subscribe("9999"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("got %v, want ErrUnknownRoom", err)
	}
	if n := b.Subscribers("9999"); n != 0 {
		t.Fatalf("failed subscribe left %d subscriptions", n)
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := newTestBroadcaster(clockwork.NewFakeClock())

	var subs []*Subscription
	for i := 0; i < 3; i++ {
		sub, err := b.Subscribe("1234")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		subs = append(subs, sub)
	}

	payload := EncodeQuestions([]Question{{QuestionID: 1, Question: "Q?", Options: []string{"a", "b"}}})
	b.Publish("1234", payload)

	for i, sub := range subs {
		f := recvFrame(t, sub)
		if f.Comment || f.Data != payload {
			t.Fatalf("subscriber %d got %+v", i, f)
		}
	}
}

func TestUnsubscribeRemovesAndCloses(t *testing.T) {
	b := newTestBroadcaster(clockwork.NewFakeClock())

	sub, err := b.Subscribe("1234")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := b.Subscribers("1234"); n != 1 {
		t.Fatalf("Subscribers = %d, want 1", n)
	}

	b.Unsubscribe(sub)

	if n := b.Subscribers("1234"); n != 0 {
		t.Fatalf("Subscribers = %d, want 0", n)
	}
	if _, ok := <-sub.Frames(); ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Idempotent after the fact.
	b.Unsubscribe(sub)
}

func TestKeepAliveEmittedOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newTestBroadcaster(clock)

	sub, err := b.Subscribe("1234")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Start()
	defer b.Stop()

	// Wait for the keep-alive loop to arm its ticker before advancing.
	clock.BlockUntil(1)
	clock.Advance(25 * time.Second)

	f := recvFrame(t, sub)
	if !f.Comment || f.Data != "keep-alive" {
		t.Fatalf("got %+v, want keep-alive comment frame", f)
	}

	clock.Advance(25 * time.Second)
	f = recvFrame(t, sub)
	if !f.Comment {
		t.Fatalf("second interval frame is not a keep-alive: %+v", f)
	}
}

func TestCloseRoomDeliversFinalFrameThenCloses(t *testing.T) {
	b := newTestBroadcaster(clockwork.NewFakeClock())

	first, _ := b.Subscribe("1234")
	second, _ := b.Subscribe("1234")

	b.CloseRoom("1234", EncodeEnd())

	for _, sub := range []*Subscription{first, second} {
		f := recvFrame(t, sub)
		_, end, err := DecodeSnapshot(f.Data)
		if err != nil || !end {
			t.Fatalf("final frame is not the end sentinel: end=%v err=%v", end, err)
		}
		if _, ok := <-sub.Frames(); ok {
			t.Fatal("channel still open after room close")
		}
	}

	if n := b.Subscribers("1234"); n != 0 {
		t.Fatalf("Subscribers = %d after close, want 0", n)
	}

	// No further frames are deliverable; publishing is a no-op.
	b.Publish("1234", EncodeQuestions(nil))
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	b := newTestBroadcaster(clockwork.NewFakeClock())

	slow, _ := b.Subscribe("1234")
	healthy, _ := b.Subscribe("1234")

	// Fill the slow subscriber's buffer without draining it.
	payload := EncodeQuestions(nil)
	for i := 0; i <= subscriptionBuffer; i++ {
		b.Publish("1234", payload)
		// Keep the healthy subscriber drained so only the slow one fills up.
		recvFrame(t, healthy)
	}

	if n := b.Subscribers("1234"); n != 1 {
		t.Fatalf("Subscribers = %d, want 1 after slow consumer eviction", n)
	}

	// The evicted channel is closed once drained.
	for range slow.Frames() {
	}

	// The healthy subscriber still receives broadcasts.
	b.Publish("1234", payload)
	f := recvFrame(t, healthy)
	if f.Data != payload {
		t.Fatalf("healthy subscriber got %+v", f)
	}
}
