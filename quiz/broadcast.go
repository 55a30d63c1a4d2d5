/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Frame is one outbound event-stream frame. Comment frames carry
// keep-alive markers; data frames carry codec-encoded snapshots.
type Frame struct {
	Comment bool
	Data    string
}

// Subscription is one member's open channel onto a room's broadcast
// feed. Created on subscribe, destroyed when the transport closes or the
// room ends; never persisted.
type Subscription struct {
	ID     string
	Code   string
	frames chan Frame
}

// Frames delivers every broadcast for the room plus periodic
// keep-alives. The channel is closed when the subscription is removed.
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

// RoomChecker answers whether a room code is known. The registry
// implements it.
type RoomChecker interface {
	Exists(code string) bool
}

// Broadcaster fans encoded snapshots out to every open subscription of a
// room, and emits a keep-alive on each subscription at a fixed interval
// so intermediate proxies don't cut idle streams.
//
// Subscriptions are keyed by token, so removal on the frequent
// disconnect/reconnect churn is O(1). A subscriber whose buffer is full
// is treated as closed; a failed delivery never aborts the broadcast to
// the rest.
type Broadcaster struct {
	mu    sync.Mutex
	rooms map[string]map[string]*Subscription

	checker  RoomChecker
	clock    clockwork.Clock
	interval time.Duration
	done     chan struct{}
}

const subscriptionBuffer = 16

func NewBroadcaster(checker RoomChecker, interval time.Duration, clock clockwork.Clock) *Broadcaster {
	return &Broadcaster{
		rooms:    make(map[string]map[string]*Subscription),
		checker:  checker,
		clock:    clock,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// SetChecker installs the room lookup used to validate subscribe
// requests. The registry and broadcaster reference each other, so one
// of the two links is installed after construction. Call before Start.
func (b *Broadcaster) SetChecker(checker RoomChecker) {
	b.checker = checker
}

// Start launches the keep-alive loop. Stop ends it.
func (b *Broadcaster) Start() {
	go func() {
		ticker := b.clock.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-b.done:
				return
			case <-ticker.Chan():
				b.keepAlive()
			}
		}
	}()
}

func (b *Broadcaster) Stop() {
	close(b.done)
}

// Subscribe opens a channel onto the room's feed. Unknown codes fail
// before any stream state exists.
func (b *Broadcaster) Subscribe(code string) (*Subscription, error) {
	if !b.checker.Exists(code) {
		return nil, ErrUnknownRoom
	}

	sub := &Subscription{
		ID:     uuid.NewString(),
		Code:   code,
		frames: make(chan Frame, subscriptionBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[code]
	if !ok {
		subs = make(map[string]*Subscription)
		b.rooms[code] = subs
	}
	subs[sub.ID] = sub

	return sub, nil
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call after the room has already closed it.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[sub.Code]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}

	delete(subs, sub.ID)
	close(sub.frames)
	if len(subs) == 0 {
		delete(b.rooms, sub.Code)
	}
}

// Publish implements Publisher: one encoded snapshot to every open
// subscription of the room.
func (b *Broadcaster) Publish(code, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sendLocked(code, Frame{Data: payload})
}

// CloseRoom implements Publisher: deliver a final payload, then close
// every subscription of the room.
func (b *Broadcaster) CloseRoom(code, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[code]
	if !ok {
		return
	}

	for _, sub := range subs {
		select {
		case sub.frames <- Frame{Data: payload}:
		default:
		}
		close(sub.frames)
	}
	delete(b.rooms, code)
}

// Subscribers reports how many channels are currently open for a room.
func (b *Broadcaster) Subscribers(code string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.rooms[code])
}

func (b *Broadcaster) keepAlive() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for code := range b.rooms {
		b.sendLocked(code, Frame{Comment: true, Data: "keep-alive"})
	}
}

func (b *Broadcaster) sendLocked(code string, f Frame) {
	subs, ok := b.rooms[code]
	if !ok {
		return
	}

	for id, sub := range subs {
		select {
		case sub.frames <- f:
		default:
			// Slow or dead consumer; write failure is an implicit close.
			delete(subs, id)
			close(sub.frames)
		}
	}
	if len(subs) == 0 {
		delete(b.rooms, code)
	}
}
