/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package quiz holds the server-side core of a live quiz room: the
// room registry, the snapshot codec, and the broadcast fan-out.
//
// A room is one presenter-controlled session, addressed by a short code.
// Its question list is append-only: positions never change, new questions
// are appended, and the whole list is cleared on an explicit reset. Every
// mutation of the list is pushed to all subscribers as a full snapshot,
// never as a delta.
package quiz

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrUnknownRoom     = errors.New("unknown room")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidQuestion = errors.New("invalid question")
	ErrInvalidAnswer   = errors.New("invalid answer")
)

// Question is one multiple-choice question. Immutable once appended.
type Question struct {
	QuestionID       int64    `json:"questionId"`
	Question         string   `json:"question"`
	Options          []string `json:"options"`
	CorrectAnswerIdx int      `json:"correctAnswerIdx"`
}

// FrequencyCounter counts, per option, how many members chose that option
// as their first attempt. One slot per option, never decremented.
type FrequencyCounter struct {
	QuestionID int64 `json:"questionId"`
	Frequency  []int `json:"frequency"`
}

// RoomSnapshot is a read-only copy of a room's current state.
type RoomSnapshot struct {
	Title     string             `json:"roomTitle"`
	Questions []Question         `json:"questions"`
	Stats     []FrequencyCounter `json:"stats"`
}

// Publisher receives the encoded snapshot resulting from each registry
// mutation. CloseRoom delivers a final payload and tears down every open
// subscription for the room.
type Publisher interface {
	Publish(code, payload string)
	CloseRoom(code, payload string)
}

type room struct {
	title     string
	questions []Question
	counters  []FrequencyCounter
	ended     bool
	lastID    int64
}

// Registry owns all per-room state. A single coarse mutex serializes
// every mutation; snapshots are published while it is held, so an admin
// write is fully applied and broadcast before the next one starts.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	pub   Publisher
	now   func() time.Time
}

func NewRegistry(pub Publisher) *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		pub:   pub,
		now:   time.Now,
	}
}

// CreateRoom registers a room under the given code, or retitles (and
// reopens) an existing one. Rooms are never physically deleted while the
// process runs.
func (r *Registry) CreateRoom(code, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[code]; ok {
		rm.title = title
		rm.ended = false
		return
	}
	r.rooms[code] = &room{title: title}
}

func (r *Registry) Exists(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[code]
	return ok
}

func (r *Registry) Title(code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return "", ErrUnknownRoom
	}
	return rm.title, nil
}

// AppendQuestion validates and appends a question, assigns it a fresh
// monotonic id, initializes its zero frequency counter, and broadcasts
// the room's full question list.
func (r *Registry) AppendQuestion(code, text string, options []string, correctIdx int) (int64, error) {
	if text == "" || len(options) < 2 || correctIdx < 0 || correctIdx >= len(options) {
		return 0, ErrInvalidQuestion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return 0, ErrUnknownRoom
	}

	// Time-derived ids stay unique within the room even when two
	// questions land in the same millisecond.
	id := r.now().UnixMilli()
	if id <= rm.lastID {
		id = rm.lastID + 1
	}
	rm.lastID = id

	rm.questions = append(rm.questions, Question{
		QuestionID:       id,
		Question:         text,
		Options:          append([]string(nil), options...),
		CorrectAnswerIdx: correctIdx,
	})
	rm.counters = append(rm.counters, FrequencyCounter{
		QuestionID: id,
		Frequency:  make([]int, len(options)),
	})

	r.pub.Publish(code, EncodeQuestions(rm.questions))

	return id, nil
}

// ResetRoom clears the question list and all counters, then broadcasts
// the now-empty list.
func (r *Registry) ResetRoom(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return ErrUnknownRoom
	}

	rm.questions = nil
	rm.counters = nil

	r.pub.Publish(code, EncodeQuestions(nil))

	return nil
}

// EndRoom broadcasts the end sentinel and closes every open subscription
// for the room. Terminal: later appends are still accepted, but reach
// only members who resubscribe.
func (r *Registry) EndRoom(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return ErrUnknownRoom
	}
	rm.ended = true

	r.pub.CloseRoom(code, EncodeEnd())

	return nil
}

// RecordAnswer increments the first-choice counter for one option of one
// question. The increment is unconditional: "one counted attempt per
// member" is enforced client-side, since the server holds no member
// identity. This is a deliberate trust boundary.
func (r *Registry) RecordAnswer(code string, questionID int64, optionIdx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return ErrUnknownRoom
	}

	for i := range rm.counters {
		if rm.counters[i].QuestionID != questionID {
			continue
		}
		if optionIdx < 0 || optionIdx >= len(rm.counters[i].Frequency) {
			return ErrInvalidAnswer
		}
		rm.counters[i].Frequency[optionIdx]++
		return nil
	}

	return ErrUnknownQuestion
}

// Snapshot returns a copy of the room's title, question list, and
// counters. Safe for the caller to hold after the lock is released.
func (r *Registry) Snapshot(code string) (RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return RoomSnapshot{}, ErrUnknownRoom
	}

	snap := RoomSnapshot{
		Title:     rm.title,
		Questions: append([]Question(nil), rm.questions...),
		Stats:     make([]FrequencyCounter, 0, len(rm.counters)),
	}
	for _, c := range rm.counters {
		snap.Stats = append(snap.Stats, FrequencyCounter{
			QuestionID: c.QuestionID,
			Frequency:  append([]int(nil), c.Frequency...),
		})
	}

	return snap, nil
}

// Ended reports whether the room has been ended by the presenter.
func (r *Registry) Ended(code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return false, ErrUnknownRoom
	}
	return rm.ended, nil
}
