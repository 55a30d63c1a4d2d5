/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"encoding/json"
	"slices"

	"github.com/quizline/quizline/quiz"
)

// AnswerRecord tracks one member's attempts at one question. Tried grows
// monotonically; it gates both UI feedback and the one-counted-attempt
// guarantee on the server counters.
type AnswerRecord struct {
	QuestionID int64 `json:"questionId"`
	GotRight   bool  `json:"gotRight"`
	Tried      []int `json:"tried"`
}

// State is the durable session blob. It is persisted on every mutation
// and loaded by unmarshalling onto defaults, so older blobs with missing
// fields keep working.
type State struct {
	Code          string          `json:"code"`
	PreviousCode  string          `json:"previousCode"`
	QuizTitle     string          `json:"quizTitle"`
	QuestionList  []quiz.Question `json:"questionList"`
	UserAnswers   []AnswerRecord  `json:"userQuestionAnswers"`
	AtQuestion    int             `json:"atQuestion"`
	RedirectOnEnd string          `json:"redirectOnEnd"`
}

// AnswerSender forwards a member's first choice on a question to the
// server-side frequency counter. Called at most once per member per
// question.
type AnswerSender interface {
	SubmitAnswer(code string, questionID int64, optionIdx int) error
}

// Notifier is the external UI collaborator. Refresh is invoked after
// every state change that should repaint; QuizEnded and ConnectionLost
// hand over navigation.
type Notifier interface {
	Refresh()
	QuizEnded(redirect string)
	ConnectionLost()
}

// NopNotifier satisfies Notifier with no-ops.
type NopNotifier struct{}

func (NopNotifier) Refresh()         {}
func (NopNotifier) QuizEnded(string) {}
func (NopNotifier) ConnectionLost()  {}

// Session reconciles an eventually-arriving, possibly-restarted snapshot
// feed onto a durable local quiz session: current question pointer,
// already-tried answers, and progress.
//
// The feed is stateless on the wire: every inbound message is the full
// current question list. Incremental behavior (auto-advance, reset
// detection, jump-to-latest) is derived here by comparing each snapshot
// against the local mirror.
type Session struct {
	store  Store
	sender AnswerSender
	notify Notifier

	state State
	ended bool
}

// NewSession loads persisted state from the store, shallow-merged onto
// defaults. A corrupt blob starts a fresh session rather than failing.
func NewSession(store Store, sender AnswerSender, notify Notifier, redirectOnEnd string) (*Session, error) {
	if notify == nil {
		notify = NopNotifier{}
	}
	s := &Session{
		store:  store,
		sender: sender,
		notify: notify,
		state:  State{RedirectOnEnd: redirectOnEnd},
	}

	blob, err := store.Load()
	if err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		_ = json.Unmarshal(blob, &s.state)
	}
	if redirectOnEnd != "" {
		s.state.RedirectOnEnd = redirectOnEnd
	}

	return s, nil
}

// Join starts or resumes a session for the given room code:
//
//   - same code as the one parked by Leave: resume the cached session
//   - different code than the persisted one: drop the old mirror and
//     answer history, pointer back to 0
//   - no persisted code: fresh session
//
// The local question mirror is always emptied before subscribing; the
// first inbound snapshot is authoritative.
func (s *Session) Join(code string) error {
	if s.state.PreviousCode == code {
		s.state.Code = code
	}

	if s.state.Code != code {
		s.state.QuestionList = nil
		s.state.UserAnswers = nil
		s.state.AtQuestion = 0
		s.state.Code = code
		// The parked slot is gone too: a later join of that code must
		// start fresh, not resume into this room's answer history.
		s.state.PreviousCode = ""
	}

	if s.state.Code == "" {
		s.state.Code = code
		s.state.PreviousCode = ""
	}

	s.ended = false
	s.state.QuestionList = nil

	return s.persist()
}

// Leave parks the session so a later Join with the same code resumes it,
// and routes the member back to room entry.
func (s *Session) Leave() error {
	s.state.PreviousCode = s.state.Code
	s.state.Code = ""
	return s.persist()
}

// SetTitle records the room title fetched from the server.
func (s *Session) SetTitle(title string) error {
	s.state.QuizTitle = title
	return s.persist()
}

// Reconcile maps one inbound full snapshot onto the local session.
//
// Pointer rules, in order:
//
//   - empty local mirror, non-empty snapshot: jump to the latest
//     question, so a member arriving mid-quiz is not forced to scroll
//     from question one
//   - pointer exactly one behind the previous end of the list: advance
//     by one. The member was fully caught up and auto-follows the
//     presenter; a lagging member is never force-advanced
//   - otherwise the pointer stays put
//
// The stored list is replaced wholesale; the feed is authoritative. A
// pointer equal to the list length is the "waiting for next question"
// position, not an error.
func (s *Session) Reconcile(newList []quiz.Question) error {
	if s.ended {
		return nil
	}

	oldLen := len(s.state.QuestionList)

	if oldLen == 0 && len(newList) > 0 {
		s.state.AtQuestion = len(newList) - 1
	} else if s.state.AtQuestion == oldLen-2 {
		s.state.AtQuestion++
	}

	s.state.QuestionList = newList
	s.clampPointer()

	if err := s.persist(); err != nil {
		return err
	}
	s.notify.Refresh()
	return nil
}

// End is terminal: reconciliation stops and the member is navigated to
// the configured redirect target, whatever the pointer state.
func (s *Session) End() error {
	s.ended = true
	if err := s.persist(); err != nil {
		return err
	}
	s.notify.QuizEnded(s.state.RedirectOnEnd)
	return nil
}

// Ended reports whether the end sentinel has been received.
func (s *Session) Ended() bool {
	return s.ended
}

// RecordLocalAnswer registers a member's click on an option. The first
// interaction with a question creates its record and forwards the choice
// to the server counter; that is the only server call for this
// member/question pair. Re-clicking an explored option, or clicking
// anything after the correct option was found, is a no-op.
func (s *Session) RecordLocalAnswer(questionID int64, chosenIdx, correctIdx int) error {
	idx := -1
	for i := range s.state.UserAnswers {
		if s.state.UserAnswers[i].QuestionID == questionID {
			idx = i
			break
		}
	}

	var sendErr error
	if idx == -1 {
		s.state.UserAnswers = append(s.state.UserAnswers, AnswerRecord{
			QuestionID: questionID,
			GotRight:   chosenIdx == correctIdx,
			Tried:      []int{},
		})
		idx = len(s.state.UserAnswers) - 1

		if s.sender != nil {
			sendErr = s.sender.SubmitAnswer(s.state.Code, questionID, chosenIdx)
		}
	}

	rec := &s.state.UserAnswers[idx]
	if slices.Contains(rec.Tried, correctIdx) || slices.Contains(rec.Tried, chosenIdx) {
		return sendErr
	}

	rec.Tried = append(rec.Tried, chosenIdx)

	if err := s.persist(); err != nil {
		return err
	}
	s.notify.Refresh()
	return sendErr
}

// Prev moves the pointer back one question. At the first question it is
// a no-op.
func (s *Session) Prev() error {
	if s.state.AtQuestion == 0 {
		return nil
	}
	s.state.AtQuestion--
	if err := s.persist(); err != nil {
		return err
	}
	s.notify.Refresh()
	return nil
}

// Next moves the pointer forward, up to and including the waiting
// position one past the last question. Past that it is a no-op.
func (s *Session) Next() error {
	if s.state.AtQuestion >= len(s.state.QuestionList) {
		return nil
	}
	s.state.AtQuestion++
	if err := s.persist(); err != nil {
		return err
	}
	s.notify.Refresh()
	return nil
}

// Current returns the question under the pointer, or ok == false at the
// waiting position.
func (s *Session) Current() (quiz.Question, bool) {
	if s.state.AtQuestion >= len(s.state.QuestionList) {
		return quiz.Question{}, false
	}
	return s.state.QuestionList[s.state.AtQuestion], true
}

// Waiting reports whether the pointer sits at the waiting-for-next-
// question position.
func (s *Session) Waiting() bool {
	return s.state.AtQuestion == len(s.state.QuestionList)
}

// AtQuestion returns the current pointer value.
func (s *Session) AtQuestion() int {
	return s.state.AtQuestion
}

// Record returns the member's answer record for a question, if any.
func (s *Session) Record(questionID int64) (AnswerRecord, bool) {
	for _, rec := range s.state.UserAnswers {
		if rec.QuestionID == questionID {
			return rec, true
		}
	}
	return AnswerRecord{}, false
}

// Progress tallies the member's first-try results over the current
// question list: answered right, answered wrong, untouched.
func (s *Session) Progress() (right, wrong, todo int) {
	for _, q := range s.state.QuestionList {
		rec, ok := s.Record(q.QuestionID)
		switch {
		case !ok:
			todo++
		case rec.GotRight:
			right++
		default:
			wrong++
		}
	}
	return right, wrong, todo
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() State {
	st := s.state
	st.QuestionList = append([]quiz.Question(nil), s.state.QuestionList...)
	st.UserAnswers = make([]AnswerRecord, 0, len(s.state.UserAnswers))
	for _, rec := range s.state.UserAnswers {
		rec.Tried = append([]int(nil), rec.Tried...)
		st.UserAnswers = append(st.UserAnswers, rec)
	}
	return st
}

func (s *Session) clampPointer() {
	if s.state.AtQuestion < 0 {
		s.state.AtQuestion = 0
	}
	if s.state.AtQuestion > len(s.state.QuestionList) {
		s.state.AtQuestion = len(s.state.QuestionList)
	}
}

func (s *Session) persist() error {
	blob, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	return s.store.Save(blob)
}
