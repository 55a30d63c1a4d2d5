/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quizline/quizline/quiz"
)

func newTestServer(t *testing.T) (*httptest.Server, *quiz.Registry) {
	t.Helper()

	cfg := &Config{
		adminSecret: "hunter2",
		keepAlive:   25 * time.Second,
	}

	// The fake clock keeps keep-alive frames out of stream assertions.
	broadcaster := quiz.NewBroadcaster(nil, cfg.keepAlive, clockwork.NewFakeClock())
	registry := quiz.NewRegistry(broadcaster)
	broadcaster.SetChecker(registry)

	registry.CreateRoom("abcd", "Intro to Distributed Systems")

	errs := make(chan error, 64)
	srv := httptest.NewServer(newMux(cfg, registry, broadcaster, errs))
	t.Cleanup(srv.Close)

	return srv, registry
}

func postJSON(t *testing.T, url string, body any) (int, map[string]json.RawMessage) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	fields := make(map[string]json.RawMessage)
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}

	return resp.StatusCode, fields
}

func fieldBool(t *testing.T, fields map[string]json.RawMessage, key string) bool {
	t.Helper()

	var v bool
	if err := json.Unmarshal(fields[key], &v); err != nil {
		t.Fatalf("field %q: %v", key, err)
	}
	return v
}

func fieldString(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()

	var v string
	if err := json.Unmarshal(fields[key], &v); err != nil {
		t.Fatalf("field %q: %v", key, err)
	}
	return v
}

func TestCheckCode(t *testing.T) {
	srv, _ := newTestServer(t)

	status, fields := postJSON(t, srv.URL+"/checkCode", map[string]string{"code": "abcd"})
	if status != http.StatusOK || !fieldBool(t, fields, "exists") {
		t.Fatalf("checkCode(abcd) = %d %v", status, fields)
	}

	status, fields = postJSON(t, srv.URL+"/checkCode", map[string]string{"code": "zzzz"})
	if status != http.StatusOK || fieldBool(t, fields, "exists") {
		t.Fatalf("checkCode(zzzz) = %d %v", status, fields)
	}

	status, _ = postJSON(t, srv.URL+"/checkCode", map[string]string{})
	if status != http.StatusBadRequest {
		t.Fatalf("checkCode without code = %d, want 400", status)
	}
}

func TestQuizTitle(t *testing.T) {
	srv, _ := newTestServer(t)

	status, fields := postJSON(t, srv.URL+"/getQuizTitle", map[string]string{"code": "abcd"})
	if status != http.StatusOK {
		t.Fatalf("getQuizTitle = %d %v", status, fields)
	}
	if got := fieldString(t, fields, "quizTitle"); got != "Intro to Distributed Systems" {
		t.Fatalf("quizTitle = %q", got)
	}

	status, fields = postJSON(t, srv.URL+"/getQuizTitle", map[string]string{"code": "zzzz"})
	if status != http.StatusBadRequest {
		t.Fatalf("getQuizTitle for unknown room = %d", status)
	}
	if got := fieldString(t, fields, "error"); got != "Code doesnt exist" {
		t.Fatalf("error = %q", got)
	}
}

func TestAdminSecretGatesPresenterEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{
		"/admin/createRoom",
		"/admin/addQuiz",
		"/admin/resetRoom",
		"/admin/endRoom",
	} {
		status, _ := postJSON(t, srv.URL+path, map[string]string{
			"secret": "wrong",
			"code":   "abcd",
		})
		if status != http.StatusForbidden {
			t.Fatalf("%s with bad secret = %d, want 403", path, status)
		}
	}
}

func TestAddQuiz(t *testing.T) {
	srv, registry := newTestServer(t)

	status, fields := postJSON(t, srv.URL+"/admin/addQuiz", map[string]any{
		"secret": "hunter2",
		"code":   "abcd",
		"questionData": map[string]any{
			"question":         "What does CAP stand for?",
			"options":          []string{"A", "B", "C"},
			"correctAnswerIdx": 1,
		},
	})
	if status != http.StatusOK || !fieldBool(t, fields, "success") {
		t.Fatalf("addQuiz = %d %v", status, fields)
	}

	snap, err := registry.Snapshot("abcd")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Questions) != 1 || snap.Questions[0].Question != "What does CAP stand for?" {
		t.Fatalf("room state after addQuiz: %+v", snap)
	}

	status, _ = postJSON(t, srv.URL+"/admin/addQuiz", map[string]any{
		"secret": "hunter2",
		"code":   "abcd",
		"questionData": map[string]any{
			"question": "Incomplete",
			"options":  []string{"A", "B"},
		},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("addQuiz without correctAnswerIdx = %d, want 400", status)
	}

	status, _ = postJSON(t, srv.URL+"/admin/addQuiz", map[string]any{
		"secret": "hunter2",
		"code":   "abcd",
		"questionData": map[string]any{
			"question":         "Too few options",
			"options":          []string{"A"},
			"correctAnswerIdx": 0,
		},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("addQuiz with one option = %d, want 400", status)
	}
}

func TestSubmitAnswerStat(t *testing.T) {
	srv, registry := newTestServer(t)

	id, err := registry.AppendQuestion("abcd", "Pick one", []string{"A", "B", "C"}, 2)
	if err != nil {
		t.Fatalf("AppendQuestion: %v", err)
	}

	status, fields := postJSON(t, srv.URL+"/submitAnswerStat", map[string]any{
		"code":       "abcd",
		"questionId": id,
		"answerIdx":  1,
	})
	if status != http.StatusOK || !fieldBool(t, fields, "success") {
		t.Fatalf("submitAnswerStat = %d %v", status, fields)
	}

	status, fields = postJSON(t, srv.URL+"/submitAnswerStat", map[string]any{
		"code":       "abcd",
		"questionId": int64(12345),
		"answerIdx":  0,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("submitAnswerStat for unknown question = %d", status)
	}
	if got := fieldString(t, fields, "error"); got != "Question doesnt exist" {
		t.Fatalf("error = %q", got)
	}

	status, _ = postJSON(t, srv.URL+"/submitAnswerStat", map[string]any{
		"code":       "abcd",
		"questionId": id,
		"answerIdx":  7,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("submitAnswerStat with out-of-range option = %d", status)
	}

	// An absent index must not count as a vote for option zero.
	status, _ = postJSON(t, srv.URL+"/submitAnswerStat", map[string]any{
		"code":       "abcd",
		"questionId": id,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("submitAnswerStat without answerIdx = %d, want 400", status)
	}

	snap, err := registry.Snapshot("abcd")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := []int{0, 1, 0}
	for i, got := range snap.Stats[0].Frequency {
		if got != want[i] {
			t.Fatalf("frequency = %v, want %v", snap.Stats[0].Frequency, want)
		}
	}
}

func TestStatsForRoom(t *testing.T) {
	srv, registry := newTestServer(t)

	id, err := registry.AppendQuestion("abcd", "Pick one", []string{"A", "B", "C"}, 2)
	if err != nil {
		t.Fatalf("AppendQuestion: %v", err)
	}
	for _, idx := range []int{1, 1, 2} {
		if err := registry.RecordAnswer("abcd", id, idx); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}

	payload, _ := json.Marshal(map[string]string{"code": "abcd"})
	resp, err := http.Post(srv.URL+"/getStatsForRoom", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /getStatsForRoom: %v", err)
	}
	defer resp.Body.Close()

	var snap quiz.RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if snap.Title != "Intro to Distributed Systems" {
		t.Fatalf("roomTitle = %q", snap.Title)
	}
	if len(snap.Stats) != 1 {
		t.Fatalf("stats = %+v", snap.Stats)
	}
	want := []int{0, 2, 1}
	for i, got := range snap.Stats[0].Frequency {
		if got != want[i] {
			t.Fatalf("frequency = %v, want %v", snap.Stats[0].Frequency, want)
		}
	}
}

func TestResetAndEndRoom(t *testing.T) {
	srv, registry := newTestServer(t)

	if _, err := registry.AppendQuestion("abcd", "Pick one", []string{"A", "B"}, 0); err != nil {
		t.Fatalf("AppendQuestion: %v", err)
	}

	status, fields := postJSON(t, srv.URL+"/admin/resetRoom", map[string]string{
		"secret": "hunter2",
		"code":   "abcd",
	})
	if status != http.StatusOK || !fieldBool(t, fields, "success") {
		t.Fatalf("resetRoom = %d %v", status, fields)
	}

	snap, err := registry.Snapshot("abcd")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Questions) != 0 || len(snap.Stats) != 0 {
		t.Fatalf("room not emptied by reset: %+v", snap)
	}

	status, fields = postJSON(t, srv.URL+"/admin/endRoom", map[string]string{
		"secret": "hunter2",
		"code":   "abcd",
	})
	if status != http.StatusOK || !fieldBool(t, fields, "success") {
		t.Fatalf("endRoom = %d %v", status, fields)
	}

	ended, err := registry.Ended("abcd")
	if err != nil || !ended {
		t.Fatalf("Ended = %v, %v", ended, err)
	}

	status, _ = postJSON(t, srv.URL+"/admin/endRoom", map[string]string{
		"secret": "hunter2",
		"code":   "zzzz",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("endRoom for unknown room = %d", status)
	}
}

// readFrame consumes one blank-line-delimited event-stream frame and
// returns the data payload, if any.
func readFrame(t *testing.T, reader *bufio.Reader) string {
	t.Helper()

	var data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			return data
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestSubscribeStream(t *testing.T) {
	srv, registry := newTestServer(t)

	if _, err := registry.AppendQuestion("abcd", "Already here", []string{"A", "B"}, 0); err != nil {
		t.Fatalf("AppendQuestion: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/subscribeToLecture?code=abcd", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subscribe = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// The current list arrives up front.
	questions, end, err := quiz.DecodeSnapshot(readFrame(t, reader))
	if err != nil || end {
		t.Fatalf("initial frame: end=%v err=%v", end, err)
	}
	if len(questions) != 1 || questions[0].Question != "Already here" {
		t.Fatalf("initial snapshot = %+v", questions)
	}

	if _, err := registry.AppendQuestion("abcd", "Fresh question", []string{"A", "B"}, 1); err != nil {
		t.Fatalf("AppendQuestion: %v", err)
	}

	questions, end, err = quiz.DecodeSnapshot(readFrame(t, reader))
	if err != nil || end {
		t.Fatalf("second frame: end=%v err=%v", end, err)
	}
	if len(questions) != 2 {
		t.Fatalf("second snapshot has %d questions, want 2", len(questions))
	}

	if err := registry.EndRoom("abcd"); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}

	_, end, err = quiz.DecodeSnapshot(readFrame(t, reader))
	if err != nil || !end {
		t.Fatalf("final frame: end=%v err=%v", end, err)
	}
}

func TestSubscribeUnknownRoom(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/sse/subscribeToLecture?code=zzzz")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("subscribe to unknown room = %d, want 400", resp.StatusCode)
	}
}

func TestRoomQR(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/room/abcd/qr")
	if err != nil {
		t.Fatalf("GET qr: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qr = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q", ct)
	}

	resp, err = http.Get(srv.URL + "/room/zzzz/qr")
	if err != nil {
		t.Fatalf("GET qr: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("qr for unknown room = %d, want 400", resp.StatusCode)
	}
}

func TestHealthCheckAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("version = %d", resp.StatusCode)
	}
}
