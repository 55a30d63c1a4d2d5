/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quizline/quizline/quiz"
)

// ErrConnectivityExhausted is reported exactly once when the reconnect
// budget runs out. The member is routed back to room entry, not to the
// quiz-end redirect: this is a connectivity failure, not a quiz ending.
var ErrConnectivityExhausted = errors.New("connectivity exhausted")

// Client speaks the quizline HTTP API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s", path, apiErr.Error)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// CheckCode reports whether a room code exists.
func (c *Client) CheckCode(ctx context.Context, code string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	err := c.post(ctx, "/checkCode", map[string]string{"code": code}, &resp)
	return resp.Exists, err
}

// QuizTitle fetches the room's title.
func (c *Client) QuizTitle(ctx context.Context, code string) (string, error) {
	var resp struct {
		QuizTitle string `json:"quizTitle"`
	}
	err := c.post(ctx, "/getQuizTitle", map[string]string{"code": code}, &resp)
	return resp.QuizTitle, err
}

// RoomStats fetches the answer-frequency summary for a room. The stats
// dashboard polls this.
func (c *Client) RoomStats(ctx context.Context, code string) (quiz.RoomSnapshot, error) {
	var snap quiz.RoomSnapshot
	err := c.post(ctx, "/getStatsForRoom", map[string]string{"code": code}, &snap)
	return snap, err
}

// SubmitAnswer implements AnswerSender.
func (c *Client) SubmitAnswer(code string, questionID int64, optionIdx int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp struct {
		Success bool `json:"success"`
	}
	return c.post(ctx, "/submitAnswerStat", map[string]any{
		"code":       code,
		"questionId": questionID,
		"answerIdx":  optionIdx,
	}, &resp)
}

// Controller wraps the event-stream subscription for one room: it joins
// the session, keeps the stream open, and retries on transport errors up
// to MaxReconnects with a linearly increasing delay. A successful open
// resets the attempt counter.
type Controller struct {
	Client  *Client
	Session *Session
	Notify  Notifier

	MaxReconnects int
	RetryDelay    time.Duration
	Clock         clockwork.Clock
	Logf          func(format string, args ...any)
}

func NewController(c *Client, s *Session, notify Notifier) *Controller {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Controller{
		Client:        c,
		Session:       s,
		Notify:        notify,
		MaxReconnects: 3,
		RetryDelay:    time.Second,
		Clock:         clockwork.NewRealClock(),
		Logf:          log.Printf,
	}
}

// Run blocks until the quiz ends (nil), the context is cancelled, or the
// reconnect budget is exhausted (ErrConnectivityExhausted, after which
// the session is parked and the notifier routed to room entry).
func (ctl *Controller) Run(ctx context.Context, code string) error {
	if err := ctl.Session.Join(code); err != nil {
		return err
	}

	title, err := ctl.Client.QuizTitle(ctx, code)
	if err != nil {
		return err
	}
	if err := ctl.Session.SetTitle(title); err != nil {
		return err
	}

	attempts := 0
	for {
		opened, err := ctl.stream(ctx, code)
		if ctl.Session.Ended() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if opened {
			attempts = 0
		}
		attempts++
		ctl.logf("event stream lost (attempt %d of %d): %v", attempts, ctl.MaxReconnects, err)

		if attempts >= ctl.MaxReconnects {
			if err := ctl.Session.Leave(); err != nil {
				ctl.logf("parking session: %v", err)
			}
			ctl.Notify.ConnectionLost()
			return ErrConnectivityExhausted
		}

		ctl.Clock.Sleep(time.Duration(attempts) * ctl.RetryDelay)
	}
}

// stream holds one subscription open and delivers each decoded payload
// to the session, one frame at a time, in arrival order.
func (ctl *Controller) stream(ctx context.Context, code string) (opened bool, err error) {
	u := ctl.Client.BaseURL + "/sse/subscribeToLecture?code=" + url.QueryEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := ctl.Client.httpClient().Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("subscribe: unexpected status %d", resp.StatusCode)
	}
	opened = true

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				ctl.deliver(data)
				data = ""
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment frame
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		if ctl.Session.Ended() {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return true, err
	}
	return true, errors.New("event stream closed")
}

func (ctl *Controller) deliver(payload string) {
	questions, end, err := quiz.DecodeSnapshot(payload)
	if err != nil {
		// A malformed frame must not take down an otherwise-healthy
		// session; log and drop.
		ctl.logf("dropping malformed frame: %v", err)
		return
	}

	if end {
		if err := ctl.Session.End(); err != nil {
			ctl.logf("ending session: %v", err)
		}
		return
	}

	if err := ctl.Session.Reconcile(questions); err != nil {
		ctl.logf("reconciling snapshot: %v", err)
	}
}

func (ctl *Controller) logf(format string, args ...any) {
	if ctl.Logf == nil {
		return
	}
	ctl.Logf(format, args...)
}
