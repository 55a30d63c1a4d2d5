/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/quizline/quizline/quiz"
)

const maxRequestBody = 64 * 1024

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(cfg *Config, w http.ResponseWriter, status int, msg string) {
	writeJSON(cfg, w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
}

// roomStatus maps registry errors onto the wire taxonomy.
func roomStatus(cfg *Config, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrUnknownRoom):
		writeError(cfg, w, http.StatusBadRequest, "Code doesnt exist")
	case errors.Is(err, quiz.ErrUnknownQuestion):
		writeError(cfg, w, http.StatusBadRequest, "Question doesnt exist")
	case errors.Is(err, quiz.ErrInvalidQuestion), errors.Is(err, quiz.ErrInvalidAnswer):
		writeError(cfg, w, http.StatusBadRequest, err.Error())
	default:
		writeError(cfg, w, http.StatusInternalServerError, "Internal server error")
	}
}

func serveCheckCode(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Code string `json:"code"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}
		if req.Code == "" {
			writeError(cfg, w, http.StatusBadRequest, "Code is required")

			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"exists": registry.Exists(req.Code)})
	}
}

func serveQuizTitle(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Code string `json:"code"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}

		title, err := registry.Title(req.Code)
		if err != nil {
			roomStatus(cfg, w, err)

			return
		}

		writeJSON(cfg, w, http.StatusOK, map[string]string{"quizTitle": title})
	}
}

func serveSubmitAnswerStat(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Code       string `json:"code"`
			QuestionID int64  `json:"questionId"`
			AnswerIdx  *int   `json:"answerIdx"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}
		// A missing index is not the same as index zero.
		if req.AnswerIdx == nil {
			writeError(cfg, w, http.StatusBadRequest, "answerIdx is required")

			return
		}

		if err := registry.RecordAnswer(req.Code, req.QuestionID, *req.AnswerIdx); err != nil {
			roomStatus(cfg, w, err)

			return
		}

		logf(cfg, "STATS: Answer %d for question %d in room %s from %s",
			*req.AnswerIdx,
			req.QuestionID,
			req.Code,
			realIP(r),
		)

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"success": true})
	}
}

func serveStatsForRoom(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Code string `json:"code"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}

		snap, err := registry.Snapshot(req.Code)
		if err != nil {
			roomStatus(cfg, w, err)

			return
		}

		writeJSON(cfg, w, http.StatusOK, snap)
	}
}

// adminAuthorized checks the per-request shared secret. Presenter
// endpoints carry it in the body rather than a header so the original
// wire contract stays intact.
func adminAuthorized(cfg *Config, w http.ResponseWriter, secret string) bool {
	if secret != cfg.adminSecret {
		writeError(cfg, w, http.StatusForbidden, "Invalid admin secret")

		return false
	}
	return true
}

func serveCreateRoom(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Secret string `json:"secret"`
			Code   string `json:"code"`
			Title  string `json:"title"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}
		if !adminAuthorized(cfg, w, req.Secret) {
			return
		}
		if req.Code == "" || req.Title == "" {
			writeError(cfg, w, http.StatusBadRequest, "Both code and title are required")

			return
		}

		registry.CreateRoom(req.Code, req.Title)

		logf(cfg, "ROOMS: Created room %s (%s) for %s", req.Code, req.Title, realIP(r))

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"success": true})
	}
}

func serveAddQuiz(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Secret       string `json:"secret"`
			Code         string `json:"code"`
			QuestionData struct {
				Question         string   `json:"question"`
				Options          []string `json:"options"`
				CorrectAnswerIdx *int     `json:"correctAnswerIdx"`
			} `json:"questionData"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}
		if !adminAuthorized(cfg, w, req.Secret) {
			return
		}
		// A missing index is not the same as index zero.
		if req.QuestionData.CorrectAnswerIdx == nil {
			writeError(cfg, w, http.StatusBadRequest, "correctAnswerIdx is required")

			return
		}

		id, err := registry.AppendQuestion(req.Code, req.QuestionData.Question, req.QuestionData.Options, *req.QuestionData.CorrectAnswerIdx)
		if err != nil {
			roomStatus(cfg, w, err)

			return
		}

		logf(cfg, "ROOMS: Appended question %d to room %s for %s", id, req.Code, realIP(r))

		writeJSON(cfg, w, http.StatusOK, map[string]any{"success": true, "questionId": id})
	}
}

func serveResetRoom(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Secret string `json:"secret"`
			Code   string `json:"code"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}
		if !adminAuthorized(cfg, w, req.Secret) {
			return
		}

		if err := registry.ResetRoom(req.Code); err != nil {
			roomStatus(cfg, w, err)

			return
		}

		logf(cfg, "ROOMS: Reset room %s for %s", req.Code, realIP(r))

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"success": true})
	}
}

func serveEndRoom(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Secret string `json:"secret"`
			Code   string `json:"code"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, "Invalid request body")

			return
		}
		if !adminAuthorized(cfg, w, req.Secret) {
			return
		}

		if err := registry.EndRoom(req.Code); err != nil {
			roomStatus(cfg, w, err)

			return
		}

		logf(cfg, "ROOMS: Ended room %s for %s", req.Code, realIP(r))

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"success": true})
	}
}

// serveSubscribe upgrades the request to a text/event-stream and relays
// broadcast frames until the room ends or the member goes away. A write
// failure is an implicit close.
func serveSubscribe(cfg *Config, registry *quiz.Registry, broadcaster *quiz.Broadcaster) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		code := r.URL.Query().Get("code")
		if code == "" {
			writeError(cfg, w, http.StatusBadRequest, "Code is required")

			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(cfg, w, http.StatusInternalServerError, "Streaming unsupported")

			return
		}

		sub, err := broadcaster.Subscribe(code)
		if err != nil {
			roomStatus(cfg, w, err)

			return
		}
		defer broadcaster.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		logf(cfg, "ROOMS: %s subscribed to room %s (%d streams open)",
			realIP(r),
			code,
			broadcaster.Subscribers(code),
		)

		// Late joiners get the current list up front instead of waiting
		// for the next presenter write.
		snap, err := registry.Snapshot(code)
		if err == nil && len(snap.Questions) > 0 {
			if _, err := fmt.Fprintf(w, "data: %s\n\n", quiz.EncodeQuestions(snap.Questions)); err != nil {
				return
			}
			flusher.Flush()
		}

		for {
			select {
			case <-r.Context().Done():
				logf(cfg, "ROOMS: %s left room %s", realIP(r), code)

				return
			case frame, ok := <-sub.Frames():
				if !ok {
					logf(cfg, "ROOMS: Closed stream to %s for room %s", realIP(r), code)

					return
				}

				if frame.Comment {
					_, err = fmt.Fprintf(w, ": %s\n\n", frame.Data)
				} else {
					_, err = fmt.Fprintf(w, "data: %s\n\n", frame.Data)
				}
				if err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// serveRoomQR generates a PNG QR code pointing at the room join URL, for
// presenters to put on a projector.
func serveRoomQR(cfg *Config, registry *quiz.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		code := p.ByName("code")
		if !registry.Exists(code) {
			writeError(cfg, w, http.StatusBadRequest, "Code doesnt exist")

			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			writeError(cfg, w, http.StatusInternalServerError, "QR generation failed")

			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			return
		}

		logf(cfg, "SERVE: QR code for room %s (%s) to %s in %s",
			code,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
