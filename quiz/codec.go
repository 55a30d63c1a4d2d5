/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ErrMalformedPayload is returned when a snapshot payload cannot be
// decoded. Decoding never returns partial data.
var ErrMalformedPayload = fmt.Errorf("malformed payload")

type endSentinel struct {
	EndQuiz bool `json:"endQuiz"`
}

// EncodeQuestions packs a question list into a single base64(JSON) string.
// Base64 keeps the payload free of newlines, which would otherwise break
// the line-oriented event stream framing.
func EncodeQuestions(questions []Question) string {
	if questions == nil {
		questions = []Question{}
	}
	data, err := json.Marshal(questions)
	if err != nil {
		// Question contains only strings and integers; Marshal cannot fail.
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// EncodeEnd produces the distinguished payload that marks a room as
// permanently closed.
func EncodeEnd() string {
	data, _ := json.Marshal(endSentinel{EndQuiz: true})
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeSnapshot reverses EncodeQuestions/EncodeEnd. It returns the
// question list, or end == true for the end sentinel, or a
// ErrMalformedPayload-wrapped error for anything else.
func DecodeSnapshot(payload string) (questions []Question, end bool, err error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var sentinel endSentinel
		if err := json.Unmarshal(trimmed, &sentinel); err != nil || !sentinel.EndQuiz {
			return nil, false, fmt.Errorf("%w: unrecognized object payload", ErrMalformedPayload)
		}
		return nil, true, nil
	}

	if err := json.Unmarshal(trimmed, &questions); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return questions, false, nil
}
