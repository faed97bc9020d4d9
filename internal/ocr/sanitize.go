// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package ocr

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// failurePhrases are hallucinated "I can't see any text" sentences observed
// from vision models in place of an empty response, in English and Chinese.
var failurePhrases = []string{
	"text is not visible",
	"cannot identify text",
	"no text found",
	"识别不出文字",
	"无法识别",
	"看不清文字",
	"unable to extract",
	"image contains no",
	"text is too small",
}

// failurePhraseMaxRunes bounds the refusal filter: a long response containing
// one of the phrases is likely a real document that happens to mention it.
// Counted in runes, not bytes, so Chinese refusals are measured fairly.
const failurePhraseMaxRunes = 100

// Sanitize normalizes a raw OCR response: strips markdown code fences,
// discards short known-refusal messages, and flattens structured
// {"text": ...} payloads into plain text. Returns the raw cleaned string
// when the payload is not JSON.
func Sanitize(raw string) string {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if isFailureMessage(content) {
		return ""
	}

	if joined := joinTextRecords(content); joined != "" {
		return joined
	}

	return content
}

func isFailureMessage(content string) bool {
	if utf8.RuneCountInString(content) >= failurePhraseMaxRunes {
		return false
	}

	lower := strings.ToLower(content)
	for _, phrase := range failurePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

type textRecord struct {
	Text string `json:"text"`
}

// joinTextRecords extracts text fields from a JSON list of records, either a
// bare array or wrapped in a "data" envelope. Returns "" when the content is
// not parseable or yields no text, in which case the caller falls back to the
// raw string.
func joinTextRecords(content string) string {
	var records []textRecord

	if err := json.Unmarshal([]byte(content), &records); err != nil {
		var envelope struct {
			Data []textRecord `json:"data"`
		}
		if err := json.Unmarshal([]byte(content), &envelope); err != nil {
			return ""
		}
		records = envelope.Data
	}

	parts := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Text != "" {
			parts = append(parts, rec.Text)
		}
	}

	return strings.Join(parts, "\n")
}
