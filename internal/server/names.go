// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package server

import (
	"regexp"
	"strings"
)

// Label patterns for display-name extraction from OCR text. The Chinese
// pattern takes 2 to 4 han characters after a 姓名 label; the English one
// takes a latin run after a Name label.
var (
	nameLabelCN = regexp.MustCompile(`姓名[:\s]*([\x{4e00}-\x{9fa5}]{2,4})($|\s|，|。|\n)`)
	nameLabelEN = regexp.MustCompile(`Name[:\s]*([A-Za-z\s]+)($|\n)`)
)

// badNameKeywords are document-field words that follow a 姓名 label on some
// layouts and must not be mistaken for a person's name.
var badNameKeywords = []string{
	"证件", "号码", "一致", "签发", "出生", "性别", "住址", "民族", "有效", "起始",
}

// extractRealName pulls a person's name out of OCR text, or "" when no
// trustworthy label is present.
func extractRealName(text string) string {
	if m := nameLabelCN.FindStringSubmatch(text); m != nil {
		candidate := m[1]
		ok := true
		for _, k := range badNameKeywords {
			if strings.Contains(candidate, k) {
				ok = false
				break
			}
		}
		if ok {
			return candidate
		}
	}

	if m := nameLabelEN.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if len(candidate) > 2 && !strings.Contains(candidate, "Date") {
			return candidate
		}
	}

	return ""
}
