package extract

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// parseDate accepts every timestamp form seen across schema revisions.
func parseDate(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, true
		}
	}
	return nil, false
}

func setIssueDate(doc *fiscal.Document, raw string) {
	doc.IssueDate, _ = parseDate(raw)
	doc.DateIncomplete = doc.IssueDate == nil
}

// parseAmount returns a null decimal for empty input. Municipal service
// schemas sometimes use a decimal comma.
func parseAmount(t fiscal.DocumentType, field, s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, malformed(t, field, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string, max int) bool {
	if s == "" || len(s) > max {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// accessKey validates a 44-digit key, stripping the schema prefix carried
// by Id attributes.
func accessKey(t fiscal.DocumentType, raw, prefix string) (string, error) {
	key := strings.TrimPrefix(strings.TrimSpace(raw), prefix)
	if key == "" {
		return "", missing(t, "accessKey")
	}
	if !isDigits(key, 44) {
		return "", malformed(t, "accessKey", fmt.Errorf("expected 44 digits, got %q", key))
	}
	return key, nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// alnumOnly drops punctuation from identifiers such as formatted CNPJs.
func alnumOnly(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
