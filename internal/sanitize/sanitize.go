// Package sanitize converts source cell values into values the destination
// API accepts: booleans, numbers, strings and flat arrays of those.
//
// Sanitization never fails. Values with an unknown structure fall back to
// their JSON string form and a warning is reported.
package sanitize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/logging"
)

const fence = "```"

// WarnFunc receives non-fatal sanitization warnings.
type WarnFunc func(msg string)

// Sanitizer sanitizes values and logs warnings.
type Sanitizer struct {
	logger *zap.Logger
}

// New creates a Sanitizer logging to logger.
func New(logger *zap.Logger) *Sanitizer {
	return &Sanitizer{logger: logging.OrNop(logger).Named("sanitize")}
}

// Value sanitizes v for the column columnID. ok is false when v carries no
// data and should be left out of the payload.
func (s *Sanitizer) Value(columnID string, v domain.Value) (any, bool) {
	return Value(v, func(msg string) {
		s.logger.Warn(msg, zap.String(logging.FieldColumn, columnID))
	})
}

// Value sanitizes v. warn may be nil.
func Value(v domain.Value, warn WarnFunc) (any, bool) {
	switch v.Kind {
	case domain.KindAbsent:
		return nil, false
	case domain.KindScalar:
		return scalar(v.Scalar, warn)
	case domain.KindMonetary:
		return v.Amount, true
	case domain.KindPerson, domain.KindReference:
		return reference(v)
	case domain.KindAttachments:
		return attachmentURLs(v.Attachments)
	case domain.KindList:
		return list(v.Items, warn)
	default:
		return unrecognized(v.Raw, warn), true
	}
}

// String strips leading and trailing fenced-markdown delimiters. An opening
// fence on its own line takes its info string (```json) with it.
func String(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, fence) && !strings.HasSuffix(trimmed, fence) {
		return s
	}
	if rest, ok := strings.CutPrefix(trimmed, fence); ok {
		if _, body, multiline := strings.Cut(rest, "\n"); multiline {
			rest = body
		}
		trimmed = rest
	}
	trimmed = strings.TrimSuffix(trimmed, fence)
	return strings.TrimSpace(trimmed)
}

// Text renders an already sanitized value as a single string. Arrays are
// joined with ", ".
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, Text(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func scalar(v any, warn WarnFunc) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case bool, float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		return String(val), true
	default:
		report(warn, fmt.Sprintf("unexpected scalar type %T, using string form", v))
		return fmt.Sprint(v), true
	}
}

// reference prefers email, then name, then url.
func reference(v domain.Value) (any, bool) {
	for _, candidate := range []string{v.Email, v.Name, v.URL} {
		if candidate != "" {
			return candidate, true
		}
	}
	return nil, false
}

func attachmentURLs(files []domain.Attachment) (any, bool) {
	urls := make([]any, 0, len(files))
	for _, f := range files {
		if f.URL != "" {
			urls = append(urls, f.URL)
		}
	}
	if len(urls) == 0 {
		return nil, false
	}
	return urls, true
}

func list(items []domain.Value, warn WarnFunc) (any, bool) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, ok := Value(item, warn)
		if !ok {
			continue
		}
		// flatten nested arrays; the destination accepts one level only
		if nested, isSlice := v.([]any); isSlice {
			out = append(out, nested...)
			continue
		}
		out = append(out, v)
	}
	return out, true
}

func unrecognized(raw map[string]any, warn WarnFunc) string {
	data, err := json.Marshal(raw)
	if err != nil {
		report(warn, fmt.Sprintf("unrecognized structured value could not be encoded: %v", err))
		return fmt.Sprint(raw)
	}
	report(warn, "unrecognized structured value, using string form")
	return string(data)
}

func report(warn WarnFunc, msg string) {
	if warn != nil {
		warn(msg)
	}
}
