// Package coerce converts raw source values into the representation a target field kind expects.
package coerce

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"golang.org/x/text/width"
)

const (
	numberPlaces = 2
	// Numeric dates below this are seconds, at or above it milliseconds.
	secondsCutoff = 1e10
)

var (
	numericPrefix  = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
	purelyNumeric  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	compactDate    = regexp.MustCompile(`^\d{8}$|^\d{12}$|^\d{14}$`)
	multiSelectSep = []string{",", "，", ";", "；", "|"}

	truthy = map[string]struct{}{
		"true": {}, "是": {}, "yes": {}, "1": {}, "✓": {}, "✅": {}, "check": {}, "checked": {},
	}
	falsy = map[string]struct{}{
		"false": {}, "否": {}, "no": {}, "0": {}, "✗": {}, "❌": {}, "uncheck": {}, "unchecked": {},
	}
)

// Option applies a configuration option to the Coercer.
type Option func(*Coercer)

// WithLocation sets the zone naive date strings are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Coercer) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock overrides the time source used for date fallbacks.
func WithClock(now func() time.Time) Option {
	return func(c *Coercer) {
		if now != nil {
			c.now = now
		}
	}
}

// Coercer turns raw cell values into typed field values. It never fails:
// values it cannot interpret come back with fallback set.
type Coercer struct {
	loc *time.Location
	now func() time.Time
}

// New creates a Coercer. Dates default to UTC.
func New(opts ...Option) *Coercer {
	c := &Coercer{
		loc: time.UTC,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the zone used for naive dates.
func (c *Coercer) Location() *time.Location { return c.loc }

// Now returns the coercer clock reading.
func (c *Coercer) Now() time.Time { return c.now() }

// Coerce converts raw for a field of the given kind. Nil, empty and
// whitespace-only input yields nil for every kind.
func (c *Coercer) Coerce(raw any, kind model.FieldKind) (any, bool) {
	if raw == nil {
		return nil, false
	}
	if t, ok := raw.(time.Time); ok {
		if kind == model.KindDate {
			return t.UnixMilli(), false
		}
		raw = t.In(c.loc).Format(time.RFC3339)
	}

	s, err := cast.ToStringE(raw)
	if err != nil {
		s = fmt.Sprint(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	switch kind {
	case model.KindNumber:
		return coerceNumber(s)
	case model.KindMultiSelect:
		return splitMultiSelect(s), false
	case model.KindDate:
		return c.coerceDate(s)
	case model.KindCheckbox:
		return coerceCheckbox(s)
	case model.KindPhone:
		return stripSpace(s), false
	case model.KindURL:
		return coerceURL(s), false
	case model.KindLocation:
		return coerceLocation(s), false
	default:
		// Text, SingleSelect, Person, Group, Attachment, relations and Unsupported.
		return s, false
	}
}

func coerceNumber(s string) (any, bool) {
	if d, err := decimal.NewFromString(s); err == nil {
		return d.Round(numberPlaces).InexactFloat64(), false
	}
	prefix := numericPrefix.FindString(s)
	if prefix == "" {
		return float64(0), true
	}
	f, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return float64(0), true
	}
	return decimal.NewFromFloat(f).Round(numberPlaces).InexactFloat64(), true
}

func splitMultiSelect(s string) []string {
	for _, sep := range multiSelectSep {
		if !strings.Contains(s, sep) {
			continue
		}
		parts := strings.Split(s, sep)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return []string{s}
}

func (c *Coercer) coerceDate(s string) (any, bool) {
	if compactDate.MatchString(s) {
		if t, err := parseCompact(s, c.loc); err == nil {
			return t.UnixMilli(), false
		}
	}
	if t, err := dateparse.ParseIn(s, c.loc); err == nil {
		return t.UnixMilli(), false
	}
	if purelyNumeric.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if f < secondsCutoff {
				f *= 1000
			}
			return int64(f), false
		}
	}
	return c.now().UnixMilli(), true
}

func parseCompact(s string, loc *time.Location) (time.Time, error) {
	switch len(s) {
	case 8:
		return time.ParseInLocation("20060102", s, loc)
	case 12:
		return time.ParseInLocation("200601021504", s, loc)
	default:
		return time.ParseInLocation("20060102150405", s, loc)
	}
}

func coerceCheckbox(s string) (any, bool) {
	key := strings.ToLower(s)
	if _, ok := truthy[key]; ok {
		return true, false
	}
	if _, ok := falsy[key]; ok {
		return false, false
	}
	return false, true
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func coerceURL(s string) any {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return model.Link{Text: s, Link: s}
	}
	return s
}

func coerceLocation(s string) string {
	parts := strings.Split(width.Narrow.String(s), ",")
	if len(parts) != 2 {
		return s
	}
	coords := make([]string, 0, 2)
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return s
		}
		coords = append(coords, strconv.FormatFloat(f, 'f', -1, 64))
	}
	return strings.Join(coords, ",")
}
