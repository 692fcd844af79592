// Package normalize flattens raw profile and contact-info responses into
// fixed-column records.
package normalize

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
)

const listSeparator = ", "

// Normalizer maps raw responses to records. It never fails: anything it
// cannot interpret becomes an empty column and a log line.
type Normalizer struct {
	logger logger.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger used for anomalies.
func WithLogger(log logger.Logger) Option {
	return func(n *Normalizer) {
		if log != nil {
			n.logger = log
		}
	}
}

// New returns a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{logger: logger.Discard()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize builds a record with every column set.
func (n *Normalizer) Normalize(ctx context.Context, p model.RawProfile, c model.RawContactInfo) model.Record {
	r := model.NewRecord()
	r[model.ColFirstName] = n.scalar(ctx, model.ColFirstName, p.FirstName)
	r[model.ColLastName] = n.scalar(ctx, model.ColLastName, p.LastName)
	r[model.ColProfileID] = n.scalar(ctx, model.ColProfileID, p.ProfileID)
	r[model.ColHeadline] = n.scalar(ctx, model.ColHeadline, p.Headline)
	r[model.ColSummary] = n.scalar(ctx, model.ColSummary, p.Summary)
	r[model.ColIndustry] = n.scalar(ctx, model.ColIndustry, p.IndustryName)
	r[model.ColLocation] = n.scalar(ctx, model.ColLocation, p.GeoCountryName)
	r[model.ColLanguages] = n.languages(ctx, p.Languages)
	r[model.ColBirthday] = n.scalar(ctx, model.ColBirthday, c.Birthdate)
	r[model.ColEmail] = n.scalar(ctx, model.ColEmail, c.EmailAddress)
	r[model.ColPhone] = n.phones(ctx, c.PhoneNumbers)
	return r
}

func (n *Normalizer) scalar(ctx context.Context, column string, f model.Field) string {
	if !f.Present {
		return ""
	}
	s, ok := formatScalar(f.Value)
	if !ok {
		n.anomaly(ctx, column, f.Value)
		return ""
	}
	return s
}

// languages accepts [{name}] or a plain string.
func (n *Normalizer) languages(ctx context.Context, f model.Field) string {
	if !f.Present || f.Value == nil {
		return ""
	}
	if s, ok := f.Value.(string); ok {
		return s
	}
	items, ok := asList(f.Value)
	if !ok {
		n.anomaly(ctx, model.ColLanguages, f.Value)
		return ""
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item["name"].(string)
		if !ok {
			n.anomaly(ctx, model.ColLanguages, f.Value)
			return ""
		}
		names = append(names, name)
	}
	return strings.Join(names, listSeparator)
}

// phones accepts [{number, type}].
func (n *Normalizer) phones(ctx context.Context, f model.Field) string {
	if !f.Present || f.Value == nil {
		return ""
	}
	items, ok := asList(f.Value)
	if !ok {
		n.anomaly(ctx, model.ColPhone, f.Value)
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		number, okNumber := formatScalar(item["number"])
		kind, okKind := formatScalar(item["type"])
		if !okNumber || !okKind {
			n.anomaly(ctx, model.ColPhone, f.Value)
			return ""
		}
		parts = append(parts, number+" ("+kind+")")
	}
	return strings.Join(parts, listSeparator)
}

func (n *Normalizer) anomaly(ctx context.Context, column string, v any) {
	n.logger.Warn(ctx, "unexpected field shape",
		logger.String("column", column),
		logger.String("value", describe(v)))
}

// asList converts the shapes a JSON decoder or a test may produce into a
// list of objects.
func asList(v any) ([]map[string]any, bool) {
	switch t := v.(type) {
	case []map[string]any:
		return t, true
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}

func formatScalar(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func describe(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<unencodable>"
	}
	return string(b)
}
