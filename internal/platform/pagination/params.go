package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize so list queries stay bounded.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 128
)

// Operator enumerates the filter operators accepted via the query string.
type Operator string

const (
	OperatorEqual        Operator = "=="
	OperatorGreaterEqual Operator = ">="
	OperatorLessEqual    Operator = "<="
)

var operatorPriority = []Operator{
	OperatorGreaterEqual,
	OperatorLessEqual,
	OperatorEqual,
}

// Filter is a single `field op value` predicate parsed from a filter query parameter.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

// Params bundles the list size and filters extracted from a request.
type Params struct {
	PageSize int
	Filters  []Filter
}

// Options control how Parse behaves for a given list endpoint.
type Options struct {
	DefaultPageSize     int
	MaxPageSize         int
	AllowedFilterFields map[string][]Operator
}

var (
	ErrInvalidPageSize = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter   = errors.New("pagination: invalid filter")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes pageSize and filter values.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}
	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	filters, err := parseFilters(values["filter"], opts.AllowedFilterFields)
	if err != nil {
		return Params{}, err
	}
	return Params{PageSize: pageSize, Filters: filters}, nil
}

// Value returns the value of the first equality filter on field.
func (p Params) Value(field string) string {
	for _, f := range p.Filters {
		if f.Field == field && f.Op == OperatorEqual {
			return f.Value
		}
	}
	return ""
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxPageSize {
		value = maxPageSize
	}
	return value, nil
}

func parseFilters(values []string, allowed map[string][]Operator) ([]Filter, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: filtering not supported", ErrInvalidFilter)
	}

	filters := make([]Filter, 0, len(values))
	for _, raw := range values {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		filter, err := parseSingleFilter(raw)
		if err != nil {
			return nil, err
		}
		ops, ok := allowed[filter.Field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidFilter, filter.Field)
		}
		if !operatorAllowed(ops, filter.Op) {
			return nil, fmt.Errorf("%w: operator %q is not allowed for field %q", ErrInvalidFilter, filter.Op, filter.Field)
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

func operatorAllowed(ops []Operator, op Operator) bool {
	if len(ops) == 0 {
		return op == OperatorEqual
	}
	for _, candidate := range ops {
		if candidate == op {
			return true
		}
	}
	return false
}

func parseSingleFilter(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	for _, op := range operatorPriority {
		idx := strings.Index(raw, string(op))
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(raw[:idx])
		value := sanitizeFilterValue(raw[idx+len(op):])
		if !isAllowedFieldName(field) {
			return Filter{}, fmt.Errorf("%w: invalid field %q", ErrInvalidFilter, field)
		}
		if value == "" {
			return Filter{}, fmt.Errorf("%w: empty value for field %q", ErrInvalidFilter, field)
		}
		return Filter{Field: field, Op: op, Value: value}, nil
	}
	return Filter{}, fmt.Errorf("%w: missing operator in %q", ErrInvalidFilter, raw)
}

func sanitizeFilterValue(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "\"'")
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}

func isAllowedFieldName(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
