package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.Filters != nil {
		t.Fatalf("expected nil filters, got %#v", params.Filters)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	values := url.Values{}
	values.Set("pageSize", "abc")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize got %v", err)
	}

	values.Set("pageSize", "0")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize for zero got %v", err)
	}
}

func TestParseFilters(t *testing.T) {
	values := url.Values{}
	values.Add("filter", "status == pending")
	values.Add("filter", "total >= 10.50")
	values.Add("filter", "method=='wallet'")

	opts := Options{AllowedFilterFields: map[string][]Operator{
		"status": nil,
		"total":  {OperatorGreaterEqual, OperatorLessEqual},
		"method": {OperatorEqual},
	}}

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	expected := []Filter{
		{Field: "status", Op: OperatorEqual, Value: "pending"},
		{Field: "total", Op: OperatorGreaterEqual, Value: "10.50"},
		{Field: "method", Op: OperatorEqual, Value: "wallet"},
	}
	if !reflect.DeepEqual(params.Filters, expected) {
		t.Fatalf("expected filters %#v got %#v", expected, params.Filters)
	}
	if got := params.Value("status"); got != "pending" {
		t.Fatalf("expected status value pending, got %q", got)
	}
	if got := params.Value("total"); got != "" {
		t.Fatalf("expected no equality value for total, got %q", got)
	}
}

func TestParseFiltersInvalid(t *testing.T) {
	values := url.Values{}
	values.Add("filter", "status == pending")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter got %v", err)
	}

	opts := Options{AllowedFilterFields: map[string][]Operator{"status": {OperatorEqual}}}
	cases := []string{"status != pending", "status >= pending", "unknown == value", "status ==  ", "st-atus == x"}
	for _, raw := range cases {
		values = url.Values{}
		values.Add("filter", raw)
		if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidFilter) {
			t.Fatalf("expected ErrInvalidFilter for %q got %v", raw, err)
		}
	}
}

func TestFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/?pageSize=20", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 20 {
		t.Fatalf("expected page size 20 got %d", params.PageSize)
	}
}
