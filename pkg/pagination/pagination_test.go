package pagination_test

import (
	"encoding/json"
	"net/url"
	"reflect"
	"testing"

	"github.com/crestline/renewals/pkg/pagination"
)

func testConfig() pagination.Config {
	return pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		req          pagination.PageRequest
		wantPage     int
		wantPageSize int
	}{
		{
			name:         "zero values get defaults",
			req:          pagination.PageRequest{},
			wantPage:     1,
			wantPageSize: 20,
		},
		{
			name:         "negative page",
			req:          pagination.PageRequest{Page: -3, PageSize: 10},
			wantPage:     1,
			wantPageSize: 10,
		},
		{
			name:         "oversized page size clamped",
			req:          pagination.PageRequest{Page: 2, PageSize: 500},
			wantPage:     2,
			wantPageSize: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize(testConfig())
			if tt.req.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", tt.req.Page, tt.wantPage)
			}
			if tt.req.PageSize != tt.wantPageSize {
				t.Errorf("PageSize = %d, want %d", tt.req.PageSize, tt.wantPageSize)
			}
		})
	}
}

func TestOffset(t *testing.T) {
	req := pagination.PageRequest{Page: 3, PageSize: 25}
	if got := req.Offset(); got != 50 {
		t.Errorf("Offset() = %d, want 50", got)
	}
}

func TestPageRequestFromQuery(t *testing.T) {
	values, err := url.ParseQuery("page=2&page_size=50&search=acme&sort=sector,-createdAt")
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}

	req := pagination.PageRequestFromQuery(values, testConfig())

	if req.Page != 2 || req.PageSize != 50 {
		t.Errorf("page = %d size = %d, want 2 and 50", req.Page, req.PageSize)
	}
	if req.Search == nil || *req.Search != "acme" {
		t.Errorf("Search = %v, want acme", req.Search)
	}

	wantSort := pagination.SortFields{
		{Field: "sector"},
		{Field: "createdAt", Descending: true},
	}
	if !reflect.DeepEqual(req.Sort, wantSort) {
		t.Errorf("Sort = %v, want %v", req.Sort, wantSort)
	}
}

func TestSortFieldsUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want pagination.SortFields
	}{
		{
			name: "string form",
			data: `"sector,-createdAt"`,
			want: pagination.SortFields{
				{Field: "sector"},
				{Field: "createdAt", Descending: true},
			},
		},
		{
			name: "array form",
			data: `[{"Field": "sector"}, {"Field": "createdAt", "Descending": true}]`,
			want: pagination.SortFields{
				{Field: "sector"},
				{Field: "createdAt", Descending: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got pagination.SortFields
			if err := json.Unmarshal([]byte(tt.data), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewPageResult(t *testing.T) {
	tests := []struct {
		name           string
		data           []string
		total          int
		pageSize       int
		wantTotalPages int
	}{
		{name: "exact pages", data: []string{"a", "b"}, total: 40, pageSize: 20, wantTotalPages: 2},
		{name: "partial last page", data: []string{"a"}, total: 41, pageSize: 20, wantTotalPages: 3},
		{name: "empty result", data: nil, total: 0, pageSize: 20, wantTotalPages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := pagination.NewPageResult(tt.data, tt.total, 1, tt.pageSize)
			if result.TotalPages != tt.wantTotalPages {
				t.Errorf("TotalPages = %d, want %d", result.TotalPages, tt.wantTotalPages)
			}
			if result.Data == nil {
				t.Error("Data should never be nil")
			}
		})
	}
}
