package repository

import "testing"

func TestNormalizePageRequest(t *testing.T) {
	tests := []struct {
		in   PageRequest
		want PageRequest
	}{
		{PageRequest{}, PageRequest{Page: 1, PageSize: DefaultPageSize}},
		{PageRequest{Page: -3, PageSize: 5}, PageRequest{Page: 1, PageSize: 5}},
		{PageRequest{Page: 4, PageSize: 1000}, PageRequest{Page: 4, PageSize: MaxPageSize}},
	}
	for _, tt := range tests {
		if got := normalizePageRequest(tt.in); got != tt.want {
			t.Fatalf("normalizePageRequest(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestCalcTotalPages(t *testing.T) {
	tests := []struct {
		total    int64
		pageSize int
		want     int
	}{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := calcTotalPages(tt.total, tt.pageSize); got != tt.want {
			t.Fatalf("calcTotalPages(%d, %d) = %d, want %d", tt.total, tt.pageSize, got, tt.want)
		}
	}
}
