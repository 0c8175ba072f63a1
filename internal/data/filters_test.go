package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateMetadata(t *testing.T) {
	testCases := []struct {
		totalRecords int
		page         int
		pageSize     int
		lastPage     int
	}{
		{0, 1, 20, 0},
		{1, 1, 20, 1},
		{20, 1, 20, 1},
		{21, 1, 20, 2},
		{100, 3, 10, 10},
	}

	for _, tt := range testCases {
		m := calculateMetadata(tt.totalRecords, tt.page, tt.pageSize)
		if tt.totalRecords == 0 {
			assert.Equal(t, Metadata{}, m)
			continue
		}
		assert.Equal(t, tt.lastPage, m.LastPage)
		assert.Equal(t, tt.totalRecords, m.TotalRecords)
		assert.Equal(t, tt.page, m.CurrentPage)
	}
}

func TestSortColumnAndDirection(t *testing.T) {
	f := Filters{Sort: "-title", SortSafelist: []string{"id", "title", "-title"}}

	assert.Equal(t, "title", f.sortColumn())
	assert.Equal(t, "DESC", f.sortDirection())

	f.Sort = "id"
	assert.Equal(t, "id", f.sortColumn())
	assert.Equal(t, "ASC", f.sortDirection())
}

func TestSortColumnPanicsOffSafelist(t *testing.T) {
	f := Filters{Sort: "title; DROP TABLE books", SortSafelist: []string{"id"}}

	assert.Panics(t, func() { f.sortColumn() })
}
