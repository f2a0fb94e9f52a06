package domain_test

import (
	"testing"

	"github.com/burenotti/healthlog/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPage_TotalPages(t *testing.T) {
	tests := []struct {
		total int64
		size  int
		want  int
	}{
		{total: 0, size: 20, want: 0},
		{total: 1, size: 20, want: 1},
		{total: 20, size: 20, want: 1},
		{total: 21, size: 20, want: 2},
		{total: 5, size: 0, want: 0},
	}
	for _, tt := range tests {
		p := domain.Page[int]{Total: tt.total, Size: tt.size}
		assert.Equal(t, tt.want, p.TotalPages(), "total=%d size=%d", tt.total, tt.size)
	}
}

func TestPage_HasNext(t *testing.T) {
	assert.True(t, domain.Page[int]{Total: 45, Size: 20, Page: 1}.HasNext())
	assert.False(t, domain.Page[int]{Total: 45, Size: 20, Page: 2}.HasNext())
}

func TestPageRequest_CheckSort(t *testing.T) {
	allowed := map[string]string{"id": "w.id"}

	require.NoError(t, domain.PageRequest{Sort: []domain.Order{{Field: "id", Desc: true}}}.CheckSort(allowed))

	err := domain.PageRequest{Sort: []domain.Order{{Field: "password"}}}.CheckSort(allowed)
	assert.ErrorIs(t, err, domain.ErrInvalidSort)
	assert.ErrorIs(t, err, domain.ErrInvalidPage)
}

func TestPageRequest_Offset(t *testing.T) {
	assert.Equal(t, 0, domain.PageRequest{Page: 0, Size: 20}.Offset())
	assert.Equal(t, 60, domain.PageRequest{Page: 3, Size: 20}.Offset())
}
