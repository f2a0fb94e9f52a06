package domain

import (
	"errors"
	"fmt"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 2000
)

var (
	ErrInvalidPage = errors.New("invalid page request")
	ErrInvalidSort = fmt.Errorf("%w: unsupported sort", ErrInvalidPage)
)

// Order is a single sort criterion. Field is the JSON name of the attribute.
type Order struct {
	Field string
	Desc  bool
}

// PageRequest is a zero-based page selection.
type PageRequest struct {
	Page int
	Size int
	Sort []Order
}

func (r PageRequest) Offset() int {
	return r.Page * r.Size
}

// CheckSort reports ErrInvalidSort for orders on fields outside allowed.
func (r PageRequest) CheckSort(allowed map[string]string) error {
	for _, o := range r.Sort {
		if _, ok := allowed[o.Field]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidSort, o.Field)
		}
	}
	return nil
}

type Page[T any] struct {
	Items []T
	Total int64
	Page  int
	Size  int
}

func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Size) - 1) / int64(p.Size))
}

func (p Page[T]) HasNext() bool {
	return p.Page+1 < p.TotalPages()
}
