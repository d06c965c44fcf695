package query

import (
	"context"
	"math"
)

type Meta struct {
	Page      int   `json:"page"`
	Size      int   `json:"size"`
	Total     int64 `json:"total"`
	TotalPage int   `json:"totalPage"`
}

func NewMeta(page, size int, total int64) Meta {
	totalPage := 0
	if size > 0 {
		totalPage = int(math.Ceil(float64(total) / float64(size)))
	}
	return Meta{Page: page, Size: size, Total: total, TotalPage: totalPage}
}

// CountFunc counts the documents matching the predicate part of q (search and
// filters), ignoring sort, paging and projection.
type CountFunc func(ctx context.Context, q Query) (int64, error)

// CountTotal computes pagination metadata using the same predicate as the fetch.
func CountTotal(ctx context.Context, q Query, count CountFunc) (Meta, error) {
	total, err := count(ctx, q)
	if err != nil {
		return Meta{}, err
	}
	return NewMeta(q.Page, q.Size, total), nil
}
