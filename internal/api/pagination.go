package api

import (
	"net/http"
	"strconv"
)

// pageQuery is the parsed ?page=&limit= of a list request.
type pageQuery struct {
	Page  int
	Limit int
}

func (q pageQuery) offset() int { return (q.Page - 1) * q.Limit }

// Page is a list response with its position in the full result.
type Page[T any] struct {
	Data       []T      `json:"data"`
	Pagination PageMeta `json:"pagination"`
}

// PageMeta describes where a Page sits in the full result.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

func parsePageQuery(r *http.Request, def, max int) pageQuery {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	return pageQuery{Page: page, Limit: parseLimit(r, def, max)}
}

func newPage[T any](data []T, q pageQuery, total int) Page[T] {
	if data == nil {
		data = []T{}
	}
	pages := (total + q.Limit - 1) / q.Limit
	if pages < 1 {
		pages = 1
	}
	return Page[T]{
		Data: data,
		Pagination: PageMeta{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: pages,
			HasMore:    q.Page < pages,
		},
	}
}

// parseLimit reads ?limit= bounded to [1, max], falling back to def.
func parseLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
