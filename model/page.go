package model

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Page is the pagination envelope returned by every paginated query.
type Page[T any] struct {
	Results    []T `json:"results"`
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// PageRequest selects a 1-based page.
type PageRequest struct {
	Page     int `json:"page" mapstructure:"page"`
	PageSize int `json:"page_size" mapstructure:"page_size"`
}

// Normalize applies defaults and bounds to the request.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the number of results skipped before the page.
func (p PageRequest) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

// NewPage builds the envelope for one already sliced page of a result set of size total.
func NewPage[T any](results []T, total int, req PageRequest) Page[T] {
	req = req.Normalize()
	if results == nil {
		results = []T{}
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + req.PageSize - 1) / req.PageSize
	}
	return Page[T]{
		Results:    results,
		TotalCount: total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: totalPages,
	}
}

// Paginate slices all into the requested page.
func Paginate[T any](all []T, req PageRequest) Page[T] {
	req = req.Normalize()
	start := req.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + req.PageSize
	if end > len(all) {
		end = len(all)
	}
	page := make([]T, end-start)
	copy(page, all[start:end])
	return NewPage(page, len(all), req)
}

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)
