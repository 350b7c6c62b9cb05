// Package paging provides pure pagination over token id collections.
// Pages are 1-based; out-of-range requests clamp instead of erroring,
// so a collection that shrank under the viewer still shows its last
// page.
package paging

import "nftmarket/internal/domain"

// DefaultPerPage is the page size used by the views.
const DefaultPerPage = 12

// Page is one window into a collection.
type Page struct {
	Items      []domain.TokenID
	Number     int
	TotalPages int
	TotalItems int
}

// TotalPages returns the page count for total items. An empty
// collection still has one (empty) page.
func TotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 1
	}
	pages := (total + perPage - 1) / perPage
	if pages < 1 {
		return 1
	}
	return pages
}

// Clamp forces page into [1, TotalPages(total, perPage)].
func Clamp(page, total, perPage int) int {
	last := TotalPages(total, perPage)
	if page < 1 {
		return 1
	}
	if page > last {
		return last
	}
	return page
}

// Paginate windows ids to the requested page, clamping out-of-range
// page numbers. The input slice is never mutated; the returned Items
// alias it.
func Paginate(ids []domain.TokenID, page, perPage int) Page {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	total := len(ids)
	number := Clamp(page, total, perPage)

	startIdx := (number - 1) * perPage
	if startIdx > total {
		startIdx = total
	}
	endIdx := startIdx + perPage
	if endIdx > total {
		endIdx = total
	}

	return Page{
		Items:      ids[startIdx:endIdx],
		Number:     number,
		TotalPages: TotalPages(total, perPage),
		TotalItems: total,
	}
}
