package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nftmarket/internal/domain"
)

func ids(n int) []domain.TokenID {
	out := make([]domain.TokenID, n)
	for i := range out {
		out[i] = domain.TokenID(i + 1)
	}
	return out
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 1, TotalPages(0, 12), "an empty collection has one empty page")
	assert.Equal(t, 1, TotalPages(12, 12))
	assert.Equal(t, 2, TotalPages(13, 12))
	assert.Equal(t, 3, TotalPages(25, 12))
	assert.Equal(t, 1, TotalPages(5, 0), "a nonsense page size degrades to one page")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 30, 12))
	assert.Equal(t, 1, Clamp(-3, 30, 12))
	assert.Equal(t, 2, Clamp(2, 30, 12))
	assert.Equal(t, 3, Clamp(99, 30, 12), "past-the-end requests land on the last page")
	assert.Equal(t, 1, Clamp(99, 0, 12))
}

func TestPaginateWindows(t *testing.T) {
	all := ids(30)

	first := Paginate(all, 1, 12)
	assert.Equal(t, all[:12], first.Items)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, 30, first.TotalItems)

	last := Paginate(all, 3, 12)
	assert.Equal(t, all[24:], last.Items, "the last page holds the partial remainder")
	assert.Len(t, last.Items, 6)
}

func TestPaginateClampsAfterShrink(t *testing.T) {
	// A viewer sitting on page 3 of a collection that shrank to one
	// page gets the last real page, not an empty one.
	page := Paginate(ids(5), 3, 12)
	assert.Equal(t, 1, page.Number)
	assert.Len(t, page.Items, 5)
}

func TestPaginateEmpty(t *testing.T) {
	page := Paginate(nil, 1, 12)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Number)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 0, page.TotalItems)
}

func TestPaginateDefaultsPerPage(t *testing.T) {
	page := Paginate(ids(20), 1, 0)
	assert.Len(t, page.Items, DefaultPerPage)
}

func TestPaginateAliasesInput(t *testing.T) {
	all := ids(3)
	page := Paginate(all, 1, 12)
	all[0] = 99
	assert.Equal(t, domain.TokenID(99), page.Items[0], "pages window the input without copying")
}
