package util

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultPage is the first page when none is requested
	DefaultPage = 1
	// DefaultLimit is the page size when none is requested
	DefaultLimit = 20
	// MaxLimit caps the requested page size
	MaxLimit = 100
)

// Pagination holds parsed listing parameters
type Pagination struct {
	Page   int
	Limit  int
	Sort   string
	Search string
}

// Offset returns the row offset for the current page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParsePagination reads page/limit/sort/search query parameters with
// documented defaults (page=1, limit=20, max limit=100).
func ParsePagination(c *gin.Context) Pagination {
	page := ParseInt(c.Query("page"), DefaultPage)
	if page < 1 {
		page = DefaultPage
	}

	limit := ParseInt(c.Query("limit"), DefaultLimit)
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Pagination{
		Page:   page,
		Limit:  limit,
		Sort:   c.DefaultQuery("sort", "new"),
		Search: c.Query("search"),
	}
}

// ParseInt parses a string to an integer, returning defaultValue if parsing fails
func ParseInt(s string, defaultValue int) int {
	if val, err := strconv.Atoi(s); err == nil {
		return val
	}
	return defaultValue
}
