package services

import "math"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// MaxPage keeps Offset within int32 for every allowed limit.
	MaxPage = math.MaxInt32/MaxPageLimit + 1
)

// Page is a 1-based page/limit window.
type Page struct {
	Page  int
	Limit int
}

// NewPage clamps raw query values into a usable window. Pages past MaxPage
// are pinned to it and come back empty.
func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Page: page, Limit: limit}
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}
