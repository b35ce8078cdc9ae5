package view

import (
	"errors"
	"fmt"
)

// ErrPageOutOfRange is returned when a page outside [1, totalPages] is requested.
var ErrPageOutOfRange = errors.New("page out of range")

// State is the operator's filter, search and page selection.
type State struct {
	Category Category `json:"category"`
	Term     string   `json:"term"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
}

// NewState returns the initial view: all records, no search, first page.
func NewState() State {
	return State{Category: CategoryAll, Page: 1, PageSize: DefaultPageSize}
}

// SetCategory changes the filter and returns to page 1 when it differs.
func (s *State) SetCategory(c Category) {
	if s.Category == c {
		return
	}
	s.Category = c
	s.Page = 1
}

// SetSearch changes the search term and returns to page 1 when it differs.
func (s *State) SetSearch(term string) {
	if s.Term == term {
		return
	}
	s.Term = term
	s.Page = 1
}

// SetPage moves to page if it lies within [1, totalPages].
func (s *State) SetPage(page, totalPages int) error {
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 || page > totalPages {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrPageOutOfRange, page, totalPages)
	}
	s.Page = page
	return nil
}
