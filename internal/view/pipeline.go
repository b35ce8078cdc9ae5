// Package view derives the operator's visible page from the held snapshot.
//
// Derivation is pure: category filter, then search, then pagination. The same
// inputs always produce the same page.
package view

import (
	"strings"

	"github.com/a96363877/zain-js-lohan/internal/model"
)

// DefaultPageSize is the fixed number of rows per page.
const DefaultPageSize = 10

// Category is the filter control state.
type Category string

const (
	CategoryAll    Category = "all"
	CategoryCard   Category = "card"
	CategoryOnline Category = "online"
)

// ParseCategory converts operator input; the empty string means all.
func ParseCategory(v string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(v))) {
	case "", CategoryAll:
		return CategoryAll, true
	case CategoryCard:
		return CategoryCard, true
	case CategoryOnline:
		return CategoryOnline, true
	}
	return CategoryAll, false
}

// FilterCategory keeps the records matching cat. online maps ids to their
// current presence.
func FilterCategory(records []model.Notification, cat Category, online map[string]bool) []model.Notification {
	if cat == CategoryAll || cat == "" {
		return records
	}
	out := make([]model.Notification, 0, len(records))
	for _, n := range records {
		switch cat {
		case CategoryCard:
			if n.HasCard() {
				out = append(out, n)
			}
		case CategoryOnline:
			if online[n.ID] {
				out = append(out, n)
			}
		}
	}
	return out
}

// Search keeps records where term is a case-insensitive substring of the
// name, email, phone, card number, country or primary OTP. An empty term
// keeps everything.
func Search(records []model.Notification, term string) []model.Notification {
	if term == "" {
		return records
	}
	needle := strings.ToLower(term)
	out := make([]model.Notification, 0, len(records))
	for _, n := range records {
		if matches(n, needle) {
			out = append(out, n)
		}
	}
	return out
}

func matches(n model.Notification, needle string) bool {
	for _, field := range []string{n.Name, n.Email, n.Phone, n.CardNumber, n.Country, n.OTP} {
		if field != "" && strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// TotalPages is ceil(count/size) with a floor of one page.
func TotalPages(count, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	pages := (count + size - 1) / size
	if pages < 1 {
		return 1
	}
	return pages
}

// Page is one rendered page of the filtered result.
type Page struct {
	Items      []model.Notification `json:"items"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"pageSize"`
	TotalPages int                  `json:"totalPages"`
	Filtered   int                  `json:"filtered"`
}

// Paginate slices the 1-based page out of records. A page past the end
// yields no items; bounds are enforced by State.SetPage.
func Paginate(records []model.Notification, page, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	p := Page{
		Items:      []model.Notification{},
		Page:       page,
		PageSize:   size,
		TotalPages: TotalPages(len(records), size),
		Filtered:   len(records),
	}
	start := (page - 1) * size
	if start >= len(records) {
		return p
	}
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	p.Items = records[start:end]
	return p
}

// Derive runs the whole pipeline for state s.
func Derive(records []model.Notification, online map[string]bool, s State) Page {
	filtered := FilterCategory(records, s.Category, online)
	filtered = Search(filtered, s.Term)
	return Paginate(filtered, s.Page, s.PageSize)
}

// Counts holds the live count behind each filter button.
type Counts struct {
	All    int `json:"all"`
	Card   int `json:"card"`
	Online int `json:"online"`
}

// CountCategories counts records per category, before search.
func CountCategories(records []model.Notification, online map[string]bool) Counts {
	c := Counts{All: len(records)}
	for _, n := range records {
		if n.HasCard() {
			c.Card++
		}
		if online[n.ID] {
			c.Online++
		}
	}
	return c
}
