package domain

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// AllCategories is the "Todos" category row. Filtering by it means no
// category predicate at all.
const AllCategories int64 = 1

// lower only changes letter case. Full folding would also turn "ß" into
// "ss", which the remote match does not do.
var lower = cases.Lower(language.Und)

// ProductFilter selects a page of active products.
type ProductFilter struct {
	Name       string `json:"nombre,omitempty"`
	CategoryID int64  `json:"categoria,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// Normalized returns the canonical form of the filter: the name is trimmed
// and NFC-normalized, the sentinel category collapses to zero and negative
// pages collapse to zero.
func (f ProductFilter) Normalized() ProductFilter {
	out := ProductFilter{
		Name:       norm.NFC.String(strings.TrimSpace(f.Name)),
		CategoryID: f.CategoryID,
		Page:       f.Page,
	}
	if out.CategoryID == AllCategories || out.CategoryID < 0 {
		out.CategoryID = 0
	}
	if out.Page < 0 {
		out.Page = 0
	}
	return out
}

// Term is the lower-cased name the remote match is built from. Filters with
// the same Term select the same rows.
func (f ProductFilter) Term() string {
	return lower.String(f.Normalized().Name)
}

// Key renders the filter as a stable cache key fragment.
func (f ProductFilter) Key() string {
	n := f.Normalized()
	v := url.Values{}
	v.Set("nombre", n.Term())
	v.Set("categoria", strconv.FormatInt(n.CategoryID, 10))
	v.Set("page", strconv.Itoa(n.Page))
	return v.Encode()
}
