package catalog

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xdignya776/shoptrae/internal/domain"
)

// Sort orders for Filter.
const (
	SortFeatured  = "featured"
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
	SortName      = "name"
)

// Price bands offered by the shop page.
const (
	BandAll     = "all"
	BandUnder35 = "under-35"
	Band35To50  = "35-50"
	BandOver50  = "over-50"
)

// Query describes a storefront listing view.
type Query struct {
	Search     string
	Categories []string
	Band       string
	Min        *decimal.Decimal
	Max        *decimal.Decimal
	Sort       string
}

var (
	thirtyFive = decimal.NewFromInt(35)
	fifty      = decimal.NewFromInt(50)
)

// Filter projects products through q without touching the input slice.
func Filter(products []domain.Product, q Query) []domain.Product {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	categories := make(map[string]struct{}, len(q.Categories))
	for _, c := range q.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories[strings.ToLower(c)] = struct{}{}
		}
	}

	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if search != "" && !matchesSearch(p, search) {
			continue
		}
		if len(categories) > 0 {
			if _, ok := categories[strings.ToLower(p.Category)]; !ok {
				continue
			}
		}
		if !inBand(p.Price, q.Band) {
			continue
		}
		if q.Min != nil && p.Price.LessThan(*q.Min) {
			continue
		}
		if q.Max != nil && p.Price.GreaterThan(*q.Max) {
			continue
		}
		out = append(out, p)
	}

	switch q.Sort {
	case SortPriceAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	case SortPriceDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	case SortName:
		sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title) })
	}
	return out
}

func matchesSearch(p domain.Product, search string) bool {
	return strings.Contains(strings.ToLower(p.Title), search) ||
		strings.Contains(strings.ToLower(p.Category), search) ||
		strings.Contains(strings.ToLower(p.Description), search)
}

func inBand(price decimal.Decimal, band string) bool {
	switch band {
	case BandUnder35:
		return price.LessThan(thirtyFive)
	case Band35To50:
		return price.GreaterThanOrEqual(thirtyFive) && price.LessThanOrEqual(fifty)
	case BandOver50:
		return price.GreaterThan(fifty)
	default:
		return true
	}
}
