package models

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	DefaultSimilarityThreshold = 0.5
	DefaultFuzzyMaxResults     = 50
	DefaultBasicMaxResults     = 100
	MaxSearchResults           = 200
)

// Similarity is a case-insensitive score in [0,1]: 1 - editDistance/longerLength.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

type ScoredItem struct {
	Item  *StockItem `json:"item"`
	Score float64    `json:"score"`
}

func roundScore(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// RankBySimilarity keeps an item when max(sim(query,name), sim(query,code)) reaches
// threshold, or when the name contains the query. Results are ordered by the
// rounded score, highest first; ties keep the input order.
// Callers pass items sorted by name.
func RankBySimilarity(query string, items []*StockItem, threshold float64, limit int) []ScoredItem {
	q := strings.TrimSpace(query)
	lq := strings.ToLower(q)
	out := []ScoredItem{}
	for _, item := range items {
		score := math.Max(Similarity(q, item.ItemName), Similarity(q, item.ItemCode))
		contains := lq != "" && strings.Contains(strings.ToLower(item.ItemName), lq)
		if score >= threshold || contains {
			out = append(out, ScoredItem{Item: item, Score: roundScore(score)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FilterByName is the plain case-insensitive substring search.
func FilterByName(query string, items []*StockItem, limit int) []*StockItem {
	lq := strings.ToLower(strings.TrimSpace(query))
	out := []*StockItem{}
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.ItemName), lq) {
			out = append(out, item)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

// SortByName orders items by display name, then code.
func SortByName(items []*StockItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ItemName != items[j].ItemName {
			return items[i].ItemName < items[j].ItemName
		}
		return items[i].ItemCode < items[j].ItemCode
	})
}
