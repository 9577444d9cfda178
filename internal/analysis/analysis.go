// Package analysis derives read-side figures from stored history: price
// statistics and trending scores.
package analysis

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"price-tracker-api/internal/models"
)

// Trending weights.
const (
	weightLast3Days = 0.6
	weightLast7Days = 0.3
	weightTotal     = 0.1
)

// Percentile returns the p-th percentile (0..100) of sorted values using
// linear interpolation between the closest ranks. sorted must be ascending
// and non-empty.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p / 100 * float64(len(sorted)-1)
	lo := math.Floor(idx)
	hi := math.Ceil(idx)
	if lo == hi {
		return sorted[int(lo)]
	}
	return sorted[int(lo)] + (sorted[int(hi)]-sorted[int(lo)])*(idx-lo)
}

// Stats computes mean, population standard deviation, extremes and quartiles.
// All figures are rounded to 2 decimals. ok is false for empty input.
func Stats(values []float64) (stats models.PriceStats, ok bool) {
	if len(values) == 0 {
		return models.PriceStats{}, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(sorted)))

	return models.PriceStats{
		Average: round2(mean),
		StdDev:  round2(std),
		Min:     round2(sorted[0]),
		Max:     round2(sorted[len(sorted)-1]),
		P25:     round2(Percentile(sorted, 25)),
		P50:     round2(Percentile(sorted, 50)),
		P75:     round2(Percentile(sorted, 75)),
	}, true
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Analyze builds the price analysis of a product from every offer's history.
// ok is false when the product has no price points.
func Analyze(p *models.Product) (models.PriceAnalysis, bool) {
	points := p.AllPrices()
	values := make([]float64, len(points))
	for i, pp := range points {
		values[i] = pp.Value
	}
	stats, ok := Stats(values)
	if !ok {
		return models.PriceAnalysis{}, false
	}

	history := append([]models.PricePoint(nil), points...)
	sort.SliceStable(history, func(i, j int) bool { return history[i].Date.Before(history[j].Date) })

	return models.PriceAnalysis{
		ProductID:    p.ID,
		Stats:        stats,
		PriceHistory: history,
	}, true
}

// Score is the trending score of one product's view counters.
func Score(v models.ViewSummary) float64 {
	return weightLast3Days*float64(v.Last3Days) +
		weightLast7Days*float64(v.Last7Days) +
		weightTotal*float64(v.Total)
}

// Trending ranks summaries by score, highest first, and keeps the top n.
// Equal scores keep their input order. n <= 0 keeps everything.
func Trending(summaries []models.ViewSummary, n int) []models.TrendingProduct {
	out := make([]models.TrendingProduct, len(summaries))
	for i, s := range summaries {
		out[i] = models.TrendingProduct{ProductID: s.ProductID, Score: round2(Score(s))}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
