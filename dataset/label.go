package dataset

import (
	"sort"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// Label values.
const (
	BelowMedian = 0
	AboveMedian = 1
)

// TargetNames are the display names of the two labels, indexed by label.
var TargetNames = []string{"Below Median", "Above Median"}

// MedianPrice returns the median price of records. For an even count it is the
// mean of the two middle prices.
func MedianPrice(records []Record) (float64, error) {
	if len(records) == 0 {
		return 0, errors.WithStack(errors.ErrEmptyData)
	}
	prices := Prices(records)
	sort.Float64s(prices)
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2], nil
	}
	return (prices[n/2-1] + prices[n/2]) / 2, nil
}

// Labels returns AboveMedian for every record priced strictly above threshold
// and BelowMedian otherwise.
func Labels(records []Record, threshold float64) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = Label(r.Price, threshold)
	}
	return out
}

// Label classifies one price against threshold.
func Label(price, threshold float64) float64 {
	if price > threshold {
		return AboveMedian
	}
	return BelowMedian
}
