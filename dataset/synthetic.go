package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Synthetic returns n deterministic records shaped like King County sales.
// Price is driven by living area, grade, waterfront, view, condition and
// latitude with log-normal noise, so the above-median label is learnable.
// The same seed always yields the same records.
func Synthetic(n int, seed uint64) []Record {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	normal := func(mu, sigma float64) distuv.Normal { return distuv.Normal{Mu: mu, Sigma: sigma, Src: src} }
	uniform := func(lo, hi float64) distuv.Uniform { return distuv.Uniform{Min: lo, Max: hi, Src: src} }

	living := normal(2000, 700)
	bedrooms := normal(3.4, 0.9)
	bathrooms := normal(2.1, 0.7)
	lot := distuv.LogNormal{Mu: 8.9, Sigma: 0.8, Src: src}
	floors := distuv.NewCategorical([]float64{0.49, 0.09, 0.38, 0.01, 0.03}, src)
	waterfront := distuv.Bernoulli{P: 0.05, Src: src}
	view := distuv.NewCategorical([]float64{0.90, 0.02, 0.04, 0.025, 0.015}, src)
	condition := distuv.NewCategorical([]float64{0.01, 0.01, 0.65, 0.26, 0.07}, src)
	gradeNoise := normal(0, 0.8)
	aboveShare := uniform(0.6, 1.0)
	renovated := distuv.Bernoulli{P: 0.04, Src: src}
	yearBuilt := uniform(1900, 2015)
	zip := uniform(0, 198)
	lat := uniform(47.15, 47.78)
	long := uniform(-122.52, -121.31)
	neighbour := uniform(0.8, 1.2)
	priceNoise := normal(0, 0.15)
	month := uniform(1, 13)

	floorLevels := []float64{1, 1.5, 2, 2.5, 3}

	records := make([]Record, n)
	for i := range records {
		r := &records[i]
		r.ID = fmt.Sprintf("%010d", 1000102+i*7919)
		r.Date = fmt.Sprintf("2014%02d15T000000", int(month.Rand()))

		r.SqftLiving = math.Round(math.Max(400, living.Rand()))
		r.Bedrooms = math.Round(clamp(bedrooms.Rand(), 1, 8))
		r.Bathrooms = math.Round(clamp(bathrooms.Rand(), 0.75, 6)*4) / 4
		r.SqftLot = math.Round(math.Max(600, lot.Rand()))
		r.Floors = floorLevels[int(floors.Rand())]
		r.Waterfront = waterfront.Rand()
		r.View = view.Rand()
		r.Condition = condition.Rand() + 1
		r.Grade = math.Round(clamp(7.6+(r.SqftLiving-2000)/1500+gradeNoise.Rand(), 3, 13))
		r.SqftAbove = math.Round(r.SqftLiving * aboveShare.Rand())
		r.SqftBasement = r.SqftLiving - r.SqftAbove
		r.YrBuilt = math.Round(yearBuilt.Rand())
		if renovated.Rand() == 1 {
			r.YrRenovated = math.Min(2015, r.YrBuilt+20)
		}
		r.Zipcode = 98001 + math.Round(zip.Rand())
		r.Lat = math.Round(lat.Rand()*1e4) / 1e4
		r.Long = math.Round(long.Rand()*1e3) / 1e3
		r.SqftLiving15 = math.Round(r.SqftLiving * neighbour.Rand())
		r.SqftLot15 = math.Round(r.SqftLot * neighbour.Rand())

		logPrice := 12.2 +
			0.00035*(r.SqftLiving-2000) +
			0.12*(r.Grade-7) +
			0.6*r.Waterfront +
			0.08*r.View +
			0.05*(r.Condition-3) +
			1.2*(r.Lat-47.5) +
			priceNoise.Rand()
		r.Price = math.Round(math.Exp(logPrice))
	}
	return records
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
