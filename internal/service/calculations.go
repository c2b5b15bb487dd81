package service

import (
	"math"
	"sort"
	"strings"

	"dhs-api/internal/state"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DHS sampling weights are stored as integers scaled by 1,000,000.
const weightScale = 1000000.0

// Number of five-year age groups between 15 and 49.
const fertilityAgeGroups = 7

// StandardRound is the DHS rounding rule: halves round up.
func StandardRound(x float64) float64 {
	return math.Floor(x + 0.5)
}

// roundTo rounds x to the given number of decimals.
func roundTo(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}

// WeightedPercentage returns the weighted share of ind (0/1 values) as a
// rounded percentage. Rows with a missing indicator or weight are dropped.
// Nil weights mean an unweighted share.
func WeightedPercentage(ind, weights []float64) float64 {
	x, w := dropMissing(ind, weights)
	if len(x) == 0 || floats.Sum(w) == 0 {
		return 0
	}
	return StandardRound(stat.Mean(x, w) * 100)
}

// WeightedMean is the weighted mean of values, 0 when nothing is left after
// dropping missing rows.
func WeightedMean(values, weights []float64) float64 {
	x, w := dropMissing(values, weights)
	if len(x) == 0 || floats.Sum(w) == 0 {
		return 0
	}
	return stat.Mean(x, w)
}

// WeightedMedian returns the first value, in ascending order, at which the
// cumulative weight reaches half of the total weight.
func WeightedMedian(values, weights []float64) float64 {
	x, w := dropMissing(values, weights)
	if len(x) == 0 {
		return 0
	}

	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	cutoff := floats.Sum(w) / 2
	cum := 0.0
	for _, i := range idx {
		cum += w[i]
		if cum >= cutoff {
			return x[i]
		}
	}
	return x[idx[len(idx)-1]]
}

// dropMissing keeps the rows where both value and weight are present and
// scales the weights. A nil weights slice yields unit weights.
func dropMissing(values, weights []float64) ([]float64, []float64) {
	x := make([]float64, 0, len(values))
	w := make([]float64, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		wt := 1.0
		if weights != nil {
			if i >= len(weights) || math.IsNaN(weights[i]) {
				continue
			}
			wt = weights[i] / weightScale
		}
		x = append(x, v)
		w = append(w, wt)
	}
	return x, w
}

// TotalFertilityRate computes the TFR of the women in rows for the five
// years preceding the interview. Exposure is accumulated month by month
// over 60 months; births come from the b3_NN birth history. With wanted
// set, only births whose order does not exceed the ideal number of
// children (v613) count.
func TotalFertilityRate(f *state.Frame, rows []int, weights []float64, wanted bool) float64 {
	if len(rows) == 0 {
		return 0
	}

	interview := f.Column("v008")
	birthCMC := f.Column("v011")
	if interview == nil || birthCMC == nil {
		return 0
	}
	ideal := f.Column("v613")

	weight := func(i int) float64 {
		if weights == nil {
			return 1
		}
		return weights[i] / weightScale
	}

	var births, exposure [fertilityAgeGroups]float64

	for _, i := range rows {
		w := weight(i)
		if math.IsNaN(w) || math.IsNaN(interview[i]) || math.IsNaN(birthCMC[i]) {
			continue
		}
		for m := 1; m <= 60; m++ {
			g := ageGroup(interview[i]-float64(m), birthCMC[i])
			if g >= 0 {
				exposure[g] += w / 12
			}
		}
	}

	for _, b3 := range f.ColumnsWithPrefix("b3_") {
		order := f.Column("bord_" + strings.TrimPrefix(b3, "b3_"))
		if order == nil {
			continue
		}
		dates := f.Column(b3)
		for _, i := range rows {
			w := weight(i)
			b := dates[i]
			if math.IsNaN(w) || math.IsNaN(b) || math.IsNaN(interview[i]) || math.IsNaN(birthCMC[i]) {
				continue
			}
			if b < interview[i]-60 || b >= interview[i] {
				continue
			}
			g := ageGroup(b, birthCMC[i])
			if g < 0 {
				continue
			}
			if wanted {
				limit := 99.0
				if ideal != nil && !math.IsNaN(ideal[i]) && ideal[i] <= 40 {
					limit = ideal[i]
				}
				if math.IsNaN(order[i]) || order[i] > limit {
					continue
				}
			}
			births[g] += w
		}
	}

	asfr := make([]float64, fertilityAgeGroups)
	for g := range asfr {
		if exposure[g] != 0 {
			asfr[g] = births[g] / exposure[g]
		}
	}
	return roundTo(5*floats.Sum(asfr), 1)
}

// ageGroup maps a century-month code to the five-year age group of a woman
// born at birthCMC, -1 outside 15-49.
func ageGroup(cmc, birthCMC float64) int {
	age := math.Floor((cmc - birthCMC) / 12)
	g := math.Floor((age - 15) / 5)
	if g < 0 || g >= fertilityAgeGroups {
		return -1
	}
	return int(g)
}
