package service

import (
	"math"
	"testing"

	"dhs-api/internal/state"

	"github.com/stretchr/testify/assert"
)

func TestStandardRound(t *testing.T) {
	assert.Equal(t, 3.0, StandardRound(2.5))
	assert.Equal(t, 2.0, StandardRound(2.49))
	assert.Equal(t, -2.0, StandardRound(-2.5))
	assert.Equal(t, 0.0, StandardRound(0))
}

func TestWeightedPercentage(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name    string
		ind     []float64
		weights []float64
		want    float64
	}{
		{"unweighted", []float64{1, 0, 1, 1}, nil, 75},
		{"weighted", []float64{1, 0}, []float64{3000000, 1000000}, 75},
		{"drops missing indicator", []float64{1, nan, 0}, []float64{1000000, 5000000, 1000000}, 50},
		{"drops missing weight", []float64{1, 1, 0}, []float64{1000000, nan, 1000000}, 50},
		{"rounds half up", []float64{1, 0, 0, 0, 0, 0, 0, 0}, nil, 13},
		{"empty", nil, nil, 0},
		{"all missing", []float64{nan, nan}, nil, 0},
		{"zero weights", []float64{1, 0}, []float64{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeightedPercentage(tt.ind, tt.weights))
		})
	}
}

func TestWeightedMean(t *testing.T) {
	assert.InDelta(t, 2.5, WeightedMean([]float64{1, 2, 3, 4}, nil), 1e-9)
	assert.InDelta(t, 3.5, WeightedMean([]float64{2, 4}, []float64{1000000, 3000000}), 1e-9)
	assert.Equal(t, 0.0, WeightedMean(nil, nil))
}

func TestWeightedMedian(t *testing.T) {
	assert.Equal(t, 20.0, WeightedMedian([]float64{22, 18, 20}, nil))
	// cumulative weights 1,2,3,4 with cutoff 2 stop at the second value
	assert.Equal(t, 2.0, WeightedMedian([]float64{4, 3, 2, 1}, nil))
	assert.Equal(t, 30.0, WeightedMedian([]float64{18, 30}, []float64{1000000, 5000000}))
	assert.Equal(t, 18.0, WeightedMedian([]float64{18, math.NaN(), 30}, []float64{5000000, 1000000, 1000000}))
	assert.Equal(t, 0.0, WeightedMedian(nil, nil))
}

// fertilityFrame builds women interviewed at CMC 1440 and born at CMC 1080,
// so they are 25-29 throughout the reference period.
func fertilityFrame(births [][]float64, ideal []float64) *state.Frame {
	n := len(births)
	v008 := make([]float64, n)
	v011 := make([]float64, n)
	v005 := make([]float64, n)
	b3 := make([]float64, n)
	bord := make([]float64, n)
	b3b := make([]float64, n)
	bordb := make([]float64, n)
	for i, b := range births {
		v008[i] = 1440
		v011[i] = 1080
		v005[i] = 1000000
		b3[i], bord[i], b3b[i], bordb[i] = b[0], b[1], b[2], b[3]
	}
	return state.NewFrame("women",
		[]string{"v005", "v008", "v011", "v613", "b3_01", "bord_01", "b3_02", "bord_02"},
		[][]float64{v005, v008, v011, ideal, b3, bord, b3b, bordb})
}

func TestTotalFertilityRate(t *testing.T) {
	nan := math.NaN()
	f := fertilityFrame([][]float64{
		{1430, 2, 1400, 1},  // two births in the window
		{1300, 1, nan, nan}, // birth before the window
		{nan, nan, nan, nan},
		{1420, 3, nan, nan}, // unwanted birth
		{nan, nan, nan, nan},
	}, []float64{2, 1, nan, 2, 4})
	rows := []int{0, 1, 2, 3, 4}

	// 5 women, 5 years of exposure each, all in the 25-29 group;
	// 3 births: ASFR = 3/25, TFR = 5*0.12
	assert.Equal(t, 0.6, TotalFertilityRate(f, rows, f.Column("v005"), false))
	// 2 wanted births: 5*(2/25)
	assert.Equal(t, 0.4, TotalFertilityRate(f, rows, f.Column("v005"), true))
	assert.Equal(t, 0.6, TotalFertilityRate(f, rows, nil, false))
	assert.Equal(t, 0.0, TotalFertilityRate(f, nil, nil, false))
}

func TestTotalFertilityRateMissingInterview(t *testing.T) {
	// births of a woman without an interview date fall outside every window
	nan := math.NaN()
	f := fertilityFrame([][]float64{
		{nan, nan, nan, nan},
		{1410, 1, nan, nan},
	}, []float64{nan, nan})
	f.Column("v008")[1] = nan

	assert.Equal(t, 0.0, TotalFertilityRate(f, []int{0, 1}, nil, false))
	assert.Equal(t, 0.0, TotalFertilityRate(f, []int{0, 1}, f.Column("v005"), true))
}

func TestTotalFertilityRateIdealCap(t *testing.T) {
	// an ideal number above 40 is treated as non-numeric, so every birth is wanted
	f := fertilityFrame([][]float64{{1430, 5, math.NaN(), math.NaN()}}, []float64{96})
	assert.Equal(t, TotalFertilityRate(f, []int{0}, nil, false), TotalFertilityRate(f, []int{0}, nil, true))
}

func TestAgeGroup(t *testing.T) {
	assert.Equal(t, -1, ageGroup(1080+14*12, 1080))
	assert.Equal(t, 0, ageGroup(1080+15*12, 1080))
	assert.Equal(t, 6, ageGroup(1080+49*12+11, 1080))
	assert.Equal(t, -1, ageGroup(1080+50*12, 1080))
}
