package analysis

import (
	"math"

	"dhs-api/internal/models"
	"dhs-api/internal/state"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DataQualityProfiler computes per-column quality metrics of microdata
type DataQualityProfiler struct{}

// NewDataQualityProfiler creates a new profiler
func NewDataQualityProfiler() *DataQualityProfiler {
	return &DataQualityProfiler{}
}

// ProfileColumn analyzes quality metrics for a single column
func (dqp *DataQualityProfiler) ProfileColumn(df *state.Frame, col string) models.ColumnProfile {
	profile := models.ColumnProfile{
		ColumnName: col,
		TotalRows:  df.Len(),
	}

	values := make([]float64, 0, df.Len())
	counts := make(map[float64]int)
	for _, v := range df.Column(col) {
		if math.IsNaN(v) {
			continue
		}
		values = append(values, v)
		counts[v]++
	}

	profile.NonNullRows = len(values)
	profile.DistinctCount = len(counts)
	if profile.TotalRows > 0 {
		profile.NullRate = float64(profile.TotalRows-profile.NonNullRows) / float64(profile.TotalRows)
	}
	if len(values) > 0 {
		profile.Min = floats.Min(values)
		profile.Max = floats.Max(values)
		profile.Mean = stat.Mean(values, nil)
	}

	profile.Entropy = dqp.calculateEntropy(counts, len(values))
	profile.QualityScore = dqp.calculateQualityScore(profile)
	return profile
}

// ProfileAllColumns profiles every column of the frame in header order
func (dqp *DataQualityProfiler) ProfileAllColumns(df *state.Frame) []models.ColumnProfile {
	profiles := make([]models.ColumnProfile, len(df.Headers))
	for i, h := range df.Headers {
		profiles[i] = dqp.ProfileColumn(df, h)
	}
	return profiles
}

// calculateEntropy computes Shannon entropy in bits
func (dqp *DataQualityProfiler) calculateEntropy(valueCounts map[float64]int, total int) float64 {
	if total == 0 {
		return 0
	}

	p := make([]float64, 0, len(valueCounts))
	for _, count := range valueCounts {
		p = append(p, float64(count)/float64(total))
	}
	return stat.Entropy(p) / math.Ln2
}

// calculateQualityScore penalizes missing values and constant columns (0-1)
func (dqp *DataQualityProfiler) calculateQualityScore(profile models.ColumnProfile) float64 {
	score := 1.0 - profile.NullRate
	if profile.DistinctCount <= 1 {
		score *= 0.5
	}
	return math.Max(0, math.Min(1, score))
}
