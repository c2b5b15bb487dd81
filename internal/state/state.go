package state

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Frame holds one DHS recode as numeric columns. Missing values are NaN.
type Frame struct {
	Name    string
	Headers []string
	columns map[string][]float64
	rows    int
}

// NewFrame builds a frame from equally sized columns. Column names are
// lower-cased the way DHS recodes are usually referenced.
func NewFrame(name string, headers []string, columns [][]float64) *Frame {
	f := &Frame{
		Name:    name,
		columns: make(map[string][]float64, len(headers)),
	}
	for i, h := range headers {
		f.Set(h, columns[i])
	}
	return f
}

func (f *Frame) Len() int {
	return f.rows
}

func (f *Frame) Has(col string) bool {
	_, ok := f.columns[strings.ToLower(col)]
	return ok
}

// Column returns the values of col, or nil when the column is absent.
func (f *Frame) Column(col string) []float64 {
	return f.columns[strings.ToLower(col)]
}

// Set adds or replaces a column. The first column fixes the row count.
func (f *Frame) Set(col string, values []float64) {
	key := strings.ToLower(strings.TrimSpace(col))
	if f.columns == nil {
		f.columns = make(map[string][]float64)
	}
	if _, exists := f.columns[key]; !exists {
		f.Headers = append(f.Headers, key)
	}
	if len(f.columns) == 0 || f.rows == 0 {
		f.rows = len(values)
	}
	f.columns[key] = values
}

// Resolve picks the first present column among alternatives separated by
// "|". It returns "" when none is present.
func (f *Frame) Resolve(alternatives string) string {
	for _, alt := range strings.Split(alternatives, "|") {
		alt = strings.ToLower(strings.TrimSpace(alt))
		if alt != "" && f.Has(alt) {
			return alt
		}
	}
	return ""
}

// ColumnsWithPrefix lists columns starting with prefix, sorted.
func (f *Frame) ColumnsWithPrefix(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var out []string
	for _, h := range f.Headers {
		if strings.HasPrefix(h, prefix) {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

// Value returns the value of col at row i, NaN when absent.
func (f *Frame) Value(col string, i int) float64 {
	c := f.Column(col)
	if c == nil || i >= len(c) {
		return math.NaN()
	}
	return c[i]
}

// SizeBytes approximates the memory held by the frame.
func (f *Frame) SizeBytes() int {
	return len(f.columns) * f.rows * 8
}

// CacheEntry describes a cached frame.
type CacheEntry struct {
	Key     string `json:"key"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
}

// CacheInfo summarizes the dataset cache.
type CacheInfo struct {
	CachedDatasets []CacheEntry `json:"cached_datasets"`
	TotalCachedMB  float64      `json:"total_cached_mb"`
}

// DatasetCache keeps loaded frames keyed by survey and dataset.
type DatasetCache struct {
	mu     sync.RWMutex
	frames map[string]*Frame
}

func NewDatasetCache() *DatasetCache {
	return &DatasetCache{frames: make(map[string]*Frame)}
}

func CacheKey(survey, dataset string) string {
	return survey + "/" + dataset
}

func (c *DatasetCache) Get(key string) (*Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.frames[key]
	return f, ok
}

func (c *DatasetCache) Put(key string, f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames[key] = f
}

// Clear drops every cached frame and returns how many were dropped.
func (c *DatasetCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.frames)
	c.frames = make(map[string]*Frame)
	return n
}

func (c *DatasetCache) Info() CacheInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := CacheInfo{CachedDatasets: []CacheEntry{}}
	total := 0
	for key, f := range c.frames {
		info.CachedDatasets = append(info.CachedDatasets, CacheEntry{
			Key:     key,
			Rows:    f.Len(),
			Columns: len(f.Headers),
		})
		total += f.SizeBytes()
	}
	sort.Slice(info.CachedDatasets, func(i, j int) bool {
		return info.CachedDatasets[i].Key < info.CachedDatasets[j].Key
	})
	info.TotalCachedMB = math.Round(float64(total)/1024/1024*100) / 100
	return info
}

// ParseNumeric converts a raw cell into a float, NaN for empty or
// non-numeric cells.
func ParseNumeric(s string) float64 {
	s = strings.TrimSpace(s)
	if !isNumericString(s) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	dotCount := 0
	digits := 0
	for i, c := range s {
		if (c == '-' || c == '+') && i == 0 {
			continue
		}
		if c == '.' {
			dotCount++
			if dotCount > 1 {
				return false
			}
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
		digits++
	}
	return digits > 0
}
