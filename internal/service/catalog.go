package service

import (
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"

	"dhs-api/internal/state"

	"github.com/goccy/go-yaml"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Indicator kinds
const (
	KindPercentage = "percentage"
	KindMedian     = "median"
	KindMean       = "mean"
	KindTFR        = "tfr"
	KindBreakdown  = "breakdown"
)

// Condition is a row predicate over microdata columns. A leaf compares one
// column (optionally minus another) against a value; All, Any and Not
// combine nested conditions. A missing value fails every comparison except
// ne unless Fill substitutes it.
type Condition struct {
	Column string      `yaml:"column,omitempty" json:"column,omitempty"`
	Minus  string      `yaml:"minus,omitempty" json:"minus,omitempty"`
	Op     string      `yaml:"op,omitempty" json:"op,omitempty"`
	Value  *float64    `yaml:"value,omitempty" json:"value,omitempty"`
	Values []float64   `yaml:"values,omitempty" json:"values,omitempty"`
	Min    *float64    `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64    `yaml:"max,omitempty" json:"max,omitempty"`
	Fill   *float64    `yaml:"fill,omitempty" json:"fill,omitempty"`
	All    []Condition `yaml:"all,omitempty" json:"all,omitempty"`
	Any    []Condition `yaml:"any,omitempty" json:"any,omitempty"`
	Not    *Condition  `yaml:"not,omitempty" json:"not,omitempty"`
}

// Option is one allowed value of an indicator parameter. Its fields
// override the indicator's own when the option is selected.
type Option struct {
	Key        string      `yaml:"key" json:"key"`
	Label      string      `yaml:"label" json:"label"`
	Dataset    string      `yaml:"dataset,omitempty" json:"dataset,omitempty"`
	Prefix     string      `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Population string      `yaml:"population,omitempty" json:"population,omitempty"`
	Universe   []Condition `yaml:"universe,omitempty" json:"universe,omitempty"`
	Numerator  *Condition  `yaml:"numerator,omitempty" json:"numerator,omitempty"`
	Value      string      `yaml:"value,omitempty" json:"value,omitempty"`
	Wanted     bool        `yaml:"wanted,omitempty" json:"wanted,omitempty"`
}

// OptionSet is a query parameter of an indicator.
type OptionSet struct {
	Param   string   `yaml:"param" json:"param"`
	Default string   `yaml:"default" json:"default"`
	Options []Option `yaml:"options" json:"options"`
}

// Keys lists the option keys in definition order.
func (s OptionSet) Keys() []string {
	keys := make([]string, len(s.Options))
	for i, o := range s.Options {
		keys[i] = o.Key
	}
	return keys
}

func (s OptionSet) option(key string) (Option, bool) {
	for _, o := range s.Options {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}

// BreakdownItem is one category of a breakdown indicator.
type BreakdownItem struct {
	Key       string    `yaml:"key" json:"key"`
	Numerator Condition `yaml:"numerator" json:"numerator"`
}

// Indicator is a catalog definition. Title and Population may reference
// parameters as {param}, replaced by the selected option's label.
type Indicator struct {
	ID         string          `yaml:"id" json:"id"`
	Chapter    int             `yaml:"chapter" json:"chapter"`
	Title      string          `yaml:"title" json:"title"`
	Unit       string          `yaml:"unit" json:"unit"`
	Kind       string          `yaml:"kind" json:"kind"`
	Dataset    string          `yaml:"dataset,omitempty" json:"dataset,omitempty"`
	Prefix     string          `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Population string          `yaml:"population" json:"population"`
	Method     string          `yaml:"method,omitempty" json:"method,omitempty"`
	Universe   []Condition     `yaml:"universe,omitempty" json:"universe,omitempty"`
	Numerator  *Condition      `yaml:"numerator,omitempty" json:"numerator,omitempty"`
	Value      string          `yaml:"value,omitempty" json:"value,omitempty"`
	Missing    []float64       `yaml:"missing,omitempty" json:"missing,omitempty"`
	Items      []BreakdownItem `yaml:"items,omitempty" json:"items,omitempty"`
	Params     []OptionSet     `yaml:"params,omitempty" json:"params,omitempty"`
}

// Resolved is an indicator with all of its parameters bound.
type Resolved struct {
	ID         string
	Chapter    int
	Title      string
	Unit       string
	Kind       string
	Dataset    string
	Prefix     string
	Population string
	Method     string
	Universe   []Condition
	Numerator  *Condition
	Value      string
	Missing    []float64
	Wanted     bool
	Items      []BreakdownItem
	Params     map[string]string
	// Variant is the selected key of the first parameter, if any.
	Variant string
}

// Resolve binds params to the indicator's option sets. Absent parameters
// take their default; values outside the options are rejected.
func (ind *Indicator) Resolve(params map[string]string) (*Resolved, error) {
	r := &Resolved{
		ID:         ind.ID,
		Chapter:    ind.Chapter,
		Title:      ind.Title,
		Unit:       ind.Unit,
		Kind:       ind.Kind,
		Dataset:    ind.Dataset,
		Prefix:     ind.Prefix,
		Population: ind.Population,
		Method:     ind.Method,
		Universe:   append([]Condition(nil), ind.Universe...),
		Numerator:  ind.Numerator,
		Value:      ind.Value,
		Missing:    ind.Missing,
		Items:      ind.Items,
		Params:     make(map[string]string, len(ind.Params)),
	}

	for i, set := range ind.Params {
		key := strings.TrimSpace(params[set.Param])
		if key == "" {
			key = set.Default
		}
		opt, ok := set.option(key)
		if !ok {
			return nil, &ParamError{Param: set.Param, Value: key, Options: set.Keys()}
		}
		if i == 0 {
			r.Variant = key
		}
		r.Params[set.Param] = key

		if opt.Dataset != "" {
			r.Dataset = opt.Dataset
		}
		if opt.Prefix != "" {
			r.Prefix = opt.Prefix
		}
		if opt.Population != "" {
			r.Population = opt.Population
		}
		if opt.Numerator != nil {
			r.Numerator = opt.Numerator
		}
		if opt.Value != "" {
			r.Value = opt.Value
		}
		if opt.Wanted {
			r.Wanted = true
		}
		r.Universe = append(r.Universe, opt.Universe...)

		placeholder := "{" + set.Param + "}"
		r.Title = strings.ReplaceAll(r.Title, placeholder, opt.Label)
		r.Population = strings.ReplaceAll(r.Population, placeholder, opt.Label)
	}
	return r, nil
}

// Chapter is a thematic group of indicators.
type Chapter struct {
	Number int    `yaml:"number" json:"number"`
	Title  string `yaml:"title" json:"title"`
}

// Catalog holds every indicator the service can compute.
type Catalog struct {
	Chapters   []Chapter    `yaml:"chapters" json:"chapters"`
	Indicators []*Indicator `yaml:"indicators" json:"indicators"`

	byID map[string]*Indicator
}

// LoadCatalog decodes the built-in indicator catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c.byID = make(map[string]*Indicator, len(c.Indicators))
	for _, ind := range c.Indicators {
		if err := ind.validate(); err != nil {
			return nil, fmt.Errorf("catalog: indicator %q: %w", ind.ID, err)
		}
		if _, dup := c.byID[ind.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate indicator %q", ind.ID)
		}
		c.byID[ind.ID] = ind
	}
	return &c, nil
}

// Get returns the indicator with the given id.
func (c *Catalog) Get(id string) (*Indicator, bool) {
	ind, ok := c.byID[id]
	return ind, ok
}

// ByChapter groups indicators by chapter number, keeping catalog order.
func (c *Catalog) ByChapter() map[int][]*Indicator {
	out := make(map[int][]*Indicator)
	for _, ind := range c.Indicators {
		out[ind.Chapter] = append(out[ind.Chapter], ind)
	}
	return out
}

// ChapterNumbers lists the chapters that hold indicators, ascending.
func (c *Catalog) ChapterNumbers() []int {
	var out []int
	for ch := range c.ByChapter() {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// ChapterTitle returns the title of a chapter, "" when unknown.
func (c *Catalog) ChapterTitle(n int) string {
	for _, ch := range c.Chapters {
		if ch.Number == n {
			return ch.Title
		}
	}
	return ""
}

func (ind *Indicator) validate() error {
	if ind.ID == "" {
		return fmt.Errorf("missing id")
	}
	switch ind.Kind {
	case KindPercentage, KindMedian, KindMean, KindTFR, KindBreakdown:
	default:
		return fmt.Errorf("unknown kind %q", ind.Kind)
	}

	conds := append([]Condition(nil), ind.Universe...)
	if ind.Numerator != nil {
		conds = append(conds, *ind.Numerator)
	}
	for _, item := range ind.Items {
		conds = append(conds, item.Numerator)
	}

	hasDataset := ind.Dataset != ""
	for _, set := range ind.Params {
		if set.Param == "" || len(set.Options) == 0 {
			return fmt.Errorf("parameter without name or options")
		}
		if _, ok := set.option(set.Default); !ok {
			return fmt.Errorf("default %q of %s is not an option", set.Default, set.Param)
		}
		allDatasets := true
		for _, o := range set.Options {
			conds = append(conds, o.Universe...)
			if o.Numerator != nil {
				conds = append(conds, *o.Numerator)
			}
			if o.Dataset == "" {
				allDatasets = false
			}
		}
		hasDataset = hasDataset || allDatasets
	}
	if !hasDataset {
		return fmt.Errorf("no dataset")
	}

	for _, c := range conds {
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Condition) validate() error {
	nested := len(c.All) + len(c.Any)
	if c.Not != nil {
		nested++
	}
	if nested > 0 {
		for _, sub := range append(append([]Condition(nil), c.All...), c.Any...) {
			if err := sub.validate(); err != nil {
				return err
			}
		}
		if c.Not != nil {
			return c.Not.validate()
		}
		return nil
	}

	if c.Column == "" {
		return fmt.Errorf("condition without column")
	}
	switch c.Op {
	case "eq", "ne", "lt", "le", "gt", "ge":
		if c.Value == nil {
			return fmt.Errorf("%s %s: missing value", c.Column, c.Op)
		}
	case "in":
		if len(c.Values) == 0 {
			return fmt.Errorf("%s in: missing values", c.Column)
		}
	case "between":
		if c.Min == nil || c.Max == nil {
			return fmt.Errorf("%s between: missing min or max", c.Column)
		}
	case "present", "missing":
	default:
		return fmt.Errorf("%s: unknown op %q", c.Column, c.Op)
	}
	return nil
}

// predicate tells whether row i satisfies a condition.
type predicate func(i int) bool

// compile binds the condition to the columns of f. {p} in column names is
// replaced by prefix; absent columns read as missing.
func (c Condition) compile(f *state.Frame, prefix string) predicate {
	switch {
	case len(c.All) > 0:
		subs := compileAll(c.All, f, prefix)
		return func(i int) bool {
			for _, p := range subs {
				if !p(i) {
					return false
				}
			}
			return true
		}
	case len(c.Any) > 0:
		subs := compileAll(c.Any, f, prefix)
		return func(i int) bool {
			for _, p := range subs {
				if p(i) {
					return true
				}
			}
			return false
		}
	case c.Not != nil:
		sub := c.Not.compile(f, prefix)
		return func(i int) bool { return !sub(i) }
	}

	value := columnReader(f, c.Column, prefix)
	if c.Minus != "" {
		left, right := value, columnReader(f, c.Minus, prefix)
		value = func(i int) float64 { return left(i) - right(i) }
	}
	if c.Fill != nil {
		raw, fill := value, *c.Fill
		value = func(i int) float64 {
			if v := raw(i); !math.IsNaN(v) {
				return v
			}
			return fill
		}
	}

	test := c.test()
	return func(i int) bool { return test(value(i)) }
}

func compileAll(conds []Condition, f *state.Frame, prefix string) []predicate {
	out := make([]predicate, len(conds))
	for i, c := range conds {
		out[i] = c.compile(f, prefix)
	}
	return out
}

func (c Condition) test() func(float64) bool {
	var v float64
	if c.Value != nil {
		v = *c.Value
	}
	switch c.Op {
	case "present":
		return func(x float64) bool { return !math.IsNaN(x) }
	case "missing":
		return func(x float64) bool { return math.IsNaN(x) }
	case "eq":
		return func(x float64) bool { return x == v }
	case "ne":
		return func(x float64) bool { return x != v }
	case "lt":
		return func(x float64) bool { return x < v }
	case "le":
		return func(x float64) bool { return x <= v }
	case "gt":
		return func(x float64) bool { return x > v }
	case "ge":
		return func(x float64) bool { return x >= v }
	case "in":
		values := c.Values
		return func(x float64) bool {
			for _, want := range values {
				if x == want {
					return true
				}
			}
			return false
		}
	case "between":
		lo, hi := *c.Min, *c.Max
		return func(x float64) bool { return x >= lo && x <= hi }
	}
	return func(float64) bool { return false }
}

// columnReader returns an accessor for the first present alternative of
// column, yielding NaN when none is present.
func columnReader(f *state.Frame, column, prefix string) func(int) float64 {
	col := f.Column(f.Resolve(strings.ReplaceAll(column, "{p}", prefix)))
	if col == nil {
		return func(int) float64 { return math.NaN() }
	}
	return func(i int) float64 { return col[i] }
}
