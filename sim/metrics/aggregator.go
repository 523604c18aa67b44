package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/usagesim/sim"
)

// MaxRejectReasons caps the rejection reasons kept for reporting.
const MaxRejectReasons = 10

// keySep joins dimension values into a map key. It cannot occur in ids.
const keySep = "\x1f"

// Totals are the additive sums of a set of events.
type Totals struct {
	Count        int64   `json:"count" yaml:"count"`
	CostUSD      float64 `json:"cost_usd" yaml:"cost_usd"`
	Tokens       int64   `json:"token_sum" yaml:"token_sum"`
	InputTokens  int64   `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64   `json:"output_tokens" yaml:"output_tokens"`
	Failed       int64   `json:"failed" yaml:"failed"` // error or timeout
}

func (t *Totals) add(e sim.Event) {
	t.Count++
	t.CostUSD += e.CostUSD
	t.Tokens += e.TotalTokens
	t.InputTokens += e.InputTokens
	t.OutputTokens += e.OutputTokens
	if e.Status != sim.StatusSuccess {
		t.Failed++
	}
}

func (t *Totals) merge(o Totals) {
	t.Count += o.Count
	t.CostUSD += o.CostUSD
	t.Tokens += o.Tokens
	t.InputTokens += o.InputTokens
	t.OutputTokens += o.OutputTokens
	t.Failed += o.Failed
}

// CostPerCall is the mean cost of one call, 0 for an empty set.
func (t Totals) CostPerCall() float64 {
	if t.Count == 0 {
		return 0
	}
	return t.CostUSD / float64(t.Count)
}

// Group is the aggregate of every event sharing one key of a grouping.
type Group struct {
	Values []string // one per grouping dimension
	Totals
	latencies []float64
}

// Key is the values joined with "/".
func (g *Group) Key() string { return strings.Join(g.Values, "/") }

// Latencies returns the retained latency values (ms) in ingestion order.
// The slice must not be modified.
func (g *Group) Latencies() []float64 { return g.latencies }

// Latency summarizes the group's latencies.
func (g *Group) Latency() (Summary, error) { return Summarize(g.latencies) }

func (g *Group) add(e sim.Event) {
	g.Totals.add(e)
	g.latencies = append(g.latencies, float64(e.LatencyMs))
}

// Table holds the groups of one grouping.
type Table struct {
	Grouping Grouping
	groups   map[string]*Group
	sorted   []*Group // cached, reset on insert
}

// Len is the number of groups.
func (t *Table) Len() int { return len(t.groups) }

// Get returns the group with the given dimension values.
func (t *Table) Get(values ...string) (*Group, bool) {
	g, ok := t.groups[strings.Join(values, keySep)]
	return g, ok
}

// Groups returns every group sorted by its values.
func (t *Table) Groups() []*Group {
	if t.sorted != nil {
		return t.sorted
	}
	out := make([]*Group, 0, len(t.groups))
	for _, g := range t.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Values, out[j].Values
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	t.sorted = out
	return out
}

func (t *Table) add(e sim.Event) {
	values := make([]string, len(t.Grouping))
	for i, d := range t.Grouping {
		values[i] = d.Value(e)
	}
	key := strings.Join(values, keySep)
	g, ok := t.groups[key]
	if !ok {
		g = &Group{Values: values}
		t.groups[key] = g
		t.sorted = nil
	}
	g.add(e)
}

// Aggregator folds events into every registered grouping at once.
// Not safe for concurrent use.
type Aggregator struct {
	tables   []*Table
	byName   map[string]*Table
	total    Group
	rejected int64
	reasons  []string
	first    time.Time
	last     time.Time
}

// NewAggregator registers groupings; none registers DefaultGroupings.
// Duplicate groupings are registered once.
func NewAggregator(groupings ...Grouping) (*Aggregator, error) {
	if len(groupings) == 0 {
		groupings = DefaultGroupings()
	}
	a := &Aggregator{byName: make(map[string]*Table, len(groupings))}
	for _, g := range groupings {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if _, dup := a.byName[g.Name()]; dup {
			continue
		}
		t := &Table{Grouping: append(Grouping(nil), g...), groups: make(map[string]*Group)}
		a.tables = append(a.tables, t)
		a.byName[g.Name()] = t
	}
	return a, nil
}

// Add folds e into every grouping. Events failing Validate are counted as
// rejected instead; Add reports whether e was aggregated.
func (a *Aggregator) Add(e sim.Event) bool {
	if err := e.Validate(); err != nil {
		a.Reject(1, err.Error())
		return false
	}
	a.total.add(e)
	for _, t := range a.tables {
		t.add(e)
	}
	if a.first.IsZero() || e.Timestamp.Before(a.first) {
		a.first = e.Timestamp
	}
	if e.Timestamp.After(a.last) {
		a.last = e.Timestamp
	}
	return true
}

// Reject counts n records rejected upstream, e.g. by the record reader.
func (a *Aggregator) Reject(n int64, reasons ...string) {
	a.rejected += n
	for _, r := range reasons {
		if len(a.reasons) >= MaxRejectReasons {
			break
		}
		a.reasons = append(a.reasons, r)
	}
	logrus.Debugf("rejected %d record(s): %v", n, reasons)
}

// Table returns the table of a registered grouping.
func (a *Aggregator) Table(g Grouping) (*Table, bool) {
	t, ok := a.byName[g.Name()]
	return t, ok
}

// Tables returns every table in registration order.
func (a *Aggregator) Tables() []*Table { return a.tables }

// Total is the aggregate over all accepted events.
func (a *Aggregator) Total() *Group { return &a.total }

// Rejected is the number of records not aggregated.
func (a *Aggregator) Rejected() int64 { return a.rejected }

// Reasons returns up to MaxRejectReasons rejection reasons.
func (a *Aggregator) Reasons() []string { return a.reasons }

// Span returns the first and last accepted event timestamps.
func (a *Aggregator) Span() (first, last time.Time) { return a.first, a.last }

func (a *Aggregator) require(g Grouping) (*Table, error) {
	t, ok := a.Table(g)
	if !ok {
		return nil, fmt.Errorf("grouping %q is not registered", g.Name())
	}
	return t, nil
}
