package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/usagesim/sim"
)

// MaxRejectReasons bounds how many rejection reasons a Reader keeps.
const MaxRejectReasons = 10

// Reader streams events back from a record file. Malformed rows are
// skipped and counted; derived fields are always recomputed from the raw
// token counts and the rater.
type Reader struct {
	csv     *csv.Reader
	rater   sim.Rater
	col     map[string]int
	row     int
	read    int64
	reject  int64
	reasons []string
	closer  io.Closer
}

// NewReader reads and checks the header row of src.
func NewReader(src io.Reader, rater sim.Rater) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1 // field count is checked per row
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range sim.EventColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("CSV header missing column %q", name)
		}
	}
	return &Reader{csv: cr, rater: rater, col: col, row: 1}, nil
}

// Open opens the record file at path.
func Open(path string, rater sim.Rater) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening record file: %w", err)
	}
	r, err := NewReader(file, rater)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// Next returns the next valid event, or io.EOF when the input is exhausted.
func (r *Reader) Next() (sim.Event, error) {
	for {
		fields, err := r.csv.Read()
		if err == io.EOF {
			return sim.Event{}, io.EOF
		}
		r.row++
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.rejectRow(perr.Error())
			continue
		}
		if err != nil {
			return sim.Event{}, fmt.Errorf("reading CSV row %d: %w", r.row, err)
		}
		e, err := r.parse(fields)
		if err != nil {
			r.rejectRow(fmt.Sprintf("row %d: %v", r.row, err))
			continue
		}
		r.read++
		return e, nil
	}
}

// Each calls fn for every valid event until the input is exhausted or fn fails.
func (r *Reader) Each(fn func(sim.Event) error) error {
	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// ReadAll collects every valid event.
func (r *Reader) ReadAll() ([]sim.Event, error) {
	var out []sim.Event
	err := r.Each(func(e sim.Event) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Read is the number of valid events returned so far.
func (r *Reader) Read() int64 { return r.read }

// Rejected is the number of malformed rows skipped so far.
func (r *Reader) Rejected() int64 { return r.reject }

// Reasons returns the first MaxRejectReasons rejection reasons.
func (r *Reader) Reasons() []string { return r.reasons }

// Close closes the underlying file when the reader owns it.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) rejectRow(reason string) {
	r.reject++
	if len(r.reasons) < MaxRejectReasons {
		r.reasons = append(r.reasons, reason)
	}
	logrus.Debugf("rejected record: %s", reason)
}

func (r *Reader) parse(fields []string) (sim.Event, error) {
	if len(fields) != len(r.col) {
		return sim.Event{}, fmt.Errorf("has %d fields, expected %d", len(fields), len(r.col))
	}
	get := func(name string) string { return fields[r.col[name]] }
	var err error
	parseInt := func(name string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		if v, err = strconv.ParseInt(get(name), 10, 64); err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		return v
	}
	parseFloat := func(name string) float64 {
		if err != nil {
			return 0
		}
		var v float64
		if v, err = strconv.ParseFloat(get(name), 64); err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		return v
	}

	ts, terr := time.Parse(time.RFC3339, get("timestamp"))
	if terr != nil {
		return sim.Event{}, fmt.Errorf("timestamp: %w", terr)
	}
	e := sim.Event{
		CallID:            get("call_id"),
		Timestamp:         ts,
		CustomerID:        get("customer_id"),
		OrganizationID:    get("organization_id"),
		ProductID:         get("product_id"),
		FeatureID:         get("feature_id"),
		Provider:          get("provider"),
		Model:             get("model"),
		InputTokens:       parseInt("input_tokens"),
		OutputTokens:      parseInt("output_tokens"),
		LatencyMs:         parseInt("latency_ms"),
		Status:            get("status"),
		Environment:       get("environment"),
		Region:            get("region"),
		SubscriptionTier:  get("subscription_tier"),
		TierPriceUSD:      parseFloat("tier_price_usd"),
		CustomerArchetype: sim.Archetype(get("customer_archetype")),
	}
	if err != nil {
		return sim.Event{}, err
	}
	// total_tokens and cost_usd are not trusted: NewEvent recomputes them.
	return sim.NewEvent(e, r.rater)
}
