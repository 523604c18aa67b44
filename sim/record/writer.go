package record

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/inference-sim/usagesim/sim"
)

// Writer appends events as CSV rows in the sim.EventColumns order.
// Rows are staged in memory and reach the destination on Flush, so a
// crash loses at most the rows since the last flush.
type Writer struct {
	dst     io.Writer
	closer  io.Closer
	staged  bytes.Buffer
	csv     *csv.Writer
	flushed int64
	records int64
}

// NewWriter writes the header row to dst and returns a writer over it.
func NewWriter(dst io.Writer) (*Writer, error) {
	w := &Writer{dst: dst}
	w.csv = csv.NewWriter(&w.staged)
	if err := w.csv.Write(sim.EventColumns); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	w.csv.Flush()
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return w, nil
}

// Create creates (truncating) the file at path and writes the header row.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating record file: %w", err)
	}
	w, err := NewWriter(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// Write stages one event row.
func (w *Writer) Write(e sim.Event) error {
	if err := w.csv.Write(formatRow(e)); err != nil {
		return fmt.Errorf("writing CSV row %s: %w", e.CallID, err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("writing CSV row %s: %w", e.CallID, err)
	}
	w.records++
	return nil
}

// Flush moves staged rows to the destination in one write. A destination
// that fails mid-write can keep a partial last row; Reader rejects it as
// malformed and keeps the rows before it.
func (w *Writer) Flush() error {
	n, err := w.staged.WriteTo(w.dst)
	w.flushed += n
	if err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	return nil
}

// Records is the number of event rows written so far, staged included.
func (w *Writer) Records() int64 { return w.records }

// Bytes is the encoded size so far, header row and staged rows included.
func (w *Writer) Bytes() int64 { return w.flushed + int64(w.staged.Len()) }

// Close flushes and closes the underlying file when the writer owns it.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func formatRow(e sim.Event) []string {
	return []string{
		e.CallID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.CustomerID,
		e.OrganizationID,
		e.ProductID,
		e.FeatureID,
		e.Provider,
		e.Model,
		strconv.FormatInt(e.InputTokens, 10),
		strconv.FormatInt(e.OutputTokens, 10),
		strconv.FormatInt(e.TotalTokens, 10),
		strconv.FormatFloat(e.CostUSD, 'f', -1, 64),
		strconv.FormatInt(e.LatencyMs, 10),
		e.Status,
		e.Environment,
		e.Region,
		e.SubscriptionTier,
		strconv.FormatFloat(e.TierPriceUSD, 'f', -1, 64),
		string(e.CustomerArchetype),
	}
}
