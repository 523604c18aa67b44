package sim

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Call status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

var validStatuses = map[string]bool{StatusSuccess: true, StatusError: true, StatusTimeout: true}

// ErrInvalidEvent is wrapped by every validation failure of NewEvent.
var ErrInvalidEvent = errors.New("invalid event")

// EventColumns is the ordered, stable record schema shared with external renderers.
var EventColumns = []string{
	"call_id", "timestamp", "customer_id", "organization_id", "product_id", "feature_id",
	"provider", "model", "input_tokens", "output_tokens", "total_tokens", "cost_usd",
	"latency_ms", "status", "environment", "region", "subscription_tier",
	"tier_price_usd", "customer_archetype",
}

// Rater prices a call. sim/pricing.Catalog implements it.
type Rater interface {
	Cost(model string, inputTokens, outputTokens int64) (float64, error)
}

// Event is one simulated API call. Once built by NewEvent it is never mutated.
type Event struct {
	CallID            string    `json:"call_id"`
	Timestamp         time.Time `json:"timestamp"`
	CustomerID        string    `json:"customer_id"`
	OrganizationID    string    `json:"organization_id"`
	ProductID         string    `json:"product_id"`
	FeatureID         string    `json:"feature_id"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	InputTokens       int64     `json:"input_tokens"`
	OutputTokens      int64     `json:"output_tokens"`
	TotalTokens       int64     `json:"total_tokens"`
	CostUSD           float64   `json:"cost_usd"`
	LatencyMs         int64     `json:"latency_ms"`
	Status            string    `json:"status"`
	Environment       string    `json:"environment"`
	Region            string    `json:"region"`
	SubscriptionTier  string    `json:"subscription_tier"`
	TierPriceUSD      float64   `json:"tier_price_usd"`
	CustomerArchetype Archetype `json:"customer_archetype"`
}

// NewEvent validates the raw fields of e and derives TotalTokens and CostUSD
// from InputTokens, OutputTokens and the rater. Any TotalTokens or CostUSD
// already set on e is ignored.
func NewEvent(e Event, rater Rater) (Event, error) {
	if err := e.validateRaw(); err != nil {
		return Event{}, err
	}
	cost, err := rater.Cost(e.Model, e.InputTokens, e.OutputTokens)
	if err != nil {
		return Event{}, fmt.Errorf("%w: call %s: %w", ErrInvalidEvent, e.CallID, err)
	}
	e.Timestamp = e.Timestamp.UTC()
	e.TotalTokens = e.InputTokens + e.OutputTokens
	e.CostUSD = cost
	return e, nil
}

// Validate checks an already built event, derived fields included.
func (e Event) Validate() error {
	if err := e.validateRaw(); err != nil {
		return err
	}
	if e.InputTokens < 0 || e.OutputTokens < 0 {
		return fmt.Errorf("%w: call %s: negative tokens", ErrInvalidEvent, e.CallID)
	}
	if e.TotalTokens != e.InputTokens+e.OutputTokens {
		return fmt.Errorf("%w: call %s: total_tokens %d != %d + %d",
			ErrInvalidEvent, e.CallID, e.TotalTokens, e.InputTokens, e.OutputTokens)
	}
	if e.CostUSD < 0 || math.IsNaN(e.CostUSD) || math.IsInf(e.CostUSD, 0) {
		return fmt.Errorf("%w: call %s: bad cost %v", ErrInvalidEvent, e.CallID, e.CostUSD)
	}
	return nil
}

func (e Event) validateRaw() error {
	if e.CallID == "" {
		return fmt.Errorf("%w: empty call_id", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: call %s: zero timestamp", ErrInvalidEvent, e.CallID)
	}
	if e.CustomerID == "" || e.Model == "" || e.Provider == "" {
		return fmt.Errorf("%w: call %s: customer, provider and model are required", ErrInvalidEvent, e.CallID)
	}
	if e.OrganizationID == "" || e.ProductID == "" || e.FeatureID == "" {
		return fmt.Errorf("%w: call %s: organization, product and feature are required", ErrInvalidEvent, e.CallID)
	}
	if !e.CustomerArchetype.IsValid() {
		return fmt.Errorf("%w: call %s: unknown archetype %q", ErrInvalidEvent, e.CallID, e.CustomerArchetype)
	}
	if !contains(Environments, e.Environment) {
		return fmt.Errorf("%w: call %s: unknown environment %q", ErrInvalidEvent, e.CallID, e.Environment)
	}
	if !contains(Regions, e.Region) {
		return fmt.Errorf("%w: call %s: unknown region %q", ErrInvalidEvent, e.CallID, e.Region)
	}
	if e.LatencyMs < 0 {
		return fmt.Errorf("%w: call %s: negative latency %d", ErrInvalidEvent, e.CallID, e.LatencyMs)
	}
	if e.TierPriceUSD < 0 {
		return fmt.Errorf("%w: call %s: negative tier price %f", ErrInvalidEvent, e.CallID, e.TierPriceUSD)
	}
	if !validStatuses[e.Status] {
		return fmt.Errorf("%w: call %s: unknown status %q", ErrInvalidEvent, e.CallID, e.Status)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Day returns the UTC calendar day bucket of the event, formatted YYYY-MM-DD.
func (e Event) Day() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// HourBucket returns the UTC hour bucket of the event, formatted YYYY-MM-DDTHH.
func (e Event) HourBucket() string {
	return e.Timestamp.UTC().Format("2006-01-02T15")
}

// TaskType returns the task type the event's feature belongs to.
func (e Event) TaskType() string {
	return TaskTypeOf(e.FeatureID)
}
