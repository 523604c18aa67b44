// Package metrics aggregates an event stream in one pass over any number of
// dimension groupings, and derives hierarchy roll-ups, cross-tabs and exact
// nearest-rank percentiles from the result.
package metrics

import (
	"fmt"
	"strings"

	"github.com/inference-sim/usagesim/sim"
)

// Dimension names one event attribute events can be grouped by.
type Dimension string

// Supported dimensions.
const (
	DimProvider     Dimension = "provider"
	DimModel        Dimension = "model"
	DimCustomer     Dimension = "customer"
	DimOrganization Dimension = "organization"
	DimProduct      Dimension = "product"
	DimFeature      Dimension = "feature"
	DimTaskType     Dimension = "task_type"
	DimDay          Dimension = "day"
	DimHour         Dimension = "hour"
	DimStatus       Dimension = "status"
	DimRegion       Dimension = "region"
	DimEnvironment  Dimension = "environment"
	DimArchetype    Dimension = "archetype"
	DimTier         Dimension = "tier"
)

// Dimensions lists every supported dimension.
var Dimensions = []Dimension{
	DimProvider, DimModel, DimCustomer, DimOrganization, DimProduct, DimFeature,
	DimTaskType, DimDay, DimHour, DimStatus, DimRegion, DimEnvironment,
	DimArchetype, DimTier,
}

// IsValid reports whether d is a supported dimension.
func (d Dimension) IsValid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// Value extracts the dimension value of e.
func (d Dimension) Value(e sim.Event) string {
	switch d {
	case DimProvider:
		return e.Provider
	case DimModel:
		return e.Model
	case DimCustomer:
		return e.CustomerID
	case DimOrganization:
		return e.OrganizationID
	case DimProduct:
		return e.ProductID
	case DimFeature:
		return e.FeatureID
	case DimTaskType:
		return e.TaskType()
	case DimDay:
		return e.Day()
	case DimHour:
		return e.HourBucket()
	case DimStatus:
		return e.Status
	case DimRegion:
		return e.Region
	case DimEnvironment:
		return e.Environment
	case DimArchetype:
		return string(e.CustomerArchetype)
	case DimTier:
		return e.SubscriptionTier
	}
	return ""
}

// Grouping is an ordered tuple of dimensions forming one group-by key.
type Grouping []Dimension

// Name is the dimensions joined with "+", e.g. "provider+model".
func (g Grouping) Name() string {
	parts := make([]string, len(g))
	for i, d := range g {
		parts[i] = string(d)
	}
	return strings.Join(parts, "+")
}

// Validate rejects empty groupings, unknown and repeated dimensions.
func (g Grouping) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("empty grouping")
	}
	seen := make(map[Dimension]bool, len(g))
	for _, d := range g {
		if !d.IsValid() {
			return fmt.Errorf("grouping %q: unknown dimension %q", g.Name(), d)
		}
		if seen[d] {
			return fmt.Errorf("grouping %q: dimension %q repeated", g.Name(), d)
		}
		seen[d] = true
	}
	return nil
}

// ParseGrouping parses a "+"-joined grouping name.
func ParseGrouping(name string) (Grouping, error) {
	var g Grouping
	for _, part := range strings.Split(name, "+") {
		g = append(g, Dimension(strings.TrimSpace(part)))
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Groupings used by hierarchy and cross-tab derivations.
var (
	HierarchyGrouping = Grouping{DimOrganization, DimProduct, DimCustomer}
	CrossTabGrouping  = Grouping{DimOrganization, DimProduct}
)

// DefaultGroupings returns every single-dimension grouping plus the
// composite groupings the analysis report reads.
func DefaultGroupings() []Grouping {
	out := make([]Grouping, 0, len(Dimensions)+4)
	for _, d := range Dimensions {
		out = append(out, Grouping{d})
	}
	return append(out,
		Grouping{DimProvider, DimModel},
		Grouping{DimTaskType, DimModel},
		CrossTabGrouping,
		HierarchyGrouping,
	)
}
