package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// Archetype is a customer's usage-intensity class.
type Archetype string

// Customer archetypes.
const (
	ArchetypeLight Archetype = "light"
	ArchetypePower Archetype = "power"
	ArchetypeHeavy Archetype = "heavy"
)

// Archetypes lists all archetypes in draw order.
var Archetypes = []Archetype{ArchetypeLight, ArchetypePower, ArchetypeHeavy}

// IsValid reports whether a is a known archetype.
func (a Archetype) IsValid() bool {
	return a == ArchetypeLight || a == ArchetypePower || a == ArchetypeHeavy
}

// ArchetypeMix is the share of each archetype in a population.
type ArchetypeMix struct {
	Light float64 `yaml:"light"`
	Power float64 `yaml:"power"`
	Heavy float64 `yaml:"heavy"`
}

// DefaultArchetypeMix is the 70/20/10 light/power/heavy split.
var DefaultArchetypeMix = ArchetypeMix{Light: 0.70, Power: 0.20, Heavy: 0.10}

// Validate checks the mix is non-negative and sums to 1 within 1e-6.
func (m ArchetypeMix) Validate() error {
	for _, w := range []float64{m.Light, m.Power, m.Heavy} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("archetype_mix weights must be finite and non-negative, got %+v", m)
		}
	}
	if sum := m.Light + m.Power + m.Heavy; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("archetype_mix must sum to 1, got %f", sum)
	}
	return nil
}

func (m ArchetypeMix) weights() []float64 {
	return []float64{m.Light, m.Power, m.Heavy}
}

// tierWeights gives, per archetype, the draw weights over Tiers.
var tierWeights = map[Archetype][]float64{
	ArchetypeLight: {0.50, 0.40, 0.10, 0.00},
	ArchetypePower: {0.00, 0.30, 0.60, 0.10},
	ArchetypeHeavy: {0.00, 0.00, 0.40, 0.60},
}

// Customer is a simulated API consumer. It lives for the whole run;
// churn only stops its future volume.
type Customer struct {
	Index          int // registry position, stable for the run
	ID             string
	Archetype      Archetype
	Tier           Tier
	OrganizationID string
	CreatedTick    int64

	churnedAt int64 // -1 while active
}

// Churned reports whether the customer has churned.
func (c *Customer) Churned() bool {
	return c.churnedAt >= 0
}

// ChurnedAt is the tick the customer churned at, or -1.
func (c *Customer) ChurnedAt() int64 {
	return c.churnedAt
}

// IsActiveAt reports whether the customer produces volume at tick.
func (c *Customer) IsActiveAt(tick int64) bool {
	if tick < c.CreatedTick {
		return false
	}
	return c.churnedAt < 0 || tick < c.churnedAt
}

// Organization is a billing entity owning customers and licensing products.
type Organization struct {
	ID       string
	Products []string // ordered subset of Products ids
}

// PopulationConfig sizes a customer pool.
type PopulationConfig struct {
	Customers     int          `yaml:"customers"`
	Organizations int          `yaml:"organizations,omitempty"` // 0 = one per 10 customers
	Mix           ArchetypeMix `yaml:"archetype_mix,omitempty"` // zero value = DefaultArchetypeMix
}

// Validate checks the population parameters.
func (p PopulationConfig) Validate() error {
	if p.Customers <= 0 {
		return fmt.Errorf("population.customers must be positive, got %d", p.Customers)
	}
	if p.Organizations < 0 {
		return fmt.Errorf("population.organizations must be non-negative, got %d", p.Organizations)
	}
	if p.Organizations > p.Customers {
		return fmt.Errorf("population.organizations (%d) cannot exceed customers (%d)", p.Organizations, p.Customers)
	}
	if p.Mix != (ArchetypeMix{}) {
		return p.Mix.Validate()
	}
	return nil
}

// CustomerPool is the customer registry shared by all generators of a run.
// Customers are never removed; churn is recorded on the customer.
type CustomerPool struct {
	customers []*Customer
	orgs      []Organization
	orgIndex  map[string]int
	byID      map[string]*Customer
}

// NewCustomerPool builds a deterministic population from cfg and rng.
func NewCustomerPool(cfg PopulationConfig, rng *rand.Rand) (*CustomerPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mix := cfg.Mix
	if mix == (ArchetypeMix{}) {
		mix = DefaultArchetypeMix
	}
	numOrgs := cfg.Organizations
	if numOrgs == 0 {
		numOrgs = (cfg.Customers + 9) / 10
	}

	pool := &CustomerPool{
		orgIndex: make(map[string]int, numOrgs),
		byID:     make(map[string]*Customer, cfg.Customers),
	}
	for i := 0; i < numOrgs; i++ {
		org := Organization{ID: fmt.Sprintf("org_%03d", i+1)}
		// Each org licenses a non-empty subset of products, catalog order preserved.
		for _, p := range Products {
			if rng.Float64() < 0.6 {
				org.Products = append(org.Products, p.ID)
			}
		}
		if len(org.Products) == 0 {
			org.Products = []string{Products[rng.Intn(len(Products))].ID}
		}
		pool.orgIndex[org.ID] = len(pool.orgs)
		pool.orgs = append(pool.orgs, org)
	}

	mixWeights := mix.weights()
	for i := 0; i < cfg.Customers; i++ {
		arch := Archetypes[PickWeighted(rng, mixWeights)]
		c := &Customer{
			Index:          i,
			ID:             fmt.Sprintf("cust_%05d", i+1),
			Archetype:      arch,
			Tier:           Tiers[PickWeighted(rng, tierWeights[arch])],
			OrganizationID: pool.orgs[rng.Intn(numOrgs)].ID,
			churnedAt:      -1,
		}
		pool.customers = append(pool.customers, c)
		pool.byID[c.ID] = c
	}
	return pool, nil
}

// Customers returns every customer in registry order, churned ones included.
func (p *CustomerPool) Customers() []*Customer {
	return p.customers
}

// Len is the registry size.
func (p *CustomerPool) Len() int {
	return len(p.customers)
}

// Get returns a customer by id.
func (p *CustomerPool) Get(id string) (*Customer, bool) {
	c, ok := p.byID[id]
	return c, ok
}

// Active returns the customers producing volume at tick, in registry order.
func (p *CustomerPool) Active(tick int64) []*Customer {
	active := make([]*Customer, 0, len(p.customers))
	for _, c := range p.customers {
		if c.IsActiveAt(tick) {
			active = append(active, c)
		}
	}
	return active
}

// ActiveCount is len(Active(tick)) without allocating.
func (p *CustomerPool) ActiveCount(tick int64) int {
	n := 0
	for _, c := range p.customers {
		if c.IsActiveAt(tick) {
			n++
		}
	}
	return n
}

// Churn marks c as churned from tick on. Churn is permanent: a second
// call keeps the earliest tick.
func (p *CustomerPool) Churn(c *Customer, tick int64) {
	if c.churnedAt >= 0 && c.churnedAt <= tick {
		return
	}
	c.churnedAt = tick
}

// Organizations returns all organizations in id order.
func (p *CustomerPool) Organizations() []Organization {
	return p.orgs
}

// Organization returns the organization with id.
func (p *CustomerPool) Organization(id string) (Organization, bool) {
	i, ok := p.orgIndex[id]
	if !ok {
		return Organization{}, false
	}
	return p.orgs[i], true
}

// PickWeighted draws an index with probability proportional to weights.
// Zero total weight picks index 0.
func PickWeighted(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	u := rng.Float64() * total
	acc := 0.0
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		last = i
		if u < acc {
			return i
		}
	}
	return last
}
