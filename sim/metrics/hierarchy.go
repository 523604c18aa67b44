package metrics

import "sort"

// Node is one level of the organization → product → customer roll-up.
// Its totals are the sums of its children.
type Node struct {
	Dimension Dimension `json:"dimension" yaml:"dimension"`
	Key       string    `json:"key" yaml:"key"`
	Totals    `yaml:",inline"`
	Children  []*Node `json:"children,omitempty" yaml:"children,omitempty"`
}

// Hierarchy rolls the HierarchyGrouping table up into organizations,
// their products and the customers using them. Children are sorted by key.
func (a *Aggregator) Hierarchy() ([]*Node, error) {
	t, err := a.require(HierarchyGrouping)
	if err != nil {
		return nil, err
	}
	var roots []*Node
	orgs := map[string]*Node{}
	products := map[[2]string]*Node{}
	for _, g := range t.Groups() {
		org, product, customer := g.Values[0], g.Values[1], g.Values[2]
		on, ok := orgs[org]
		if !ok {
			on = &Node{Dimension: DimOrganization, Key: org}
			orgs[org] = on
			roots = append(roots, on)
		}
		pn, ok := products[[2]string{org, product}]
		if !ok {
			pn = &Node{Dimension: DimProduct, Key: product}
			products[[2]string{org, product}] = pn
			on.Children = append(on.Children, pn)
		}
		pn.Children = append(pn.Children, &Node{Dimension: DimCustomer, Key: customer, Totals: g.Totals})
		pn.merge(g.Totals)
		on.merge(g.Totals)
	}
	// Groups() is sorted by (org, product, customer) so every level already is.
	return roots, nil
}

// CrossTab is a dense organization × product matrix of cost and call count.
type CrossTab struct {
	Rows         []string    `json:"rows" yaml:"rows"`
	Columns      []string    `json:"columns" yaml:"columns"`
	CostUSD      [][]float64 `json:"cost_usd" yaml:"cost_usd"`
	Count        [][]int64   `json:"count" yaml:"count"`
	RowTotals    []float64   `json:"row_totals_usd" yaml:"row_totals_usd"`
	ColumnTotals []float64   `json:"column_totals_usd" yaml:"column_totals_usd"`
}

// CrossTab builds the organization × product matrix from CrossTabGrouping.
// Rows and columns are sorted; absent pairs are zero.
func (a *Aggregator) CrossTab() (*CrossTab, error) {
	t, err := a.require(CrossTabGrouping)
	if err != nil {
		return nil, err
	}
	rowIdx, colIdx := map[string]int{}, map[string]int{}
	for _, g := range t.Groups() {
		rowIdx[g.Values[0]] = 0
		colIdx[g.Values[1]] = 0
	}
	ct := &CrossTab{Rows: sortedKeys(rowIdx), Columns: sortedKeys(colIdx)}
	for i, r := range ct.Rows {
		rowIdx[r] = i
	}
	for j, c := range ct.Columns {
		colIdx[c] = j
	}
	ct.CostUSD = make([][]float64, len(ct.Rows))
	ct.Count = make([][]int64, len(ct.Rows))
	for i := range ct.Rows {
		ct.CostUSD[i] = make([]float64, len(ct.Columns))
		ct.Count[i] = make([]int64, len(ct.Columns))
	}
	ct.RowTotals = make([]float64, len(ct.Rows))
	ct.ColumnTotals = make([]float64, len(ct.Columns))
	for _, g := range t.Groups() {
		i, j := rowIdx[g.Values[0]], colIdx[g.Values[1]]
		ct.CostUSD[i][j] = g.CostUSD
		ct.Count[i][j] = g.Count
		ct.RowTotals[i] += g.CostUSD
		ct.ColumnTotals[j] += g.CostUSD
	}
	return ct, nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
