package sim

// Product groups the features a customer can call.
type Product struct {
	ID       string
	Features []string
}

// Products is the static product catalog. Order is significant: it fixes
// the draw order of product selection.
var Products = []Product{
	{ID: "assistant", Features: []string{"chat", "summarize"}},
	{ID: "codegen", Features: []string{"completion", "review"}},
	{ID: "search", Features: []string{"rag-query", "rerank"}},
	{ID: "insights", Features: []string{"classification", "extraction"}},
}

// ProductByID looks up a product of the static catalog.
func ProductByID(id string) (Product, bool) {
	for _, p := range Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// TaskTypeGeneral is the task type of features missing from the catalog.
const TaskTypeGeneral = "general"

// featureTaskTypes maps feature id -> task type.
var featureTaskTypes = map[string]string{
	"chat":           "conversation",
	"summarize":      "summarization",
	"completion":     "code_generation",
	"review":         "code_review",
	"rag-query":      "question_answering",
	"rerank":         "ranking",
	"classification": "classification",
	"extraction":     "extraction",
	"agent-mode":     "agentic",
}

// TaskTypeOf returns the task type of a feature, TaskTypeGeneral when unknown.
func TaskTypeOf(featureID string) string {
	if tt, ok := featureTaskTypes[featureID]; ok {
		return tt
	}
	return TaskTypeGeneral
}

// Tier is a subscription tier with its monthly list price.
type Tier struct {
	Name     string
	PriceUSD float64
}

// Subscription tiers.
var (
	TierFree       = Tier{Name: "free", PriceUSD: 0}
	TierStarter    = Tier{Name: "starter", PriceUSD: 29}
	TierPro        = Tier{Name: "pro", PriceUSD: 99}
	TierEnterprise = Tier{Name: "enterprise", PriceUSD: 499}
)

// Tiers lists all tiers from cheapest to most expensive.
var Tiers = []Tier{TierFree, TierStarter, TierPro, TierEnterprise}

// Environments and their selection weights.
var (
	Environments       = []string{"production", "staging", "development"}
	EnvironmentWeights = []float64{0.85, 0.10, 0.05}
)

// Regions and their selection weights.
var (
	Regions       = []string{"us-east-1", "us-west-2", "eu-west-1", "ap-southeast-1"}
	RegionWeights = []float64{0.40, 0.20, 0.25, 0.15}
)
