package analysis

// queryPlans maps each category to its hand-curated retrieval queries. Three
// narrow queries per category keep the fan-out bounded and the merged result
// set topically coherent.
var queryPlans = map[Category][]string{
	CategoryIdentification: {
		"plant identification scientific name common name",
		"plant species botanical family classification",
		"plant recognition morphology leaves flowers",
	},
	CategoryDisease: {
		"plant disease symptoms pathogen infection",
		"plant health problems fungal bacterial viral",
		"disease diagnosis treatment prevention",
	},
	CategoryGrowth: {
		"plant growth development stage maturity",
		"plant nutrition fertilizer nutrient deficiency",
		"plant care cultivation growing conditions",
	},
	CategoryComplete: {
		"plant analysis identification health disease",
		"plant care treatment recommendations",
		"plant cultivation growing conditions",
	},
}

// Plan returns the ordered retrieval queries for a category. Unrecognized
// categories fall back to the complete plan.
func Plan(category Category) []string {
	plan, ok := queryPlans[category]
	if !ok {
		plan = queryPlans[CategoryComplete]
	}
	out := make([]string, len(plan))
	copy(out, plan)
	return out
}
