package research

import "google.golang.org/genai"

// QueryPlanSchema caps the number of queries with maxItems so the limit is
// part of the structured-output contract rather than applied afterwards.
func QueryPlanSchema(maxQueries int) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reasoning": {
				Type:        genai.TypeString,
				Description: "Brief reasoning about what information is needed",
			},
			"expectedInformation": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "What specific information do we expect to find?",
			},
			"queries": {
				Type:     genai.TypeArray,
				MaxItems: genai.Ptr(int64(maxQueries)),
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query":   {Type: genai.TypeString, Description: "The search query"},
						"purpose": {Type: genai.TypeString, Description: "Why this query is needed"},
					},
					Required:         []string{"query", "purpose"},
					PropertyOrdering: []string{"query", "purpose"},
				},
				Description: "Search queries to execute",
			},
			"isComplete": {
				Type:        genai.TypeBoolean,
				Description: "Do we have enough information to provide a comprehensive answer?",
			},
			"completionRationale": {
				Type:        genai.TypeString,
				Description: "If complete, why. If not, what gaps remain.",
			},
		},
		Required:         []string{"reasoning", "expectedInformation", "queries", "isComplete"},
		PropertyOrdering: []string{"reasoning", "expectedInformation", "queries", "isComplete", "completionRationale"},
	}
}

func AggregatedResultSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"keyFindings": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"fact":   {Type: genai.TypeString, Description: "A key fact or finding"},
						"source": {Type: genai.TypeString, Description: "The source URL or description"},
						"relevanceScore": {
							Type:        genai.TypeInteger,
							Minimum:     genai.Ptr(1.0),
							Maximum:     genai.Ptr(10.0),
							Description: "How relevant is this to the query (1-10)",
						},
					},
					Required:         []string{"fact", "source", "relevanceScore"},
					PropertyOrdering: []string{"fact", "source", "relevanceScore"},
				},
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "A brief summary of what was found",
			},
			"gaps": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "What information is still missing or unclear?",
			},
		},
		Required:         []string{"keyFindings", "summary", "gaps"},
		PropertyOrdering: []string{"keyFindings", "summary", "gaps"},
	}
}
