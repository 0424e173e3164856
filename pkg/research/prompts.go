package research

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

const (
	searchSystemPrompt  = "You are a research assistant. Search the web and extract relevant information for the query. Be thorough and cite sources."
	synthesisUserPrompt = "Write the comprehensive research report now."
)

func searchPrompt(q PlannedQuery) string {
	return fmt.Sprintf("Search the web for: %s\n\nObjective: %s", q.Query, q.Purpose)
}

func planUserPrompt(iteration int) string {
	return fmt.Sprintf("Generate a research plan for iteration %d.", iteration+1)
}

func orchestratorPrompt(question string, knowledge []AggregatedResult, iteration, maxIterations, queriesPerIteration int) string {
	summary := "No previous knowledge gathered yet."
	if len(knowledge) > 0 {
		blocks := make([]string, len(knowledge))
		for i, k := range knowledge {
			facts := make([]string, len(k.KeyFindings))
			for j, f := range k.KeyFindings {
				facts[j] = f.Fact
			}
			blocks[i] = fmt.Sprintf("\n--- Iteration %d Findings ---\n%s\nKey facts: %s\nRemaining gaps: %s",
				i+1, k.Summary, strings.Join(facts, "; "), strings.Join(k.Gaps, ", "))
		}
		summary = strings.Join(blocks, "\n")
	}

	return fmt.Sprintf(`You are a Deep Research Orchestrator. Your goal is to plan comprehensive research to answer the user's question.

USER'S QUESTION: "%s"

CURRENT ITERATION: %d of %d

KNOWLEDGE GATHERED SO FAR:
%s

INSTRUCTIONS:
1. Analyze what information is needed to comprehensively answer the question
2. Consider multiple perspectives and sources
3. Generate %d diverse search queries that will fill knowledge gaps
4. REFLECTION: Before marking as complete, ask yourself:
   - Do I have information from multiple authoritative sources?
   - Have I covered different aspects of the topic?
   - Are there any contradicting viewpoints I should investigate?
   - Would the user find this answer comprehensive?

If this is iteration %d, you MUST set isComplete to true and work with available information.

Generate a query plan to continue or complete the research.`,
		question, iteration+1, maxIterations, summary, queriesPerIteration, maxIterations)
}

func aggregationPrompt(question string, results []SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("\n--- Result %d ---\n%s", i+1, r.Text)
	}

	return fmt.Sprintf(`You are a Research Aggregator. Your job is to extract and organize key findings from search results.

ORIGINAL QUESTION: "%s"

SEARCH RESULTS:
%s

INSTRUCTIONS:
1. Extract the most relevant facts that help answer the question
2. Note the source for each fact
3. Rate relevance from 1-10
4. Identify what information is still missing
5. Provide a brief summary

Be thorough but concise. Focus on facts, not opinions (unless opinions are what's being asked about).`,
		question, strings.Join(blocks, "\n"))
}

// rankedFindings flattens every iteration's findings, most relevant first.
// Equal scores keep their original order.
func rankedFindings(knowledge []AggregatedResult) []Finding {
	var all []Finding
	for _, k := range knowledge {
		all = append(all, k.KeyFindings...)
	}
	slices.SortStableFunc(all, func(a, b Finding) int {
		return cmp.Compare(b.RelevanceScore, a.RelevanceScore)
	})
	return all
}

func languageInstruction(preference string) string {
	if preference == "" || preference == "auto" {
		return ""
	}
	return fmt.Sprintf("\n\nIMPORTANT: Respond in %s language.", preference)
}

func synthesisPrompt(question string, knowledge []AggregatedResult, languagePreference string) string {
	summaries := make([]string, len(knowledge))
	for i, k := range knowledge {
		summaries[i] = fmt.Sprintf("%d. %s", i+1, k.Summary)
	}

	findings := rankedFindings(knowledge)
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = fmt.Sprintf("- %s (Source: %s, Relevance: %d/10)", f.Fact, f.Source, f.RelevanceScore)
	}

	return fmt.Sprintf(`You are a research report writer. Based on the gathered research, write a comprehensive answer to the user's question.

USER'S QUESTION: "%s"

RESEARCH SUMMARIES:
%s

KEY FINDINGS:
%s

INSTRUCTIONS:
1. Write a comprehensive, well-structured response
2. Cite sources where appropriate using markdown links
3. If there are conflicting findings, present both perspectives
4. Be thorough but accessible
5. Use headers and bullet points for readability
6. End with a brief conclusion or summary%s`,
		question, strings.Join(summaries, "\n"), strings.Join(lines, "\n"), languageInstruction(languagePreference))
}
