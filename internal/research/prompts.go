package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Prompt templates for every completion the pipeline makes. Each builder
// returns the user prompt; system prompts are separate constants.

const researchSystemPrompt = `You are an expert researcher. Follow these instructions when responding:
- You may be asked to research subjects that are after your knowledge cutoff; assume the user is right when presented with news.
- The user is a highly experienced analyst, no need to simplify; be as detailed as possible and make sure your response is correct.
- Be highly organized.
- Be proactive and anticipate the user's needs.
- Mistakes erode trust, so be accurate and thorough.
- Value good arguments over authorities, the source is irrelevant.
- Consider new technologies and contrarian ideas, not just the conventional wisdom.
- Unless code or proper nouns require otherwise, answer in the same language as the query.`

const extractSystemPrompt = "You are an expert in extracting the most relevant and detailed information from search results."

func currentDate() string { return time.Now().Format("2006-01-02") }

func shouldClarifyPrompt(query, historyContext string) string {
	return fmt.Sprintf(`Decide whether the following query needs clarifying questions.
A good query is unambiguous, specific and carries enough context.
If the query is vague, missing important context, overly broad, or open to multiple interpretations, it needs clarification.

Chat history:
`+fence+`
%s
`+fence+`

The query is: `+fence+`%s`+fence+`

The current date is %s.

Answer only "yes" or "no". If the query is already clear enough, answer "no".`, historyContext, query, currentDate())
}

func followUpQuestionsPrompt(query, historyContext string) string {
	return fmt.Sprintf(`You are an expert researcher and I need your help to generate clarifying questions for a given research query.

Chat history:
`+fence+`
%s
`+fence+`

The query is: `+fence+`%s`+fence+`

Based on this query, please generate clarifying questions that would help you better understand what the user is looking for.
For effective questions:
1. Identify ambiguous terms or concepts that need clarification
2. Ask about the scope or timeframe of interest
3. Check if there are specific aspects the user is most interested in
4. Consider what background information might be helpful
5. Ask about intended use of the information (academic, personal interest, decision-making, etc.)

- Answer in the language of the query.
- The current date is %s.

Format your response as a valid JSON object with the following structure:
{
  "needs_clarification": true/false (boolean indicating if clarification questions are needed),
  "questions": [
    {
      "key": "specific_key_1",
      "question": "The clarifying question text",
      "default": "A reasonable default answer if the user doesn't provide one"
    }
  ]
}

If the query seems clear enough and doesn't require clarification, return "needs_clarification": false with an empty questions array.
For simple factual queries or clear requests, clarification is usually not needed.`, historyContext, query, currentDate())
}

func processClarificationsPrompt(query string, answered []string, unanswered []string, historyContext string) string {
	return fmt.Sprintf(`I'm reviewing a user query with clarification questions and their responses.

Chat history:
`+fence+`
%s
`+fence+`

Original query: `+fence+`%s`+fence+`

Clarification questions and responses:
`+fence+`
%s
`+fence+`

Questions that were not answered:
`+fence+`
%s
`+fence+`

Based on this information, please:
1. Summarize the original query with the additional context provided by the clarifications
2. For questions that were not answered, use reasonable default assumptions and clearly state what you are assuming
3. Identify if this is a simple factual query that doesn't require search
- Answer in the language of the query.
- The current date is %s.

Format your response as a valid JSON object with the following structure:
{
  "refined_query": "The refined and clarified query",
  "assumptions": ["List of assumptions made for unanswered questions"],
  "requires_search": true/false (boolean indicating if this query needs web search or can be answered directly),
  "direct_answer": "If requires_search is false, provide a direct answer here, otherwise empty string"
}`, historyContext, query, strings.Join(answered, "\n"), strings.Join(unanswered, "\n"), currentDate())
}

func processNoClarificationsPrompt(query string, unanswered []string, historyContext string) string {
	return fmt.Sprintf(`I'm reviewing a user query where they chose not to provide any clarifications.

Chat history:
`+fence+`
%s
`+fence+`

Original query: `+fence+`%s`+fence+`

The user was asked the following clarification questions but chose not to answer any:
`+fence+`
%s
`+fence+`

Since the user didn't provide any clarifications, please:
1. Analyze the original query as comprehensively as possible
2. Make reasonable assumptions for all ambiguous aspects
3. Determine if this is a simple factual query that doesn't require search
4. If possible, provide a direct answer along with the refined query
- Answer in the language of the query.
- The current date is %s.

Format your response as a valid JSON object with the following structure:
{
  "refined_query": "The refined query with all possible considerations",
  "assumptions": ["List of all assumptions made"],
  "requires_search": true/false (boolean indicating if this query needs web search or can be answered directly),
  "direct_answer": "If requires_search is false, provide a comprehensive direct answer here, otherwise empty string"
}

Since the user chose not to provide clarifications, be as thorough and comprehensive as possible in your analysis and answer.`, historyContext, query, strings.Join(unanswered, "\n"), currentDate())
}

func researchPlanPrompt(query, historyContext string) string {
	return fmt.Sprintf(`You are an expert researcher creating a flexible research plan for a given query.

Chat history:
`+fence+`
%s
`+fence+`

QUERY: `+fence+`%s`+fence+`

Please analyze this query and create an appropriate research plan. The number of steps should vary based on complexity:
- For simple questions, you might need only 1 step
- For moderately complex questions, 2 steps may be appropriate
- For very complex questions, 3 or more steps may be needed
- Answer in the language of the query.
- The current date is %s.

Consider:
1. The complexity of the query
2. Whether multiple angles of research are needed
3. If the topic requires exploration of causes, effects, comparisons, or historical context
4. If the topic is controversial and needs different perspectives

Format your response as a valid JSON object with the following structure:
{
  "assessments": "Brief assessment of query complexity and reasoning",
  "steps": [
    {
      "step_id": 1,
      "description": "Description of this research step",
      "search_queries": ["search query 1", "search query 2"],
      "goal": "What this step aims to discover"
    }
  ]
}

Make each step logical and focused on a specific aspect of the research. Steps should build on each other,
and search queries should be specific and effective for web search.`, historyContext, query, currentDate())
}

func extractSearchResultsPrompt(query, searchResults string) string {
	return fmt.Sprintf(`User query: `+fence+`%s`+fence+`

Search result (webpage content):
`+fence+`
%s
`+fence+`

- Answer in the language of the query.
- The current date is %s.

As an information extraction expert, extract the passages from the webpage content most relevant to the user query. Requirements:
1. Include concrete details, figures, definitions and key arguments; do not replace detailed content with vague summaries
2. Preserve key facts, numbers, dates and quotations from the source
3. Extract complete relevant passages rather than one-line abstracts
4. Focus especially on content that directly answers the user query
5. If important information appears in tables or lists, keep that structure intact

Output your response in the following JSON format:
{
  "extracted_infos": [
    {
      "info": "Relevant passage with details, figures and definitions",
      "url": "source url",
      "relevance": "How this passage answers the query"
    }
  ]
}`, query, searchResults, currentDate())
}

func researchFromContentPrompt(query, stepInfo, content string, nextQueriesCount int) string {
	return fmt.Sprintf(`You are analyzing research content to extract key learnings and decide what to search next.

Research query: `+fence+`%s`+fence+`

Current research step:
`+fence+`
%s
`+fence+`

Content gathered so far:
`+fence+`
%s
`+fence+`

Please:
1. Extract the most important learnings from the content, each with its source URL when available
2. Propose up to %d follow-up search queries that would fill the remaining gaps for this step
- Answer in the language of the query.
- The current date is %s.

Format your response as a valid JSON object with the following structure:
{
  "learnings": [{"learning": "key fact or insight", "url": "source url"}],
  "nextQueries": ["follow-up query 1", "follow-up query 2"]
}

Only propose follow-up queries that cover aspects not yet answered by the content; return an empty nextQueries array when the step goal is satisfied.`, query, stepInfo, content, nextQueriesCount, currentDate())
}

func researchSummaryPrompt(query, stepsSummary string) string {
	return fmt.Sprintf(`Based on our research, we've explored the query: `+fence+`%s`+fence+`

Research summary by step:
`+fence+`
%s
`+fence+`

Please analyze this information and provide:
1. A set of key findings that answer the main query
2. Identification of any areas where the research is lacking or more information is needed
- Answer in the language of the query.
- The current date is %s.

Format your response as a valid JSON object with:
{
  "findings": [{"finding": "finding 1", "url": "cite url 1"}],
  "gaps": ["gap 1", "gap 2"],
  "recommendations": ["recommendation 1", "recommendation 2"]
}`, query, stepsSummary, currentDate())
}

func finalReportPrompt(query, context, historyContext string) string {
	return fmt.Sprintf(`I've been researching the following query: `+fence+`%s`+fence+`

Please write a comprehensive research report on this topic.
The report should be well-structured with headings, subheadings, and a conclusion.

Requirements:
- Output the answer in markdown format.
- The [context] block is reference material; include citations in the form [cite](url), where url is the actual link.
- Unless code or proper nouns require otherwise, answer in the same language as the query.

Chat history:
`+fence+`
%s
`+fence+`

[context]:
`+fence+`
%s
`+fence+``, query, historyContext, context)
}

func finalAnswerPrompt(query, context, historyContext string) string {
	return fmt.Sprintf(`I've been researching the following query: `+fence+`%s`+fence+`

Answer the query directly, in detail and with expert precision.

Requirements:
- Output the answer in markdown format.
- The [context] block is reference material; include citations in the form [cite](url), where url is the actual link.
- Unless code or proper nouns require otherwise, answer in the same language as the query.

Chat history:
`+fence+`
%s
`+fence+`

[context]:
`+fence+`
%s
`+fence+``, query, historyContext, context)
}

const fence = "```"

// formatClarifications renders question/answer pairs for the prompt.
func formatClarifications(questions []ClarificationQuestion, answers map[string]string) (answered, unanswered []string) {
	for _, q := range questions {
		if a, ok := answers[q.Key]; ok && strings.TrimSpace(a) != "" {
			answered = append(answered, fmt.Sprintf("Q: %s\nA: %s", q.Question, a))
		} else {
			unanswered = append(unanswered, q.Question)
		}
	}
	return answered, unanswered
}

// formatStepInfo renders a plan step for the follow-up prompt.
func formatStepInfo(step PlanStep) string {
	b, err := json.Marshal(step)
	if err != nil {
		return step.Description
	}
	return string(b)
}
