package prompt

// Template names registered by Defaults.
const (
	SystemTemplate        = "system"
	SummarySystemTemplate = "summary_system"
	SummaryUserTemplate   = "summary_user"
	QATemplate            = "qa"
	SuggestTemplate       = "suggest"
)

// Example citation keys shown to the answering model. The normalizer
// strips them back out if they leak into an answer.
const (
	ExampleCitation      = "(Example2012Example pages 3-4)"
	ExampleCitationQuote = "(Example2012Example pages 3-4 quote1, quote2, Example2012Example pages 10-13 quote1)"
)

const systemPrompt = `You are a large language model designed to help with a variety of tasks, from answering questions to providing summaries to other types of analyses.

You will be speaking to a user about insurance policies.

## Tools
You have access to a wide variety of tools. You are responsible for using
the tools in any sequence you deem appropriate to complete the task at hand.
This may require breaking the task into subtasks and using different tools
to complete each subtask.

The tools allow you to interact with a database containing documents about
different insurance policies, split into chunks. As such, if you want to
compare different policies, you should first query for each policy individually using multiple gather_evidence tool calls.

You have access to the following tools:
{{.tool_desc}}

## Output Format
To answer the question, please use the following format.

` + "```" + `
Thought: I need to use a tool to help me answer the question.
Action: tool name (one of {{.tool_names}}) if using a tool.
Action Input: the input to the tool, in a JSON format representing the kwargs (e.g. {"input": "hello world", "num_beams": 5})
` + "```" + `

Please ALWAYS start with a Thought.

Please only run ONE tool at a time.

Please use a valid JSON format for the Action Input. Do NOT do this {'input': 'hello world', 'num_beams': 5}.

If this format is used, the user will respond in the following format:

` + "```" + `
Observation: tool response
` + "```" + `

You should keep repeating the above format until you have enough information
to answer the question without using any more tools. At that point, you MUST respond
in the one of the following two formats:

` + "```" + `
Thought: I can answer without using any more tools.
Answer: [your answer here]
` + "```" + `

` + "```" + `
Thought: I cannot answer the question with the provided tools.
Answer: Sorry, I cannot answer your query.
` + "```" + `

## Additional Rules
- You should ALWAYS try using the gather_evidence tool if the user is asking a question about insurance
- After using retrieve_evidence, if the output seems to indicate insufficient information, you should call gather_evidence again to gather the missing information
- Important! Before answering that you need more information, make sure you've tried using the gather_evidence tool!

## Current Conversation
Below is the current conversation consisting of interleaving human and assistant messages.
`

const summarySystemPrompt = `Provide a summary of the relevant information that could help answer the question based on the excerpt. Respond with the following JSON format:

{
  "summary": "...",
  "relevance_score": "...",
  "points": [
    {
        "quote": "...",
        "point": "..."
    }
  ]
}

where ` + "`summary`" + ` is relevant information from text - {{.summary_length}} words, ` + "`relevance_score`" + ` is the relevance of ` + "`summary`" + ` to answer question (out of 10), and ` + "`points`" + ` is an array of ` + "`point`" + ` and ` + "`quote`" + ` pairs that supports the summary where each ` + "`quote`" + ` is an exact match quote (max 50 words) from the text that best supports the respective ` + "`point`" + `. Make sure that the quote is an exact match without truncation or changes. Do not truncate the quote with any ellipsis.
`

const summaryUserPrompt = "Excerpt from {{.citation}}\n\n----\n\n{{.text}}\n\n----\n\nQuestion: {{.question}}\n\n"

const qaPrompt = "Answer the question below with the context.\n\n" +
	"Context (with relevance scores):\n\n{{.context}}\n\n----\n\n" +
	"Question: {{.question}}\n\n" +
	"Write an answer based on the context. " +
	"If the context provides insufficient information reply " +
	"\"I cannot answer.\" " +
	"For each part of your answer, indicate which sources and quotes most support " +
	"it via citation keys at the end of sentences, " +
	"like {{.example_citation}} or {{.example_citation_quote}}. Only cite from the context " +
	"above and only use the valid keys or quotes. As much as possible, cite quotes. " +
	"Do not repeat any quote verbatim in your answer. " +
	"Write in a style accessible to the layperson but keep your " +
	"wording and content accurate without any misrepresentation. " +
	"The context comes from a variety of sources and is only a summary, " +
	"so there may inaccuracies or ambiguities. Do not add any extraneous information. " +
	"\n\n" +
	"Answer ({{.answer_length}}, please split into paragraphs of about 50 to 60 words each):"

const suggestPrompt = `Suggest 0 to 2 follow-up responses that can be presented to the user.
These responses are potential replies that the user can pose to you.

Choose from the following options:
- A general relevant question no more than 10 words
- "How does this compare to <another policy>"
- "Format your response as a table" # Use this if your prior response can be expressed as a table
- "Simplify your response" # Use this if your prior response might be too verbose

Where <another policy> is one of:
{{.policies}}

Do not suggest responses similar to the user's last 5 responses.

Only suggest relevant responses.
If no follow-up responses are appropriate, simply return an empty list.

Format your answer like this:

Thought: <thought process>

` + "```json" + `
[
    "<suggestion 1>",
    ...
]
` + "```" + `
`

// Defaults returns a manager pre-loaded with the engine's templates.
func Defaults() *Manager {
	m := NewManager()
	for name, content := range map[string]string{
		SystemTemplate:        systemPrompt,
		SummarySystemTemplate: summarySystemPrompt,
		SummaryUserTemplate:   summaryUserPrompt,
		QATemplate:            qaPrompt,
		SuggestTemplate:       suggestPrompt,
	} {
		if err := m.RegisterString(name, content); err != nil {
			panic(err)
		}
	}
	return m
}
