package core

// Prompt templates for the research pipeline. Conversation context is
// injected through fmt verbs; keep the verb order in sync with the callers.

const clarifyPromptTemplate = `You are scoping a research request. Review the conversation below and decide whether you need to ask the user one clarifying question before research can begin.

<conversation>
%s
</conversation>

Today's date is %s.

Ask a clarifying question only when the request is genuinely ambiguous: missing subject, undefined acronyms, or an unclear deliverable. If the scope is clear, do not ask.

Respond with a JSON object:
- "need_clarification": boolean
- "question": the single question to ask the user (empty if none is needed)
- "verification": a short confirmation that research will now begin (empty if a question is needed)`

const briefPromptTemplate = `Translate the conversation below into a single self-contained research brief. The brief must capture the subject, the user's constraints and preferences, and the expected deliverable, so that a researcher who has not seen the conversation can act on it.

<conversation>
%s
</conversation>

Today's date is %s.

Respond with a JSON object with one field "research_brief" containing the brief.`

const supervisorSystemPrompt = `You are a research supervisor. Your job is to break a research brief into focused research topics and delegate them.

Available actions:
- think: reflect on what is known and what is still missing before delegating.
- conduct_research: delegate one focused research topic to a researcher. The topic must be self-contained. You may delegate up to %d topics in parallel per turn.
- research_complete: call this once the gathered findings cover the brief.

Delegate narrowly scoped topics rather than restating the whole brief. Stop as soon as the findings are sufficient; every delegation costs time.`

const supervisorBriefTemplate = `Research brief:

%s

Plan the research and delegate. Today's date is %s.`

const researcherSystemPrompt = `You are a researcher working on the topic below. Use the available tools to gather evidence, then stop.

Topic:
%s

Available tools:
%s
You may also call think to reason between searches, and research_complete when the topic is covered.

Guidelines: start broad, then narrow; prefer primary sources; never repeat a query you have already run. Today's date is %s.`

const compressPromptTemplate = `Synthesize the research transcript above into a structured summary of findings for the topic below. Preserve every concrete fact, figure, and source reference verbatim; remove tool chatter and dead ends. Organize by theme with inline source attribution.

Topic: %s`

const reportPromptTemplate = `Write the final research report.

Research brief:
%s

Conversation with the user:
%s

Findings:
%s

Today's date is %s.

Write a well-structured report in Markdown that answers the brief directly, cites the findings it draws on, and notes open questions. Do not mention the research process itself.`

const thinkAckFormat = "Reflection recorded: %v"

const researchCompleteAck = "Research marked complete."

// compressFailureContent is the fixed fallback when synthesis cannot be
// produced within the retry budget.
const compressFailureContent = "Error synthesizing research report: Maximum retries exceeded"

const reportFailureContent = "Error generating final report: Maximum retries exceeded"

// conductOverflowFormat answers conduct_research calls beyond the
// concurrency ceiling.
const conductOverflowFormat = "Error: Did not run this research as you have already exceeded the maximum number of concurrent research units. Please try again with %d or fewer research units."
