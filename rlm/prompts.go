package rlm

import (
	"fmt"
	"strings"

	"github.com/martinemde/rlm/contextnorm"
	"github.com/martinemde/rlm/replenv"
)

// DefaultQuery is used when a caller supplies context but no question.
const DefaultQuery = "Please read through the context and answer any queries or respond to any instructions contained within it."

// FallbackAnswer is returned when forced finalization produces no text and
// the model never said anything usable.
const FallbackAnswer = "I was unable to produce an answer within the iteration budget."

const subQuerySystemPrompt = "You are a focused reader. Answer the question using only the context fragment provided. " +
	"Be concise and specific. If the fragment does not contain the answer, say so plainly."

// BuildSystemPrompt renders the system prompt for a session: how the REPL
// works, the capabilities it exposes and how to finish.
func BuildSystemPrompt(caps *replenv.CapabilityRegistry, doc contextnorm.Document, hasTools bool) string {
	var sb strings.Builder
	sb.WriteString("You are tasked with answering a query about a context that is too large to read at once. ")
	sb.WriteString("You cannot see the context directly. It is loaded into a REPL environment that you drive by writing code.\n\n")

	sb.WriteString("<context_info>\n")
	sb.WriteString(describeContext(doc))
	sb.WriteString("</context_info>\n\n")

	sb.WriteString("The REPL runs Starlark, a small dialect of Python. Write code in ```repl fenced blocks; ")
	sb.WriteString("every block in your reply is executed in order and you will see its printed output. ")
	sb.WriteString("Variables you assign persist between blocks and between turns. ")
	sb.WriteString("There is no filesystem, network or import statement; use only the functions below.\n\n")

	sb.WriteString("<capabilities>\n")
	sb.WriteString(caps.Describe())
	sb.WriteString("</capabilities>\n\n")

	sb.WriteString("Strategy: look at the shape of the context first (length, a few lines), then search or partition it. ")
	if caps.Get("llm_query") != nil {
		sb.WriteString("Use llm_query on fragments when you need a model to read text for you. ")
	}
	sb.WriteString("Keep intermediate findings in variables. ")
	sb.WriteString("Print only what you need; long output is truncated.\n\n")

	if hasTools {
		sb.WriteString("You also have external tools. Call them through the normal tool-calling interface, not from the REPL. ")
		sb.WriteString("When you call a tool, no code in the same reply is executed; you will see the tool results and can continue.\n\n")
	}

	sb.WriteString("When you know the answer, finish with FINAL(your answer) on a line of its own, outside any code block, ")
	sb.WriteString("or FINAL_VAR(variable_name) to return a REPL variable. Both are also callable from code. ")
	sb.WriteString("Do not give a final answer until you have checked it against the context.")
	return sb.String()
}

func describeContext(doc contextnorm.Document) string {
	switch doc.Kind {
	case contextnorm.KindEmpty:
		return "The context is empty.\n"
	case contextnorm.KindEntries:
		return fmt.Sprintf("The context is a list of %d entries (%d characters when flattened). "+
			"`context` holds the flattened text and `context_entries` the individual entries.\n",
			len(doc.Entries), doc.Len())
	default:
		return fmt.Sprintf("The context is a single text of %d characters, available as `context`.\n", doc.Len())
	}
}

// NextActionPrompt is the transient instruction appended to each request.
// It is not stored in the conversation.
func NextActionPrompt(query string, iteration int) string {
	if iteration == 0 {
		return fmt.Sprintf("You have not explored the context yet. Start by writing REPL code to inspect it; "+
			"do not answer yet.\n\nQuery: %s", query)
	}
	return fmt.Sprintf("Iteration %d. Continue working on the query using the REPL and your findings so far. "+
		"If you are confident, give the answer with FINAL(...).\n\nQuery: %s", iteration+1, query)
}

// ForcedFinalPrompt asks for an answer with no further code.
func ForcedFinalPrompt(query string) string {
	return "You have run out of iterations. Do not write any code and do not call any tools. " +
		"Based on everything you have found so far, give your best final answer to the query now.\n\n" +
		"Query: " + query
}

func subQueryPrompt(fragment, question string) string {
	return "Context fragment:\n" + fragment + "\n\nQuestion: " + question
}
