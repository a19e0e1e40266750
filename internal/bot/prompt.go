package bot

import (
	"strings"

	"relaybot/internal/domain"
)

const defaultPersona = "You are a kind and professional AI assistant."

// systemPreamble is the fixed instruction block sent as the system message.
func (o *Orchestrator) systemPreamble() string {
	persona := o.persona
	if persona == "" {
		persona = defaultPersona
	}
	lines := []string{
		persona,
		"If you don't know the answer, just say that you don't know; don't try to make up an answer.",
	}
	if o.systemExtra != "" {
		lines = append(lines, o.systemExtra)
	}
	lines = append(lines, "Answer the question wrapped in the <question> tag.")
	return strings.Join(lines, "\n")
}

// buildPrompt wraps history, the live question, and any shared-file URLs in
// explicit delimiter tags so the model can distinguish instruction, history,
// and question.
func buildPrompt(entries []domain.ThreadContextEntry, question string, attachments []string) string {
	var lines []string

	if len(entries) > 0 {
		lines = append(lines,
			"If information is provided in <history>, use the conversation record when answering.",
			"<history>")
		for _, e := range entries {
			lines = append(lines, e.Render())
		}
		lines = append(lines, "</history>", "")
	}

	lines = append(lines, "<question>", question, "</question>")

	if len(attachments) > 0 {
		lines = append(lines, "", "The user attached these files to the question:", "<attachments>")
		lines = append(lines, attachments...)
		lines = append(lines, "</attachments>")
	}

	return strings.Join(lines, "\n")
}
