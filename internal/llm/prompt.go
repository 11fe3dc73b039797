// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"encoding/json"
	"text/template"

	"github.com/pdiddy/kbsync/internal/corpus"
	"github.com/pdiddy/kbsync/pkg/types"
)

const (
	writerSystem = "You turn a single source document into knowledge cards. " +
		"You never add information that is not in the document."

	judgeSystem = "You judge whether a set of knowledge cards covers a source document. " +
		"The original document is the only source of truth."

	writerFormat = `Answer with ONLY a JSON object of this shape, with values filled in:
{"cards": [{"title": "...", "description": "...", "content_md": "...", "key_terms": ["..."], "entities": ["..."]}]}`

	judgeFormat = `Answer with ONLY a JSON object of this shape, with values filled in:
{"ok": true, "missing": [{"what": "...", "evidence": "..."}], "suggested_card_titles": ["..."]}`

	repromptNotice = "The answer above does not match the format. Return ONLY a JSON OBJECT with field VALUES, NOT a JSON Schema."
)

var writerPromptTmpl = template.Must(template.New("writer").Parse(`ROLE: {{.Role}}

Document name (file path): {{.DocumentID}}
The name refers to the current source document and sets the context: which tool, system, or topic the document is about.

You are creating knowledge cards for one document.
IMPORTANT: do NOT add or invent information that is not in the document.
Only extract and structure. Do not compress the meaning: keep every substantive detail.
Do not rewrite the whole document, but keep semantic blocks (sections, lists, instructions) and their internal order.
Card titles and descriptions must name the concrete subject from the document or its file name, not generic wording.
Do NOT repeat the same information in several cards. Every fact, instruction, or list lives in ONE best-fitting card; reference another card by title instead of copying it.
Cover, where present: instructions and procedures, tools and services, models and algorithms, goals, people and contacts, constraints and environments, entities and links.
Never write meta-commentary or quality judgements in a card, such as "requires additional explanation", "needs more detail", or "not enough information". If the document lacks a detail, leave it out.
If the document is an overview of many similar entities, make one overview card with short sub-items instead of one card per entity.
Usually 1-6 cards are enough; make more only if the document really splits into distinct topics. Every card must be self-contained.

Rules:
- cards: 1..20 items.
- title: short card title.
- description: 1-2 sentences, MUST start with "The document contains information about ..." and name the concrete subject.
- content_md: Markdown with facts, instructions, lists. Include ONLY what is in the document.
- key_terms: 5-25 terms.
- entities: people, organizations, products, libraries, services, repositories.
{{if .Guidance}}
Clarifications and gaps reported by the reviewer:
{{.Guidance}}
{{end}}{{if .Existing}}
Current cards (extend them if needed, do not duplicate):
{{.Existing}}
{{end}}
Document:

{{.Text}}
`))

var judgePromptTmpl = template.Must(template.New("judge").Parse(`Document name (file path): {{.DocumentID}}

You have TWO inputs:
- ORIGINAL DOCUMENT: the source text. It is the ONLY source of truth.
- CARDS_JSON: the generated cards to check.

Check whether ALL important knowledge of the ORIGINAL DOCUMENT is present in CARDS_JSON.
Cards are organized by meaning (atomic knowledge) and need not follow the document structure.
Also check that the cards are not over-fragmented: if there are many small cards of one kind, suggest merging them into 1-2 overview cards.

CRITICAL RULE FOR missing:
- You may add an item to missing ONLY if you can quote the ORIGINAL DOCUMENT VERBATIM.
- missing[].evidence must be an exact substring of the ORIGINAL DOCUMENT, not a paraphrase.
- If you cannot quote verbatim, do NOT add the item.
- Never ask for information that is not in the ORIGINAL DOCUMENT.

=== ORIGINAL DOCUMENT (source of truth) ===
{{.Text}}
=== END ORIGINAL DOCUMENT ===

=== CARDS_JSON (to evaluate) ===
{{.Cards}}
=== END CARDS_JSON ===
`))

// cardsJSON renders cards in the same shape the writer returns them.
func cardsJSON(cards []types.KnowledgeCard) (string, error) {
	drafts := make([]cardDraft, 0, len(cards))
	for _, c := range cards {
		drafts = append(drafts, cardDraft{
			Title:       c.Title,
			Description: c.Description,
			ContentMD:   c.Content,
			KeyTerms:    c.KeyTerms,
			Entities:    c.Entities,
		})
	}
	data, err := json.Marshal(struct {
		Cards []cardDraft `json:"cards"`
	}{drafts})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// clip cuts document text to maxChars runes; maxChars <= 0 keeps it whole.
func clip(text string, maxChars int) string {
	return corpus.Truncate(text, maxChars)
}

func renderWriterPrompt(req types.GenerationRequest, maxChars int) (string, error) {
	role := req.Role
	if role == "" {
		role = types.DefaultRole
	}
	var existing string
	if len(req.Existing) > 0 {
		var err error
		if existing, err = cardsJSON(req.Existing); err != nil {
			return "", err
		}
	}
	var buf bytes.Buffer
	err := writerPromptTmpl.Execute(&buf, struct {
		Role, DocumentID, Guidance, Existing, Text string
	}{role, req.DocumentID, req.Guidance, existing, clip(req.Text, maxChars)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderJudgePrompt(req types.ValidationRequest, maxChars int) (string, error) {
	cards, err := cardsJSON(req.Cards)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = judgePromptTmpl.Execute(&buf, struct {
		DocumentID, Text, Cards string
	}{req.DocumentID, clip(req.Text, maxChars), cards})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
