package prompts

import (
	_ "embed"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/knowledge_prompt.txt
var knowledgeSystemPrompt string

// Variables consumed by the knowledge answer template.
const (
	KnowledgeVarDocuments = "Documents"
	KnowledgeVarHistory   = "History"
	KnowledgeVarQuestion  = "Question"
)

// NewKnowledgeTemplate builds the chat template used by the knowledge-base graph.
func NewKnowledgeTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(knowledgeSystemPrompt),
		schema.UserMessage("{{.Question}}"),
	)
}

// KnowledgeVars assembles the template variables for one question.
func KnowledgeVars(businessName, businessType, question, history string, documents []string) map[string]any {
	return map[string]any{
		"BusinessName":        businessName,
		"BusinessType":        businessType,
		KnowledgeVarQuestion:  question,
		KnowledgeVarHistory:   history,
		KnowledgeVarDocuments: documents,
	}
}
