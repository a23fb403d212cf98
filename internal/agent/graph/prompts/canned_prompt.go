package prompts

import (
	"context"
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

//go:embed template/canned/*.txt
var cannedFS embed.FS

// Canned reply names. Each maps to template/canned/<name>.txt.
const (
	CannedHello              = "hello"
	CannedFarewell           = "farewell"
	CannedPricing            = "pricing"
	CannedServices           = "services"
	CannedScheduling         = "scheduling"
	CannedServiceUnavailable = "service_unavailable"
	CannedFallback           = "fallback"
	CannedAudioUnreadable    = "audio_unreadable"
	CannedUnsupported        = "unsupported"
	CannedValidationError    = "validation_error"
	CannedGenericError       = "generic_error"
)

// CannedForTopic returns the canned reply name for topics that never need the knowledge base.
func CannedForTopic(t model.Topic) (string, bool) {
	switch t {
	case model.TopicHello:
		return CannedHello, true
	case model.TopicFarewell:
		return CannedFarewell, true
	case model.TopicPricing:
		return CannedPricing, true
	case model.TopicServices:
		return CannedServices, true
	case model.TopicScheduling:
		return CannedScheduling, true
	case model.TopicAudioUnreadable:
		return CannedAudioUnreadable, true
	case model.TopicUnsupported:
		return CannedUnsupported, true
	}
	return "", false
}

// CannedReplies renders the fixed Spanish replies through the eino prompt component
// so that prompt callbacks fire for them like for any other template.
type CannedReplies struct {
	cfg       model.PromptConfig
	templates map[string]prompt.ChatTemplate
}

// NewCannedReplies loads every embedded canned template.
func NewCannedReplies(cfg model.PromptConfig) (*CannedReplies, error) {
	entries, err := cannedFS.ReadDir("template/canned")
	if err != nil {
		return nil, fmt.Errorf("read canned templates: %w", err)
	}

	templates := make(map[string]prompt.ChatTemplate, len(entries))
	for _, e := range entries {
		raw, err := cannedFS.ReadFile(path.Join("template/canned", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read canned template %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		templates[name] = prompt.FromMessages(
			schema.GoTemplate,
			schema.AssistantMessage(strings.TrimSpace(string(raw)), nil),
		)
	}
	return &CannedReplies{cfg: cfg, templates: templates}, nil
}

// Render formats the named reply. extra values override the business defaults.
func (c *CannedReplies) Render(ctx context.Context, name string, extra map[string]any) (string, error) {
	tpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown canned reply %q", name)
	}

	vars := map[string]any{
		"BusinessName": c.cfg.BusinessName,
		"BusinessType": c.cfg.BusinessType,
		"Topic":        "",
		"Detail":       "",
	}
	for k, v := range extra {
		vars[k] = v
	}

	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("canned reply %s: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("canned reply %s: empty result", name)
	}
	return msgs[0].Content, nil
}

// Names lists the loaded reply names.
func (c *CannedReplies) Names() []string {
	out := make([]string, 0, len(c.templates))
	for name := range c.templates {
		out = append(out, name)
	}
	return out
}
