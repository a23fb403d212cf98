package knowledge

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// vocabEmbedder maps text onto a tiny fixed vocabulary so similarities are predictable.
type vocabEmbedder struct {
	vocab []string
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: []string{"servicios", "horario", "precio", "ia"}}
}

func (e *vocabEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, t := range texts {
		vec := make([]float64, len(e.vocab)+1)
		hit := false
		for _, tok := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= 'á' && r <= 'ú' || r == 'ñ')
		}) {
			for i, w := range e.vocab {
				if tok == w {
					vec[i]++
					hit = true
				}
			}
		}
		if !hit {
			vec[len(e.vocab)] = 1
		}
		out = append(out, vec)
	}
	return out, nil
}

type fakeChatModel struct {
	mu     sync.Mutex
	inputs [][]*schema.Message
	reply  string
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *fakeChatModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}
