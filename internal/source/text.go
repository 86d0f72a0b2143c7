package source

import "context"

// TextInput is one inline text item.
type TextInput struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// TextSource yields inline text items. A single-element TextSource is the
// "embed and store this one string" case.
type TextSource struct {
	inputs []TextInput
	pos    int
}

// NewTextSource creates a source over the given inputs.
func NewTextSource(inputs ...TextInput) *TextSource {
	return &TextSource{inputs: inputs}
}

func (s *TextSource) Next(ctx context.Context) (*Item, error) {
	if s.pos >= len(s.inputs) {
		return nil, nil
	}
	in := s.inputs[s.pos]
	s.pos++

	meta := map[string]any{"source": "text"}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	return NewItem(in.ID, []byte(in.Text), meta), nil
}
