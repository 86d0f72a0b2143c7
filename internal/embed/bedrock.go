// Package embed turns item content into embedding vectors via an external
// model service.
package embed

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Embedding is one item's vector plus the model contract it was produced
// under. ModelDimension is the model's declared output length (0 if unknown)
// so callers can validate against an index without another round-trip.
type Embedding struct {
	Vector         []float32
	ModelID        string
	ModelDimension int
}

// Embedder converts content into an embedding with one call to the model
// service. Failures are *Error values carrying a Kind.
type Embedder interface {
	Embed(ctx context.Context, content []byte) (Embedding, error)
}

// InvokeAPI is the slice of the Bedrock runtime client the adapter needs.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Declared output dimensions for known embedding models.
var modelDimensions = map[string]int{
	"amazon.titan-embed-text-v1":   1536,
	"amazon.titan-embed-text-v2:0": 1024,
	"amazon.titan-embed-image-v1":  1024,
	"cohere.embed-english-v3":      1024,
	"cohere.embed-multilingual-v3": 1024,
}

// Bedrock embeds content through a Bedrock embedding model.
type Bedrock struct {
	client    InvokeAPI
	modelID   string
	dimension int
}

// NewBedrock creates an adapter for modelID. The model's declared dimension
// is looked up from a built-in table; unknown models get dimension 0 and are
// validated by actual vector length only.
func NewBedrock(client InvokeAPI, modelID string) *Bedrock {
	return &Bedrock{
		client:    client,
		modelID:   modelID,
		dimension: modelDimensions[modelID],
	}
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding []float32 `json:"embedding"`
}

type cohereRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (b *Bedrock) Embed(ctx context.Context, content []byte) (Embedding, error) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return Embedding{}, newError(InvalidInput, "empty content")
	}

	var (
		body []byte
		err  error
	)
	if strings.HasPrefix(b.modelID, "cohere.") {
		body, err = json.Marshal(cohereRequest{Texts: []string{text}, InputType: "search_document"})
	} else {
		body, err = json.Marshal(titanRequest{InputText: text})
	}
	if err != nil {
		return Embedding{}, newError(InvalidInput, "marshaling request: %v", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Embedding{}, Classify(err)
	}

	vec, err := b.parseResponse(out.Body)
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: vec, ModelID: b.modelID, ModelDimension: b.dimension}, nil
}

func (b *Bedrock) parseResponse(body []byte) ([]float32, error) {
	if strings.HasPrefix(b.modelID, "cohere.") {
		var resp cohereResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, newError(ServiceUnavailable, "parsing %s response: %v", b.modelID, err)
		}
		if len(resp.Embeddings) == 0 {
			return nil, newError(ServiceUnavailable, "%s returned no embeddings", b.modelID)
		}
		return resp.Embeddings[0], nil
	}

	var resp titanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(ServiceUnavailable, "parsing %s response: %v", b.modelID, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, newError(ServiceUnavailable, "%s returned an empty embedding", b.modelID)
	}
	return resp.Embedding, nil
}
