package embed

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// gemini embeds text through the Google GenAI API.
//
// gemini-embedding-001 outputs 3072 dimensions by default but supports
// truncation via OutputDimensionality (Matryoshka Representation
// Learning); we request the dimensionality fixed in knownModels so the
// stored vectors stay comparable.
type gemini struct {
	client  *genai.Client
	model   string
	dim     int
	timeout time.Duration
}

func newGemini(ctx context.Context, model string, dim int, timeout time.Duration) (*gemini, error) {
	// Reads GEMINI_API_KEY from the environment.
	client, err := genai.NewClient(ctx, &genai.ClientConfig{})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &gemini{client: client, model: model, dim: dim, timeout: timeout}, nil
}

func (g *gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	outDim := int32(g.dim) // #nosec G115 -- dims come from knownModels, all < 2^31
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &outDim,
	})
	if err != nil {
		return nil, normalizeErr(err)
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: nil embedding at index %d", ErrInvalidResponse, i)
		}
		vecs[i] = e.Values
	}
	if err := checkVectors(vecs, len(texts), g.dim); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (g *gemini) Dimension() int  { return g.dim }
func (g *gemini) ModelID() string { return g.model }
