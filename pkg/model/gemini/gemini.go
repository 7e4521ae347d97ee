// Package gemini implements the model provider on the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/zysoong/open-codex-gui/pkg/model"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// GenerateStream sends the conversation context to the model and
// returns a chunk stream.
func (p *Provider) GenerateStream(ctx context.Context, modelName string, messages []model.Message, tools []model.ToolSpec) (model.Stream, error) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
			continue
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		if msg.FunctionCall != nil {
			var args map[string]any
			json.Unmarshal([]byte(msg.FunctionCall.Arguments), &args)
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: msg.FunctionCall.Name,
					Args: args,
				},
			})
		}
		if msg.ImageDataURI != "" {
			if blob := dataURIToBlob(msg.ImageDataURI); blob != nil {
				parts = append(parts, &genai.Part{InlineData: blob})
			}
		}
		if len(parts) == 0 {
			continue
		}

		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
	}
	if len(tools) > 0 {
		config.Tools = toolDeclarations(tools)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	seq := p.client.Models.GenerateContentStream(streamCtx, modelName, contents, config)
	next, stop := iter.Pull2(seq)

	return &geminiStream{
		next:   next,
		stop:   stop,
		cancel: cancel,
	}, nil
}

// toolDeclarations converts tool specs into genai function schemas.
func toolDeclarations(tools []model.ToolSpec) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Parameters))
		var required []string
		for _, p := range t.Parameters {
			props[p.Name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func dataURIToBlob(uri string) *genai.Blob {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil
	}
	mimeType, b64, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	return &genai.Blob{MIMEType: mimeType, Data: data}
}

// geminiStream adapts the SDK's push iterator to the pull-based chunk
// stream. Each SDK response may contain several parts; leftover parts
// are buffered until the next Next call.
type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc

	pending   []model.Chunk
	callIndex int
}

func (s *geminiStream) Next() (model.Chunk, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}

		resp, err, ok := s.next()
		if !ok {
			return model.Chunk{}, io.EOF
		}
		if err != nil {
			return model.Chunk{}, err
		}
		if resp == nil {
			continue
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					s.pending = append(s.pending, model.Chunk{Text: part.Text})
				}
				if part.FunctionCall != nil {
					args, _ := json.Marshal(part.FunctionCall.Args)
					s.pending = append(s.pending, model.Chunk{Call: &model.CallDelta{
						Index: s.callIndex,
						Name:  part.FunctionCall.Name,
						Args:  string(args),
					}})
					s.callIndex++
				}
			}
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	s.cancel()
	return nil
}
