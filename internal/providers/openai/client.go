package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	goopenai "github.com/sashabaranov/go-openai"

	"lapnote/internal/domain"
)

// Config controls the OpenAI-compatible endpoints.
type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	PolishModel        string
}

// Client implements both ports.Transcriber and ports.Polisher.
type Client struct {
	cfg Config
	api *goopenai.Client
}

func NewClient(cfg Config) *Client {
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "gpt-4o-transcribe"
	}
	if cfg.PolishModel == "" {
		cfg.PolishModel = "gpt-4o-mini"
	}
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{cfg: cfg, api: goopenai.NewClientWithConfig(apiCfg)}
}

// Transcribe uploads one segment. The transcription endpoint reports no
// token usage.
func (c *Client) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (domain.ServiceResponse, error) {
	if err := c.ready(); err != nil {
		return domain.ServiceResponse{}, err
	}
	if len(req.Audio) == 0 {
		return domain.ServiceResponse{}, errors.New("no audio to transcribe")
	}

	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		Reader:   bytes.NewReader(req.Audio),
		FilePath: "segment" + extensionFor(req.ContentType, req.Audio),
		Prompt:   req.Instructions,
		Format:   goopenai.AudioResponseFormatJSON,
	})
	if err != nil {
		return domain.ServiceResponse{}, fmt.Errorf("transcription request failed: %w", err)
	}
	return domain.ServiceResponse{Text: resp.Text}, nil
}

// Polish issues a single chat completion.
func (c *Client) Polish(ctx context.Context, req domain.PolishRequest) (domain.ServiceResponse, error) {
	if err := c.ready(); err != nil {
		return domain.ServiceResponse{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.cfg.PolishModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return domain.ServiceResponse{}, fmt.Errorf("polishing request failed: %w", err)
	}

	out := domain.ServiceResponse{Usage: usageOf(resp.Usage)}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}

func (c *Client) ready() error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("OPENAI_API_KEY is not configured")
	}
	return nil
}

func usageOf(u goopenai.Usage) *domain.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &domain.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
}

// extensionFor picks the upload file name extension, which the endpoint uses
// to identify the container.
func extensionFor(contentType string, data []byte) string {
	if contentType != "" {
		if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
			return mt.Extension()
		}
	}
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".wav"
}
