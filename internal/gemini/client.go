// Package gemini adapts the Gemini API to analysis.AIService.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"google.golang.org/genai"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

// ErrNoAPIKey is returned by New when no key is configured.
var ErrNoAPIKey = errors.New("gemini: no API key configured")

type Config struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	BaseURL     string  `toml:"base_url"`
}

func DefaultConfig() Config {
	return Config{Model: "gemini-2.5-flash", Temperature: 0.4}
}

var _ analysis.AIService = (*Client)(nil)

type Client struct {
	genai       *genai.Client
	model       string
	temperature float32
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{genai: gc, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// UploadFile streams r through the SDK's resumable upload.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, meta analysis.FileMeta) (*analysis.RemoteFile, error) {
	f, err := c.genai.Files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    meta.MIMEType,
		DisplayName: meta.DisplayName,
	})
	if err != nil {
		return nil, classify(ctx, "upload", err)
	}
	return toRemote(f), nil
}

func (c *Client) GetFile(ctx context.Context, name string) (*analysis.RemoteFile, error) {
	f, err := c.genai.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, classify(ctx, "get file", err)
	}
	return toRemote(f), nil
}

func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if _, err := c.genai.Files.Delete(ctx, name, nil); err != nil {
		return classify(ctx, "delete file", err)
	}
	return nil
}

func (c *Client) Generate(ctx context.Context, file *analysis.RemoteFile) (*analysis.Generation, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(userPrompt),
		}, genai.RoleUser),
	}
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	})
	if err != nil {
		return nil, classify(ctx, "generate", err)
	}

	gen := &analysis.Generation{Text: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		gen.Usage = models.TokenUsage{
			PromptTokens:     int64(u.PromptTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
		}
	}
	return gen, nil
}

func toRemote(f *genai.File) *analysis.RemoteFile {
	rf := &analysis.RemoteFile{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}
	switch f.State {
	case genai.FileStateProcessing:
		rf.State = analysis.FileStateProcessing
	case genai.FileStateActive:
		rf.State = analysis.FileStateActive
	case genai.FileStateFailed:
		rf.State = analysis.FileStateFailed
	}
	return rf
}

// classify maps credential rejections and refused connections to
// analysis.ErrUnauthorized. Caller cancellation passes through untouched.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gemini: %s: %w", op, err)
	}
	if code := apiErrorCode(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("gemini: %s: %w: %w", op, analysis.ErrUnauthorized, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && !ue.Timeout() {
		return fmt.Errorf("gemini: %s: %w: %w", op, analysis.ErrUnauthorized, err)
	}
	return fmt.Errorf("gemini: %s: %w", op, err)
}

func apiErrorCode(err error) int {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code
	}
	return 0
}
