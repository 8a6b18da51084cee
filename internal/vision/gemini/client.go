// Package gemini implements the vision.Client contract on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"chart-backend/internal/vision"
)

const extractSystemPrompt = `あなたは医療カルテの読み取りエンジンです。スキャンされたカルテ画像から
指定された項目の記載内容をそのまま転記してください。解釈・正規化・要約は行わず、
読み取れた文字列を忠実に返します。判読できない項目は空文字列にしてください。
出力は必ず次の形式のJSON配列のみ: [{"item_name": "...", "raw_text": "..."}]`

const interpretSystemPrompt = `あなたは医療記録の正規化エンジンです。カルテから転記された生テキストを、
臨床記録として自然な表現に正規化してください。略語は展開し、明らかな転記ゆれは
整えますが、情報の追加や削除は行いません。
出力は必ず次の形式のJSON配列のみ: [{"item_name": "...", "interpreted_text": "..."}]`

// Client calls the Gemini API for both pipeline stages.
type Client struct {
	model  string
	client *genai.Client
}

// New constructs a Gemini-backed vision client.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(apiKey)))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{model: strings.TrimSpace(model), client: cl}, nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.client.Close()
}

// ExtractFields transcribes the requested fields from the chart image.
func (c *Client) ExtractFields(ctx context.Context, image vision.Image, fieldNames []string) ([]vision.RawField, error) {
	m := c.generativeModel(extractSystemPrompt)

	prompt := "カルテ画像から読み取れる全ての項目を転記してください。"
	if len(fieldNames) > 0 {
		prompt = fmt.Sprintf("次の項目をカルテ画像から転記してください: %s", strings.Join(fieldNames, "、"))
	}

	mime := image.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	parts := []genai.Part{
		genai.Text(prompt),
		&genai.Blob{MIMEType: mime, Data: image.Data},
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini extract: %w", err)
	}

	var out []vision.RawField
	if err := decodeJSONResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("gemini extract: %w", err)
	}
	return out, nil
}

// Interpret normalizes raw transcriptions into clinical wording.
func (c *Client) Interpret(ctx context.Context, fields []vision.RawField) ([]vision.InterpretedField, error) {
	m := c.generativeModel(interpretSystemPrompt)

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("gemini interpret: encode input: %w", err)
	}
	prompt := fmt.Sprintf("次の転記済み項目を正規化してください:\n%s", payload)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini interpret: %w", err)
	}

	var out []vision.InterpretedField
	if err := decodeJSONResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("gemini interpret: %w", err)
	}
	return out, nil
}

func (c *Client) generativeModel(systemPrompt string) *genai.GenerativeModel {
	m := c.client.GenerativeModel(c.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	return m
}

func decodeJSONResponse(resp *genai.GenerateContentResponse, out any) error {
	txt := firstText(resp)
	if txt == "" {
		return vision.ErrEmptyResponse
	}
	txt = stripCodeFences(txt)
	if err := json.Unmarshal([]byte(txt), out); err != nil {
		return fmt.Errorf("%w: %v", vision.ErrMalformedResponse, err)
	}
	return nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }

var _ vision.Client = (*Client)(nil)
