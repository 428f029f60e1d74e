// Package vision extracts book details from cover photographs using the
// OpenAI vision API.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/image/draw"

	"github.com/mhollis/bookstore/pkg/logger"

	_ "image/png" // register decoder for uploaded PNG covers
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"

	// analysisMaxDim bounds the longest image edge before upload to keep
	// token usage down.
	analysisMaxDim = 1024
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("vision: not configured")
	// ErrRateLimited is returned on upstream 429 responses.
	ErrRateLimited = errors.New("vision: rate limited")
)

// CoverDetails are the fields the model could read off the cover. Empty
// values mean the field was not determinable.
type CoverDetails struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Description   string `json:"description"`
	PublishedYear int    `json:"published_year,omitempty"`
}

// Analyzer calls the chat completions API with an inline image.
type Analyzer struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	log      *logger.Logger
}

// NewAnalyzer builds an analyzer. An empty apiKey yields ErrNotConfigured
// from Analyze.
func NewAnalyzer(apiKey, model string) *Analyzer {
	return &Analyzer{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      logger.NewDefault("vision"),
	}
}

// WithEndpoint overrides the API endpoint, for tests.
func (a *Analyzer) WithEndpoint(url string) *Analyzer {
	a.endpoint = url
	return a
}

const coverPrompt = `Analyze this book cover image and provide the following information:

1. Title: The main title of the book
2. Author: The author's name
3. Description: A one-sentence blurb or description of what the book is about
4. Published Year: The publication year

Return ONLY a JSON object with these exact keys:
- title (string, empty if not known)
- author (string, empty if not known)
- description (string, empty if not known)
- published_year (string, empty if not known)

If any field cannot be determined, use an empty string as the value.
Do not include markdown formatting, just the raw JSON.`

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Analyze sends the cover image for analysis and returns the extracted
// details.
func (a *Analyzer) Analyze(ctx context.Context, imageData []byte) (CoverDetails, error) {
	if a.apiKey == "" {
		return CoverDetails{}, ErrNotConfigured
	}

	resized := a.resizeForAnalysis(imageData)
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)

	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: coverPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		MaxCompletionTokens: 500,
	})
	if err != nil {
		return CoverDetails{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return CoverDetails{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return CoverDetails{}, fmt.Errorf("call vision api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CoverDetails{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return CoverDetails{}, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return CoverDetails{}, fmt.Errorf("vision api status %d: %s", resp.StatusCode, gjson.GetBytes(respBody, "error.message").String())
	}

	content := gjson.GetBytes(respBody, "choices.0.message.content").String()
	details, err := parseDetails(content)
	if err != nil {
		a.log.WithError(err).WithField("content", content).Error("unparseable model response")
		return CoverDetails{}, err
	}

	a.log.WithField("title", details.Title).WithField("author", details.Author).
		Info("cover analyzed")
	return details, nil
}

// parseDetails reads the model's JSON answer, tolerating a markdown code
// fence the prompt asked it not to emit.
func parseDetails(content string) (CoverDetails, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	parsed := gjson.Parse(content)
	if !parsed.IsObject() {
		return CoverDetails{}, fmt.Errorf("vision: response is not a JSON object")
	}

	details := CoverDetails{
		Title:       parsed.Get("title").String(),
		Author:      parsed.Get("author").String(),
		Description: parsed.Get("description").String(),
	}
	if year := strings.TrimSpace(parsed.Get("published_year").String()); year != "" {
		if n, err := strconv.Atoi(year); err == nil {
			details.PublishedYear = n
		}
	}
	return details, nil
}

// resizeForAnalysis downsizes large uploads before shipping them to the API.
// On any decode failure the original bytes are sent as-is.
func (a *Analyzer) resizeForAnalysis(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= analysisMaxDim && h <= analysisMaxDim {
		return data
	}

	ratio := float64(analysisMaxDim) / float64(w)
	if h > w {
		ratio = float64(analysisMaxDim) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*ratio), int(float64(h)*ratio)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return data
	}
	return buf.Bytes()
}
