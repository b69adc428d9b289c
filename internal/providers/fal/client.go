// Package fal wraps the fal.ai endpoints used by the pipeline: text-to-speech
// and the nano-banana image edit model.
package fal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ugcserver/internal/infra"
	"ugcserver/internal/providers/transport"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("fal: api key is required")

// DefaultRequestTimeout bounds one HTTP attempt when no client is supplied.
const DefaultRequestTimeout = 120 * time.Second

const (
	ttsPath       = "/v1/pipelines/fal-ai/tts"
	imageEditPath = "/fal-ai/nano-banana/edit"
)

// Options configures the fal client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Policy         *transport.Policy
}

// Client performs calls against fal.ai.
type Client struct {
	apiKey  string
	baseURL string
	caller  *transport.Caller
	policy  transport.Policy
	logger  *infra.Logger
}

// SpeechRequest is the input of SynthesizeSpeech.
type SpeechRequest struct {
	Text    string
	VoiceID string
}

// Speech is the synthesized audio returned by the provider.
type Speech struct {
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration"`
}

// ImageEditRequest is the input of EditImage.
type ImageEditRequest struct {
	ImageURL string
	Prompt   string
}

// EditedImage is the first image produced by an edit.
type EditedImage struct {
	URL string `json:"url"`
}

type ttsPayload struct {
	Input ttsInput `json:"input"`
}

type ttsInput struct {
	Text       string `json:"text"`
	VoiceID    string `json:"voice_id"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

type imageEditPayload struct {
	ImageURLs []string `json:"image_urls"`
	Prompt    string   `json:"prompt"`
}

type imageEditResponse struct {
	Images []EditedImage `json:"images"`
}

// NewClient constructs a client with defaults for missing options.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://fal.run"
	}
	policy := transport.DefaultPolicy
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	logger := infra.LoggerOrDiscard(opts.Logger)
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		caller:  transport.NewCaller("fal", httpClient, logger),
		policy:  policy,
		logger:  logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// SynthesizeSpeech renders text with the given voice as 44.1kHz mp3.
func (c *Client) SynthesizeSpeech(ctx context.Context, req SpeechRequest) (*Speech, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("fal: text is required")
	}
	payload := ttsPayload{Input: ttsInput{
		Text:       text,
		VoiceID:    req.VoiceID,
		Format:     "mp3",
		SampleRate: 44100,
	}}
	var out Speech
	if err := c.caller.DoJSON(ctx, c.policy, c.request(ttsPath, payload), &out); err != nil {
		return nil, err
	}
	if out.AudioURL == "" {
		return nil, errors.New("fal: tts response missing audio_url")
	}
	c.logger.Debug().
		Str("voice_id", req.VoiceID).
		Float64("duration", out.DurationSeconds).
		Msg("fal: synthesized speech")
	return &out, nil
}

// EditImage applies prompt to the image and returns the first output.
func (c *Client) EditImage(ctx context.Context, req ImageEditRequest) (*EditedImage, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, errors.New("fal: image url is required")
	}
	payload := imageEditPayload{
		ImageURLs: []string{req.ImageURL},
		Prompt:    req.Prompt,
	}
	var out imageEditResponse
	if err := c.caller.DoJSON(ctx, c.policy, c.request(imageEditPath, payload), &out); err != nil {
		return nil, err
	}
	for _, img := range out.Images {
		if strings.TrimSpace(img.URL) != "" {
			return &img, nil
		}
	}
	return nil, fmt.Errorf("fal: image edit returned no images")
}

func (c *Client) request(path string, body any) transport.Request {
	return transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + path,
		Header: http.Header{"Authorization": []string{"Key " + c.apiKey}},
		Body:   body,
	}
}
