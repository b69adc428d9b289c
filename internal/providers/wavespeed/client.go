// Package wavespeed wraps the Wavespeed InfiniteTalk lip-sync prediction API.
package wavespeed

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ugcserver/internal/infra"
	"ugcserver/internal/providers/transport"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("wavespeed: api key is required")

// DefaultRequestTimeout bounds one HTTP attempt when no client is supplied.
const DefaultRequestTimeout = 60 * time.Second

const (
	predictionsPath = "/v1/predictions"
	infiniteTalk    = "/Infinitetalk"
	defaultFPS      = 25
)

// Status is the lifecycle state of a prediction.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the prediction will not change any more.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Options configures the Wavespeed client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	SubmitPolicy   *transport.Policy
	PollPolicy     *transport.Policy
}

// Client talks to the Wavespeed REST API.
type Client struct {
	apiKey       string
	baseURL      string
	caller       *transport.Caller
	submitPolicy transport.Policy
	pollPolicy   transport.Policy
	logger       *infra.Logger
}

// PredictionRequest is the input of CreatePrediction.
type PredictionRequest struct {
	AudioURL string
	ImageURL string
	FPS      int
}

// Prediction is the provider's view of an asynchronous lip-sync job.
type Prediction struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Output struct {
		VideoURL string  `json:"video_url"`
		Duration float64 `json:"duration"`
	} `json:"output"`
	Error string `json:"error"`
}

type createPayload struct {
	AudioURL string `json:"audio_url"`
	ImageURL string `json:"image_url"`
	FPS      int    `json:"fps"`
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
		baseURL = "https://api.wavespeed.ai"
	}
	submit := transport.DefaultPolicy
	if opts.SubmitPolicy != nil {
		submit = *opts.SubmitPolicy
	}
	poll := transport.PollPolicy
	if opts.PollPolicy != nil {
		poll = *opts.PollPolicy
	}
	logger := infra.LoggerOrDiscard(opts.Logger)
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		caller:       transport.NewCaller("wavespeed", httpClient, logger),
		submitPolicy: submit,
		pollPolicy:   poll,
		logger:       logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreatePrediction submits an audio+image pair for lip-sync rendering.
func (c *Client) CreatePrediction(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if req.AudioURL == "" || req.ImageURL == "" {
		return nil, errors.New("wavespeed: audio and image urls are required")
	}
	fps := req.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	var out Prediction
	err := c.caller.DoJSON(ctx, c.submitPolicy, transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + predictionsPath + infiniteTalk,
		Header: c.authHeader(),
		Body:   createPayload{AudioURL: req.AudioURL, ImageURL: req.ImageURL, FPS: fps},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("wavespeed: prediction response missing id")
	}
	c.logger.Debug().Str("prediction_id", out.ID).Str("status", string(out.Status)).Msg("wavespeed: prediction created")
	return &out, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("wavespeed: prediction id is required")
	}
	var out Prediction
	err := c.caller.DoJSON(ctx, c.pollPolicy, transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + predictionsPath + "/" + url.PathEscape(id),
		Header: c.authHeader(),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return &out, nil
}

func (c *Client) authHeader() http.Header {
	return http.Header{"Authorization": []string{"Bearer " + c.apiKey}}
}
