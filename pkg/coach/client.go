// Package coach talks to the AI coach chat function: it builds chat requests,
// streams replies through the chat stream decoder and keeps the conversation
// state a UI needs.
package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/repcoach/pkg/chatstream"
	"github.com/papercomputeco/repcoach/pkg/llm"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4 * 1024

// Config is the client configuration.
type Config struct {
	// Endpoint is the chat function URL.
	Endpoint string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// UserID and UnitPreference are sent with every request.
	UserID         string
	UnitPreference llm.UnitPreference

	// DisableStreaming asks the endpoint for one complete body.
	DisableStreaming bool

	// Timeout bounds a whole request including the streamed body. Zero means none.
	Timeout time.Duration
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("chat endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Image is an attachment sent with a user message.
type Image struct {
	MediaType string
	Data      []byte
}

// DataURL returns the image as a base64 data URL.
func (i Image) DataURL() string {
	mediaType := i.MediaType
	if mediaType == "" {
		mediaType = llm.ContentTypeOf(i.Data)
	}
	return llm.ImageDataURL(mediaType, i.Data)
}

// Client is a client for the AI coach chat function.
type Client struct {
	config     Config
	logger     *zap.Logger
	httpClient *http.Client
}

// NewClient creates a new Client.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, errors.New("chat endpoint cannot be empty")
	}
	if config.UnitPreference == "" {
		config.UnitPreference = llm.UnitsMetric
	}
	if !config.UnitPreference.Valid() {
		return nil, fmt.Errorf("unknown unit preference %q", config.UnitPreference)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Chat sends messages (oldest first) with optional images and decodes the
// reply, calling onUpdate with the growing text. The returned text is the
// full reply, or whatever arrived before an error.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, images []Image, onUpdate chatstream.UpdateFunc) (string, error) {
	startTime := time.Now()

	req := llm.ChatRequest{
		Messages:       messages,
		UserID:         c.config.UserID,
		UnitPreference: c.config.UnitPreference,
	}
	for _, img := range images {
		req.Images = append(req.Images, img.DataURL())
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, text/event-stream, text/plain")
	httpReq.Header.Set(llm.RequestIDHeader, requestID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if c.config.DisableStreaming {
		httpReq.Header.Set(llm.NoStreamHeader, "1")
	}

	c.logger.Debug("sending chat request",
		zap.String("request_id", requestID),
		zap.String("url", c.config.Endpoint),
		zap.Int("message_count", len(messages)),
		zap.Int("image_count", len(images)),
		zap.Bool("stream", !c.config.DisableStreaming),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	text, err := chatstream.Decode(ctx, resp.Body, onUpdate)
	if err != nil {
		c.logger.Debug("chat stream failed",
			zap.String("request_id", requestID),
			zap.Int("partial_len", len(text)),
			zap.Error(err),
		)
		return text, err
	}

	c.logger.Debug("chat stream complete",
		zap.String("request_id", requestID),
		zap.Int("reply_len", len(text)),
		zap.Duration("duration", time.Since(startTime)),
	)

	return text, nil
}
