// Package proxy provides a relay in front of the AI coach chat function that
// records conversations in a Merkle DAG.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/repcoach/pkg/chatstream"
	"github.com/papercomputeco/repcoach/pkg/llm"
	"github.com/papercomputeco/repcoach/pkg/merkle"
)

// metrics is published under /debug/vars.
var metrics = expvar.NewMap("relay")

// Proxy is a relay between coach clients and the AI chat function. Every
// reply it relays is also decoded so the finished turn can be stored in a
// content-addressed merkle.Storer.
type Proxy struct {
	config     Config
	storer     merkle.Storer
	logger     *zap.Logger
	httpClient *http.Client
	server     *fiber.App
}

// New creates a new Proxy.
func New(config Config, logger *zap.Logger) (*Proxy, error) {
	var storer merkle.Storer
	var err error

	if config.DBPath != "" {
		storer, err = merkle.NewSQLiteStorer(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", config.DBPath))
	} else {
		storer = merkle.NewMemoryStorer()
		logger.Info("using in-memory storage")
	}

	return NewWithStorer(config, storer, logger), nil
}

// NewWithStorer creates a Proxy backed by storer.
func NewWithStorer(config Config, storer merkle.Storer, logger *zap.Logger) *Proxy {
	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	p := &Proxy{
		config: config,
		storer: storer,
		logger: logger,
		server: app,
		httpClient: &http.Client{
			// Coach replies can be slow when the model plans a whole program
			Timeout: 5 * time.Minute,
		},
	}

	// Register routes
	app.Post("/api/chat", p.handleChat)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	// DAG inspection and sync endpoints
	app.Get("/dag/stats", p.handleDAGStats)
	app.Get("/dag/node/:hash", p.handleGetNode)
	app.Get("/dag/history", p.handleListHistories)
	app.Get("/dag/history/:hash", p.handleGetHistory)
	app.Post("/dag/nodes", p.handlePutNodes)

	// Relay counters
	app.Get("/debug/vars", adaptor.HTTPHandler(expvar.Handler()))

	return p
}

// Run starts the relay server on the configured listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting relay server",
		zap.String("listen", p.config.ListenAddr),
		zap.String("upstream", p.config.UpstreamURL),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener serves on an existing listener.
func (p *Proxy) RunWithListener(ln net.Listener) error {
	p.logger.Info("starting relay server",
		zap.String("listen", ln.Addr().String()),
		zap.String("upstream", p.config.UpstreamURL),
	)

	return p.server.Listener(ln)
}

// Shutdown stops accepting connections and waits for active ones.
func (p *Proxy) Shutdown() error {
	return p.server.Shutdown()
}

// Close shuts down the proxy and releases resources.
func (p *Proxy) Close() error {
	return p.storer.Close()
}

// upstreamError is an unsuccessful status from the chat function.
type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.status, e.body)
}

// handleChat relays a chat request to the chat function and stores the turn.
// Streaming clients receive the upstream bytes verbatim as they arrive.
// Clients that send llm.NoStreamHeader receive one llm.StreamEvent of type
// "message" holding the whole reply. The relay always reads upstream as a
// stream and decodes it either way.
func (p *Proxy) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()
	metrics.Add("chat_requests", 1)

	// Parse the incoming request
	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		p.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "messages cannot be empty"})
	}
	if req.UnitPreference != "" && !req.UnitPreference.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid unit preference"})
	}

	requestID := c.Get(llm.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	streaming := c.Get(llm.NoStreamHeader) == ""

	p.logger.Debug("received chat request",
		zap.String("request_id", requestID),
		zap.Int("message_count", len(req.Messages)),
		zap.Int("image_count", len(req.Images)),
		zap.Bool("stream", streaming),
	)

	// The upstream request outlives this handler when streaming, so it is not
	// bound to the fiber context. A client that disconnects makes the next
	// relayed write fail, which ends the copy.
	resp, err := p.openUpstream(context.Background(), &req, requestID)
	if err != nil {
		metrics.Add("upstream_errors", 1)
		p.logger.Error("upstream request failed", zap.String("request_id", requestID), zap.Error(err))
		var ue *upstreamError
		if errors.As(err, &ue) {
			return c.Status(ue.status).JSON(llm.ErrorResponse{Error: "upstream error"})
		}
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}

	if streaming {
		return p.handleStreamingChat(c, &req, resp, requestID, startTime)
	}
	return p.handleNonStreamingChat(c, &req, resp, requestID, startTime)
}

// handleNonStreamingChat decodes the whole upstream reply before answering.
func (p *Proxy) handleNonStreamingChat(c *fiber.Ctx, req *llm.ChatRequest, resp *http.Response, requestID string, startTime time.Time) error {
	defer resp.Body.Close()

	text, stats, err := relay(nil, resp.Body)
	p.finishTurn(req, text, stats, err, requestID, startTime)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream stream failed"})
	}

	return c.JSON(llm.StreamEvent{Type: chatstream.TypeMessage, Text: text})
}

// handleStreamingChat relays the upstream body chunk by chunk.
func (p *Proxy) handleStreamingChat(c *fiber.Ctx, req *llm.ChatRequest, resp *http.Response, requestID string, startTime time.Time) error {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-ndjson"
	}

	// Set up streaming response headers
	c.Set("Content-Type", contentType)
	c.Set("Cache-Control", "no-cache")
	c.Set("Transfer-Encoding", "chunked")
	c.Set(llm.RequestIDHeader, requestID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer resp.Body.Close()

		text, stats, err := relay(flushWriter{w}, resp.Body)
		p.finishTurn(req, text, stats, err, requestID, startTime)
	}))

	return nil
}

// openUpstream posts req to the chat function. Unsuccessful statuses are
// returned as *upstreamError with the body already closed.
func (p *Proxy) openUpstream(ctx context.Context, req *llm.ChatRequest, requestID string) (*http.Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	p.logger.Debug("forwarding request to upstream",
		zap.String("request_id", requestID),
		zap.String("url", p.config.UpstreamURL),
		zap.Int("body_size", len(reqBody)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.UpstreamURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(llm.RequestIDHeader, requestID)
	if p.config.UpstreamAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.UpstreamAPIKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		httpResp.Body.Close()
		return nil, &upstreamError{status: httpResp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	return httpResp, nil
}

// relay copies body to dst (when set) while decoding it.
func relay(dst io.Writer, body io.Reader) (string, chatstream.Stats, error) {
	d := chatstream.NewDecoder(nil)

	var w io.Writer = d
	if dst != nil {
		w = io.MultiWriter(dst, d)
	}

	_, err := io.Copy(w, body)
	_ = d.Close()

	return d.Text(), d.Stats(), err
}

// flushWriter pushes every relayed chunk to the client immediately.
type flushWriter struct {
	w *bufio.Writer
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}

// finishTurn logs and counts a relayed reply and stores it. A failed stream
// that produced text is stored as partial.
func (p *Proxy) finishTurn(req *llm.ChatRequest, text string, stats chatstream.Stats, streamErr error, requestID string, startTime time.Time) {
	metrics.Add("events", int64(stats.Events))
	metrics.Add("literal_lines", int64(stats.Literals))
	metrics.Add("ignored_lines", int64(stats.Ignored))

	if streamErr != nil {
		metrics.Add("streams_failed", 1)
		p.logger.Error("error relaying stream",
			zap.String("request_id", requestID),
			zap.Int("partial_len", len(text)),
			zap.Error(streamErr),
		)
		if text == "" {
			return
		}
	} else {
		metrics.Add("streams_completed", 1)
		p.logger.Debug("streaming complete",
			zap.String("request_id", requestID),
			zap.Int("chunks", stats.Chunks),
			zap.Int("events", stats.Events),
			zap.String("reply_preview", truncate(text, 200)),
			zap.Duration("duration", time.Since(startTime)),
		)
	}

	turn := &llm.ConversationTurn{
		Request: req,
		Reply:   llm.Message{Role: llm.RoleAssistant, Content: text},
		Partial: streamErr != nil,
	}

	// Store in DAG - content-addressability handles deduplication automatically
	headHash, err := merkle.StoreTurn(context.Background(), p.storer, turn)
	if err != nil {
		p.logger.Error("failed to store conversation", zap.Error(err))
		return
	}
	metrics.Add("turns_stored", 1)
	p.logger.Info("conversation stored",
		zap.String("request_id", requestID),
		zap.String("head_hash", truncate(headHash, 16)),
	)
}

// pushResponse reports the outcome of a bulk node import.
type pushResponse struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Errors    int `json:"errors"`
}

// handlePutNodes imports nodes pushed from another store. Nodes whose hash
// does not match their content are counted as errors and skipped.
func (p *Proxy) handlePutNodes(c *fiber.Ctx) error {
	var nodes []*merkle.Node
	if err := json.Unmarshal(c.Body(), &nodes); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid node list"})
	}

	ctx := c.Context()
	var result pushResponse
	for _, node := range nodes {
		if !merkle.VerifyHash(node) {
			p.logger.Warn("rejected node with mismatched hash")
			result.Errors++
			continue
		}

		isNew, err := p.storer.Put(ctx, node)
		if err != nil {
			p.logger.Error("failed to store pushed node", zap.String("hash", node.Hash), zap.Error(err))
			result.Errors++
			continue
		}
		if isNew {
			result.New++
		} else {
			result.Duplicate++
		}
	}

	p.logger.Info("nodes pushed",
		zap.Int("new", result.New),
		zap.Int("duplicate", result.Duplicate),
		zap.Int("errors", result.Errors),
	)

	return c.JSON(result)
}

// handleDAGStats returns statistics about the DAG.
func (p *Proxy) handleDAGStats(c *fiber.Ctx) error {
	ctx := c.Context()

	nodes, err := p.storer.List(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list nodes"})
	}

	roots, err := p.storer.Roots(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get roots"})
	}

	leaves, err := p.storer.Leaves(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get leaves"})
	}

	stats := map[string]any{
		"total_nodes": len(nodes),
		"root_count":  len(roots),
		"leaf_count":  len(leaves),
	}

	return c.JSON(stats)
}

// handleGetNode returns a single node by its hash.
func (p *Proxy) handleGetNode(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "hash parameter required"})
	}

	node, err := p.storer.Get(c.Context(), hash)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "node not found"})
	}

	return c.JSON(node)
}

// HistoryResponse contains the conversation history for a given node.
type HistoryResponse struct {
	// Messages in chronological order (oldest first, up to and including the requested node)
	Messages []HistoryMessage `json:"messages"`
	// HeadHash is the hash of the node that was requested
	HeadHash string `json:"head_hash"`
	// Depth is the number of messages in the history
	Depth int `json:"depth"`
}

// HistoryMessage represents a message in the conversation history.
type HistoryMessage struct {
	Hash           string  `json:"hash"`
	ParentHash     *string `json:"parent_hash,omitempty"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	UserID         string  `json:"user_id,omitempty"`
	UnitPreference string  `json:"unit_preference,omitempty"`
	ImageCount     int     `json:"image_count,omitempty"`
	Partial        bool    `json:"partial,omitempty"`
}

// handleListHistories returns all conversation histories (one per leaf node).
func (p *Proxy) handleListHistories(c *fiber.Ctx) error {
	ctx := c.Context()

	// Get all leaf nodes (end points of conversations)
	leaves, err := p.storer.Leaves(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get leaves"})
	}

	histories := make([]HistoryResponse, 0, len(leaves))
	for _, leaf := range leaves {
		history, err := p.buildHistory(ctx, leaf.Hash)
		if err != nil {
			p.logger.Warn("failed to build history for leaf", zap.String("hash", leaf.Hash), zap.Error(err))
			continue
		}
		histories = append(histories, *history)
	}

	return c.JSON(map[string]any{
		"count":     len(histories),
		"histories": histories,
	})
}

// handleGetHistory returns the full conversation history leading up to a given node.
func (p *Proxy) handleGetHistory(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "hash parameter required"})
	}

	history, err := p.buildHistory(c.Context(), hash)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "node not found"})
	}

	return c.JSON(history)
}

// buildHistory constructs a HistoryResponse for the given node hash.
func (p *Proxy) buildHistory(ctx context.Context, hash string) (*HistoryResponse, error) {
	path, err := p.storer.Descendants(ctx, hash)
	if err != nil {
		return nil, err
	}

	messages := make([]HistoryMessage, len(path))
	for i, node := range path {
		messages[i] = HistoryMessage{
			Hash:           node.Hash,
			ParentHash:     node.ParentHash,
			Role:           node.Content.Role,
			Content:        node.Content.Content,
			UserID:         node.Content.UserID,
			UnitPreference: node.Content.UnitPreference,
			ImageCount:     node.Content.ImageCount,
			Partial:        node.Content.Partial,
		}
	}

	return &HistoryResponse{
		Messages: messages,
		HeadHash: hash,
		Depth:    len(messages),
	}, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	// Cut on a rune boundary.
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
