package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scholar/features/research"
	"scholar/internal/domain"
	"scholar/internal/index"
	"scholar/internal/middleware"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]index.Match, error)
}

// TaskReader is the read side of the research service.
type TaskReader interface {
	List(ctx context.Context) ([]domain.ResearchTask, error)
	Status(ctx context.Context, id string) (*research.Status, error)
	Result(ctx context.Context, id string) (*domain.Essay, error)
}

type Handler struct {
	retriever    Retriever
	tasks        TaskReader
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(r Retriever, t TaskReader) *Handler {
	return &Handler{
		retriever: r,
		tasks:     t,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

type TaskArgs struct {
	TaskID string `json:"task_id"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var taskIDSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"task_id": map[string]string{
			"type":        "string",
			"description": "The ID of the research task",
		},
	},
	"required": []string{"task_id"},
}

var tools = []Tool{
	{
		Name: "scholar_search",
		Description: `Corpus search tool. Finds the chunks of ingested papers and web pages closest to a query by embedding similarity. Use it to check what the shared corpus already knows about a subject.

USAGE EXAMPLE:
scholar_search(query="perovskite solar cell efficiency", limit=5)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Max chunks to return (default 10).",
					"minimum":     1,
					"maximum":     maxSearchLimit,
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        "scholar_list_tasks",
		Description: `Lists research tasks with their topic and status, newest first.`,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
	{
		Name:        "scholar_task_status",
		Description: `Reports the workflow state of a research task, its state history and the failure reason if it failed.`,
		InputSchema: taskIDSchema,
	},
	{
		Name:        "scholar_read_essay",
		Description: `Returns the essay of a completed research task with its cited sources.`,
		InputSchema: taskIDSchema,
	},
}

// processRequest returns nil for notifications, which get no response.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "scholar-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			return makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		return h.callTool(ctx, req.ID, params)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	switch params.Name {
	case "scholar_search":
		var args SearchArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
		}
		if strings.TrimSpace(args.Query) == "" {
			return makeErrorResponse(id, ErrInvalidParams, "Query is required")
		}
		limit := defaultSearchLimit
		if args.Limit != nil {
			if *args.Limit < 1 || *args.Limit > maxSearchLimit {
				return makeErrorResponse(id, ErrInvalidParams, fmt.Sprintf("Limit must be between 1 and %d", maxSearchLimit))
			}
			limit = *args.Limit
		}
		return h.search(ctx, id, args.Query, limit)

	case "scholar_list_tasks":
		return h.listTasks(ctx, id)

	case "scholar_task_status", "scholar_read_essay":
		var args TaskArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		}
		if args.TaskID == "" {
			return makeErrorResponse(id, ErrInvalidParams, "task_id is required")
		}
		if params.Name == "scholar_task_status" {
			return h.taskStatus(ctx, id, args.TaskID)
		}
		return h.readEssay(ctx, id, args.TaskID)
	}

	slog.WarnContext(ctx, "tool not found", "tool", params.Name)
	return makeErrorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
}

func (h *Handler) search(ctx context.Context, id interface{}, query string, limit int) *JSONRPCResponse {
	matches, err := h.retriever.Search(ctx, query, limit)
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		return makeErrorResponse(id, ErrInternal, "Search failed: "+err.Error())
	}

	if len(matches) == 0 {
		return textResponse(id, "No results found.")
	}

	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "Result %d (Score: %.2f):\n", i+1, m.Similarity)
		if m.Chunk.Source.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", m.Chunk.Source.Title)
		}
		fmt.Fprintf(&b, "Kind: %s\n", m.Chunk.Source.Kind)
		if m.Chunk.Source.URI != "" {
			fmt.Fprintf(&b, "Source: %s\n", m.Chunk.Source.URI)
		}
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", m.Chunk.Text)
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "scholar_search", "result_count", len(matches))
	return textResponse(id, b.String())
}

func (h *Handler) listTasks(ctx context.Context, id interface{}) *JSONRPCResponse {
	tasks, err := h.tasks.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "list_tasks failed", "error", err)
		return toolError(id, err)
	}
	if len(tasks) == 0 {
		return textResponse(id, "No research tasks found.")
	}

	type simpleTask struct {
		ID     string            `json:"id"`
		Topic  string            `json:"topic"`
		Status domain.TaskStatus `json:"status"`
		State  domain.State      `json:"state"`
	}
	out := make([]simpleTask, len(tasks))
	for i, t := range tasks {
		out[i] = simpleTask{ID: t.ID, Topic: t.Topic, Status: t.Status, State: t.State}
	}
	return jsonResponse(ctx, id, out)
}

func (h *Handler) taskStatus(ctx context.Context, id interface{}, taskID string) *JSONRPCResponse {
	st, err := h.tasks.Status(ctx, taskID)
	if err != nil {
		slog.ErrorContext(ctx, "task_status failed", "task_id", taskID, "error", err)
		return toolError(id, err)
	}
	return jsonResponse(ctx, id, st)
}

func (h *Handler) readEssay(ctx context.Context, id interface{}, taskID string) *JSONRPCResponse {
	e, err := h.tasks.Result(ctx, taskID)
	if err != nil {
		return toolError(id, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", e.Title, e.Content)
	if len(e.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, s := range e.Sources {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.Title, s.URI)
		}
	}
	return textResponse(id, b.String())
}

func textResponse(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func jsonResponse(ctx context.Context, id interface{}, v interface{}) *JSONRPCResponse {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal tool result", "error", err)
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Result: ToolResult{
				Content: []ToolContent{{Type: "text", Text: "Error marshalling results"}},
				IsError: true,
			},
		}
	}
	return textResponse(id, string(data))
}

func toolError(id interface{}, err error) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// HandleSSE opens an event stream and registers a session that
// HandleMessage answers into.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC message for a session, answers 202 and
// delivers the response over the session's event stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(r.Context(), "session not found", "session_id", sessionID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	ctx := context.WithoutCancel(r.Context())
	go func() {
		resp := h.processRequest(ctx, req)
		if resp == nil {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(ctx, sessionID, string(data))
	}()
}

// deliver holds the read lock while sending, so the stream cannot close
// the channel underneath it.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC errors travel in a 200 response.
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(makeErrorResponse(id, code, message)); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code, message, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
