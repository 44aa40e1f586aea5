package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// WorkerAdder spawns a greeter worker for a newly registered agent.
// Satisfied by bot.Pool.
type WorkerAdder interface {
	Add(sc domain.SubjectChat) error
}

// AgentHandler serves the agent registry: subject-to-chat bindings together
// with the bot credential moderating each chat.
type AgentHandler struct {
	subjects domain.SubjectChatStore
	workers  WorkerAdder
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewAgentHandler creates an AgentHandler. workers and bus may be nil when
// the bot pool or the live event feed is not running in this process.
func NewAgentHandler(subjects domain.SubjectChatStore, workers WorkerAdder, bus domain.EventBus, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		subjects: subjects,
		workers:  workers,
		bus:      bus,
		logger:   logger,
	}
}

// agentSummary is the public view of one agent. The bot token never leaves
// the server.
type agentSummary struct {
	AgentName      string    `json:"agent_name"`
	SubjectAddress string    `json:"subject_address"`
	ChainID        string    `json:"chain_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func summarize(sc domain.SubjectChat) agentSummary {
	return agentSummary{
		AgentName:      sc.AgentName,
		SubjectAddress: sc.SubjectAddress,
		ChainID:        sc.ChainID,
		CreatedAt:      sc.CreatedAt,
	}
}

// createAgentRequest registers one agent and its gated chat.
type createAgentRequest struct {
	AgentName      string `json:"agent_name"`
	SubjectAddress string `json:"subject_address"`
	ChainID        string `json:"chain_id"`
	BotToken       string `json:"bot_token"`
	ChatGroupID    string `json:"chat_group_id"`
	InviteURL      string `json:"invite_url"`
	Bio            string `json:"bio"`
}

// CreateAgent registers an agent and starts its greeter worker.
// POST /api/agents
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch {
	case req.AgentName == "":
		writeError(w, http.StatusBadRequest, "agent_name is required")
		return
	case req.SubjectAddress == "":
		writeError(w, http.StatusBadRequest, "subject_address is required")
		return
	case req.ChainID == "":
		writeError(w, http.StatusBadRequest, "chain_id is required")
		return
	case req.BotToken == "":
		writeError(w, http.StatusBadRequest, "bot_token is required")
		return
	case req.ChatGroupID == "":
		writeError(w, http.StatusBadRequest, "chat_group_id is required")
		return
	}

	sc := domain.SubjectChat{
		AgentName:      req.AgentName,
		SubjectAddress: domain.NormalizeAddress(req.SubjectAddress),
		ChainID:        req.ChainID,
		BotToken:       req.BotToken,
		ChatGroupID:    req.ChatGroupID,
		InviteURL:      req.InviteURL,
		Bio:            req.Bio,
	}
	if err := h.subjects.Create(r.Context(), sc); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "agent name or subject already registered")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create agent failed",
			slog.String("agent", req.AgentName),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	// The registration is durable even when the worker cannot start here; a
	// restart of the pool picks the chat up from the store.
	if h.workers != nil {
		if err := h.workers.Add(sc); err != nil {
			h.logger.WarnContext(r.Context(), "handler: greeter worker not started",
				slog.String("agent", sc.AgentName),
				slog.String("error", err.Error()),
			)
		}
	}

	domain.PublishBusEvent(r.Context(), h.bus, domain.BusEvent{
		Type: domain.BusEventAgentRegistered,
		Data: map[string]any{
			"agent": sc.AgentName,
			"chain": sc.ChainID,
		},
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"agent":   summarize(sc),
	})
}

// agentListResponse wraps the list endpoint output with pagination metadata.
type agentListResponse struct {
	Agents   []agentSummary `json:"agents"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// ListAgents returns registered agents, newest first.
// GET /api/agents?page=1&page_size=50
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	page, opts := parsePageOpts(r)

	chats, err := h.subjects.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list agents failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	total, err := h.subjects.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count agents failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count agents")
		return
	}

	agents := make([]agentSummary, 0, len(chats))
	for _, sc := range chats {
		agents = append(agents, summarize(sc))
	}
	writeJSON(w, http.StatusOK, agentListResponse{
		Agents:   agents,
		Total:    total,
		Page:     page,
		PageSize: opts.Limit,
	})
}

// GetAgent returns one agent's public summary.
// GET /api/agents/{name}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing agent name")
		return
	}

	sc, err := h.subjects.GetByAgentName(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get agent failed",
			slog.String("agent", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	writeJSON(w, http.StatusOK, summarize(sc))
}

// agentDetail extends the summary with the join link and bio.
type agentDetail struct {
	agentSummary
	InviteURL string `json:"invite_url"`
	Bio       string `json:"bio,omitempty"`
}

// GetAgentDetail returns the agent's full public profile.
// GET /api/agents/{name}/detail
func (h *AgentHandler) GetAgentDetail(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing agent name")
		return
	}

	sc, err := h.subjects.GetByAgentName(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get agent detail failed",
			slog.String("agent", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	writeJSON(w, http.StatusOK, agentDetail{
		agentSummary: summarize(sc),
		InviteURL:    sc.InviteURL,
		Bio:          sc.Bio,
	})
}
