package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/agent"
	"github.com/tomyimkc/generative-agents/internal/cognition"
	"github.com/tomyimkc/generative-agents/internal/embedding"
	"github.com/tomyimkc/generative-agents/internal/memory"
	"github.com/tomyimkc/generative-agents/internal/run"
	"github.com/tomyimkc/generative-agents/internal/sim"
	"github.com/tomyimkc/generative-agents/internal/store"
)

// BridgeStatus reports the live-data feed's phase. Implemented by the
// bridge's state file source; nil when no bridge is configured.
type BridgeStatus interface {
	Phase() string
	Running() bool
	Description() string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sched    *sim.Scheduler
	frames   store.FrameLog
	runs     *run.Manager
	runName  string
	embed    embedding.Provider
	bridge   BridgeStatus
	interval time.Duration
	logger   *zap.Logger
}

// NewHandler creates a new API handler. frames, runs, embed and bridge
// may each be nil; the routes that need them answer 503.
func NewHandler(
	sched *sim.Scheduler,
	frames store.FrameLog,
	runs *run.Manager,
	runName string,
	embed embedding.Provider,
	bridge BridgeStatus,
	interval time.Duration,
	logger *zap.Logger,
) *Handler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Handler{
		sched:    sched,
		frames:   frames,
		runs:     runs,
		runName:  runName,
		embed:    embed,
		bridge:   bridge,
		interval: interval,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.status)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{name}", h.getAgent)
		r.Get("/agents/{name}/memory", h.agentMemory)

		r.Post("/whisper", h.whisper)
		r.Post("/announce", h.announce)

		r.Get("/frames/{tick}", h.getFrame)
		r.Get("/frames", h.frameRange)

		r.Post("/run/start", h.startRun)
		r.Post("/run/stop", h.stopRun)
		r.Post("/run/step", h.stepRun)
		r.Post("/run/save", h.saveRun)
		r.Post("/run/fork", h.forkRun)
		r.Get("/runs", h.listRuns)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	tick := h.sched.Tick()
	agents := h.sched.Agents()
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Persona.Name)
	}
	resp := map[string]interface{}{
		"run":      h.runName,
		"tick":     tick,
		"sim_time": h.sched.SimTime(tick).Format(time.RFC3339),
		"running":  h.sched.Running(),
		"agents":   names,
	}
	if h.bridge != nil {
		resp["bridge"] = map[string]interface{}{
			"phase":       h.bridge.Phase(),
			"running":     h.bridge.Running(),
			"description": h.bridge.Description(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type agentView struct {
	Name      string `json:"name"`
	Position  string `json:"position"`
	Age       int    `json:"age"`
	Currently string `json:"currently"`
	LastSaid  string `json:"last_said,omitempty"`
	Goal      string `json:"goal,omitempty"`
	Step      string `json:"step,omitempty"`
	Memories  int    `json:"memories"`
}

func viewOf(a *agent.Agent) agentView {
	v := agentView{
		Name:      a.Persona.Name,
		Position:  a.Pos().String(),
		Age:       a.Persona.Age,
		Currently: a.Currently(),
		LastSaid:  a.LastSaid(),
		Memories:  a.Memory.Len(),
	}
	if plan := a.Plan(); plan != nil {
		v.Goal = plan.Goal
		if step, ok := plan.Current(); ok {
			v.Step = step.Description
		}
	}
	return v
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.sched.Agents()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, viewOf(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := h.sched.AgentByName(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

// agentMemory returns the agent's most recent memories, or a scored
// retrieval when ?q= is set.
func (h *Handler) agentMemory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := h.sched.AgentByName(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	n := 20
	if s := r.URL.Query().Get("n"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			n = v
		}
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, a.Memory.Recent(n))
		return
	}

	query := memory.Query{Text: q, Tick: h.sched.Tick()}
	if h.embed != nil {
		vecs, err := h.embed.Embed(r.Context(), []string{q})
		if err != nil {
			h.logger.Warn("query embedding failed", zap.Error(err))
		} else if len(vecs) == 1 {
			query.Embedding = vecs[0]
		}
	}
	writeJSON(w, http.StatusOK, a.Memory.Retrieve(query, n))
}

type whisperRequest struct {
	Persona string `json:"persona"`
	Text    string `json:"text"`
}

// whisper queues a private message for one agent; it lands in the
// agent's perception at the next tick.
func (h *Handler) whisper(w http.ResponseWriter, r *http.Request) {
	var req whisperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Persona == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "persona and text are required"})
		return
	}
	if _, ok := h.sched.AgentByName(req.Persona); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	h.sched.Inject(cognition.ExternalEvent{
		Source:  "api",
		Type:    "whisper",
		Persona: req.Persona,
		Text:    req.Text,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type announceRequest struct {
	Text string `json:"text"`
}

func (h *Handler) announce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	h.sched.Inject(cognition.ExternalEvent{
		Source: "api",
		Type:   "announcement",
		Text:   req.Text,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) getFrame(w http.ResponseWriter, r *http.Request) {
	if h.frames == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "frame log not configured"})
		return
	}
	tick, err := strconv.ParseInt(chi.URLParam(r, "tick"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tick must be an integer"})
		return
	}
	frame, err := h.frames.Frame(r.Context(), h.runName, tick)
	if err != nil {
		if errors.Is(err, store.ErrFrameNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "frame not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (h *Handler) frameRange(w http.ResponseWriter, r *http.Request) {
	if h.frames == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "frame log not configured"})
		return
	}
	from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be an integer"})
		return
	}
	to, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be an integer"})
		return
	}
	frames, err := h.frames.Range(r.Context(), h.runName, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	if h.sched.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already running"})
		return
	}
	go func() {
		if err := h.sched.Run(context.Background(), h.interval); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Error("run loop stopped", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (h *Handler) stopRun(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) stepRun(w http.ResponseWriter, r *http.Request) {
	if h.sched.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "stop the run loop before stepping"})
		return
	}
	frame, err := h.sched.Step(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (h *Handler) saveRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run manager not configured"})
		return
	}
	meta, err := h.runs.Load(h.runName)
	if err != nil && !errors.Is(err, run.ErrRunNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	tick := h.sched.Tick()
	meta.CurrTime = h.sched.SimTime(tick)
	meta.Step = tick
	if meta.PersonaNames == nil {
		for _, a := range h.sched.Agents() {
			meta.PersonaNames = append(meta.PersonaNames, a.Persona.Name)
		}
	}
	if err := h.runs.Save(h.runName, meta); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type forkRequest struct {
	Base string `json:"base"`
	Name string `json:"name"`
}

func (h *Handler) forkRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run manager not configured"})
		return
	}
	var req forkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Base == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "base and name are required"})
		return
	}
	meta, err := h.runs.Fork(req.Base, req.Name)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, run.ErrRunNotFound):
			status = http.StatusNotFound
		case errors.Is(err, run.ErrRunExists):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run manager not configured"})
		return
	}
	names, err := h.runs.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
