package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/agent"
	"github.com/tomyimkc/generative-agents/internal/api"
	"github.com/tomyimkc/generative-agents/internal/bridge"
	"github.com/tomyimkc/generative-agents/internal/cognition"
	"github.com/tomyimkc/generative-agents/internal/config"
	"github.com/tomyimkc/generative-agents/internal/embedding"
	"github.com/tomyimkc/generative-agents/internal/gateway"
	"github.com/tomyimkc/generative-agents/internal/maze"
	"github.com/tomyimkc/generative-agents/internal/memory"
	"github.com/tomyimkc/generative-agents/internal/provider"
	"github.com/tomyimkc/generative-agents/internal/run"
	"github.com/tomyimkc/generative-agents/internal/sim"
	"github.com/tomyimkc/generative-agents/internal/store"
	"github.com/tomyimkc/generative-agents/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/reverie.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Server.LogLevel == "debug" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("config loaded", zap.String("path", cfgPath))

	world, err := maze.Load(cfg.Maze.Dataset)
	if err != nil {
		logger.Fatal("load maze", zap.String("dataset", cfg.Maze.Dataset), zap.Error(err))
	}

	// Language model backend.
	provCfg := provider.Config{
		ID:       cfg.Model.Type,
		Type:     cfg.Model.Type,
		Name:     cfg.Model.Name,
		Endpoint: cfg.Model.Endpoint,
		APIKey:   cfg.Model.APIKey,
		Timeout:  cfg.ModelTimeout(),
	}
	var chat provider.Provider
	switch cfg.Model.Type {
	case "openai":
		chat = provider.NewOpenAIProvider(provCfg, logger)
	default:
		chat = provider.NewOllamaProvider(provCfg, logger)
	}
	if err := chat.HealthCheck(context.Background()); err != nil {
		logger.Warn("model backend unreachable at startup", zap.Error(err))
	}

	// Embeddings are optional; without them retrieval runs on recency
	// and importance only.
	var embed embedding.Provider
	if cfg.Embedding.Endpoint != "" {
		embCfg := embedding.Config{
			Provider:  cfg.Embedding.Provider,
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
		}
		if cfg.Embedding.Provider == "ollama" {
			embed = embedding.NewOllamaProvider(embCfg)
		} else {
			embed = embedding.NewAPIProvider(embCfg)
		}
	} else {
		logger.Warn("no embedding endpoint, retrieval relevance disabled")
	}

	// Memory mirrors: Qdrant for vectors, Neo4j for lineage. Both are
	// optional.
	var mirrors memory.MultiMirror
	var qdrant *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("qdrant unavailable, running without vector mirror", zap.Error(qErr))
		} else {
			mm, mErr := vectorstore.NewMemoryMirror(context.Background(), qc, "agent_memories", cfg.Embedding.Dimension)
			if mErr != nil {
				logger.Warn("qdrant collection setup failed", zap.Error(mErr))
				qc.Close()
			} else {
				qdrant = qc
				mirrors = append(mirrors, mm)
			}
		}
	}
	var lineage *memory.LineageGraph
	if cfg.Database.Neo4j.URI != "" {
		lg, lErr := memory.NewLineageGraph(context.Background(),
			cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if lErr != nil {
			logger.Warn("neo4j unavailable, running without lineage mirror", zap.Error(lErr))
		} else {
			lineage = lg
			mirrors = append(mirrors, lg)
		}
	}
	var mirror memory.Mirror
	if len(mirrors) > 0 {
		mirror = mirrors
	}

	// Frame persistence: PostgreSQL when configured, otherwise per-tick
	// JSON files under the run directory.
	var frameLog store.FrameLog
	var pgStore *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("postgres unavailable, falling back to file log", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			frameLog = ps
		}
	}
	if frameLog == nil {
		fl, flErr := store.NewFileLog(cfg.Storage.Root)
		if flErr != nil {
			logger.Fatal("open file log", zap.Error(flErr))
		}
		frameLog = fl
	}

	runs, err := run.NewManager(cfg.Storage.Root)
	if err != nil {
		logger.Fatal("open runs root", zap.Error(err))
	}
	meta, err := runs.Load(cfg.Run.Name)
	if err != nil {
		if cfg.Run.ForkBase != "" {
			meta, err = runs.Fork(cfg.Run.ForkBase, cfg.Run.Name)
			if err != nil {
				logger.Fatal("fork run", zap.String("base", cfg.Run.ForkBase), zap.Error(err))
			}
			logger.Info("forked run",
				zap.String("base", cfg.Run.ForkBase),
				zap.String("run", cfg.Run.Name),
				zap.Int64("step", meta.Step))
		} else {
			meta = run.Meta{
				StartDate:  cfg.SimStartDate(),
				SecPerStep: cfg.Sim.SecPerStep,
				MazeName:   cfg.Maze.Dataset,
			}
		}
	}

	// Cognition pipeline and scheduler.
	pipe := cognition.NewPipeline(chat, embed, world, cognition.Config{
		Model:            cfg.Model.Name,
		Temperature:      cfg.Model.Temperature,
		PerceptionRadius: cfg.Sim.PerceptionRadius,
		RetrievalK:       cfg.Sim.RetrievalK,
		ReflectThreshold: int(cfg.Sim.ReflectThreshold),
	}, logger)
	sched := sim.New(world, pipe, frameLog, sim.Config{
		RunID:         cfg.Run.Name,
		StartDate:     meta.StartDate,
		SecPerStep:    cfg.Sim.SecPerStep,
		PoolSize:      cfg.Sim.ProposalPoolSize,
		EventsPerTick: cfg.Sim.EventsPerTick,
	}, logger)
	if meta.StartDate.IsZero() {
		meta.StartDate = sched.SimTime(0)
	}

	weights := memory.Weights{
		Recency:    cfg.Sim.RecencyWeight,
		Importance: cfg.Sim.ImportanceWeight,
		Relevance:  cfg.Sim.RelevanceWeight,
		Decay:      cfg.Sim.RecencyDecay,
	}
	personas, err := agent.LoadPersonas(cfg.Run.PersonasDir)
	if err != nil {
		logger.Fatal("load personas", zap.String("dir", cfg.Run.PersonasDir), zap.Error(err))
	}
	if len(personas) == 0 {
		logger.Fatal("no personas found", zap.String("dir", cfg.Run.PersonasDir))
	}
	for i, p := range personas {
		mem := memory.NewStream(uuid.New(), weights, mirror, logger)
		spawn, sErr := spawnTile(world, p.SpawnArena)
		if sErr != nil {
			logger.Fatal("place persona", zap.String("persona", p.Name), zap.Error(sErr))
		}
		a := agent.New(p, i, spawn, mem)
		for _, seed := range p.Seed {
			if _, aErr := mem.Append(context.Background(), memory.Node{
				Kind:       memory.KindObservation,
				Content:    seed,
				Importance: 5,
			}); aErr != nil {
				logger.Warn("seed memory", zap.String("persona", p.Name), zap.Error(aErr))
			}
		}
		if err := sched.Register(a); err != nil {
			logger.Fatal("register persona", zap.String("persona", p.Name), zap.Error(err))
		}
		logger.Info("persona placed",
			zap.String("persona", p.Name),
			zap.String("tile", spawn.String()))
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Live-data bridge.
	var state *bridge.StateFile
	var redisSrc *bridge.RedisSource
	if cfg.Bridge.Enabled {
		var sources []bridge.Source
		if cfg.Bridge.StateFile != "" {
			state = bridge.NewStateFile(cfg.Bridge.StateFile, logger)
			sources = append(sources, state)
		}
		if cfg.Bridge.Stream != "" && cfg.Database.Redis.URL != "" {
			rs, rErr := bridge.NewRedisSource(cfg.Database.Redis.URL, cfg.Bridge.Stream, logger)
			if rErr != nil {
				logger.Warn("redis unavailable, running without stream source", zap.Error(rErr))
			} else {
				redisSrc = rs
				sources = append(sources, rs)
			}
		}
		if len(sources) > 0 {
			ingest := bridge.NewIngestor(sources, sched.Inject, logger)
			if state != nil {
				ingest.OnPhaseChange(func(ev bridge.Event) {
					applyPhase(sched, state, ev, logger)
				})
			}
			go ingest.Run(rootCtx, cfg.BridgePollInterval())
			logger.Info("bridge ingestor started", zap.Int("sources", len(sources)))
		}
	}

	// Operator gateway.
	gw := gateway.NewGateway(logger)
	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}
	gateway.NewNotifier(gw, sched, logger)
	if err := gw.ConnectAll(rootCtx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	var bridgeStatus api.BridgeStatus
	if state != nil {
		bridgeStatus = state
	}
	handler := api.NewHandler(sched, frameLog, runs, cfg.Run.Name, embed, bridgeStatus, cfg.StepInterval(), logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}
	go func() {
		logger.Info("listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	if cfg.Run.Ticks > 0 {
		go func() {
			for i := 0; i < cfg.Run.Ticks; i++ {
				if _, err := sched.Step(rootCtx); err != nil {
					logger.Error("tick failed", zap.Int64("tick", sched.Tick()), zap.Error(err))
					return
				}
			}
			logger.Info("tick budget exhausted", zap.Int("ticks", cfg.Run.Ticks))
		}()
	} else if cfg.Run.AutoStart {
		go func() {
			if err := sched.Run(rootCtx, cfg.StepInterval()); err != nil && err != context.Canceled {
				logger.Error("run loop stopped", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()
	cancel()

	// Persist run metadata before closing stores.
	tick := sched.Tick()
	meta.CurrTime = sched.SimTime(tick)
	meta.Step = tick
	meta.SecPerStep = cfg.Sim.SecPerStep
	meta.MazeName = cfg.Maze.Dataset
	meta.PersonaNames = meta.PersonaNames[:0]
	for _, a := range sched.Agents() {
		meta.PersonaNames = append(meta.PersonaNames, a.Persona.Name)
	}
	if err := runs.Save(cfg.Run.Name, meta); err != nil {
		logger.Error("save run", zap.Error(err))
	}

	shutdownCtx := context.Background()
	srv.Shutdown(shutdownCtx)
	gw.Close()
	if redisSrc != nil {
		redisSrc.Close()
	}
	if lineage != nil {
		lineage.Close(shutdownCtx)
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

// spawnTile resolves a persona's spawn arena to a free walkable tile.
// Without an arena (or when the arena is full) the first free tile in
// the grid is used.
func spawnTile(world *maze.Maze, arena string) (maze.Coord, error) {
	view := world.Snapshot()
	if arena != "" {
		for _, c := range world.ArenaTiles(arena) {
			if _, held := view.OccupantOf(c); !held && view.IsWalkable(c) {
				return c, nil
			}
		}
	}
	rows, cols := world.Size()
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			c := maze.Coord{Row: r, Col: col}
			if _, held := view.OccupantOf(c); !held && view.IsWalkable(c) {
				return c, nil
			}
		}
	}
	return maze.Coord{}, fmt.Errorf("no free tile for spawn")
}

// applyPhase overrides the phase persona's current activity while the
// bot feed is live, and restores every persona when it goes offline.
func applyPhase(sched *sim.Scheduler, state *bridge.StateFile, ev bridge.Event, logger *zap.Logger) {
	if !state.Running() {
		for _, a := range sched.Agents() {
			a.SetCurrently("")
		}
		return
	}
	persona, _ := bridge.PhaseTarget(ev.Phase)
	a, ok := sched.AgentByName(persona)
	if !ok {
		logger.Warn("phase persona not registered", zap.String("persona", persona))
		return
	}
	a.SetCurrently(state.Description())
}
