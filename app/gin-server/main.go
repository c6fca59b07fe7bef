package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/yoockh/yooprep/config"
	"github.com/yoockh/yooprep/internal/activity"
	"github.com/yoockh/yooprep/internal/agents"
	"github.com/yoockh/yooprep/internal/api/handlers"
	"github.com/yoockh/yooprep/internal/api/middleware"
	"github.com/yoockh/yooprep/internal/api/routes"
	"github.com/yoockh/yooprep/internal/cache"
	"github.com/yoockh/yooprep/internal/coach"
	"github.com/yoockh/yooprep/internal/logger"
	"github.com/yoockh/yooprep/internal/providers/llm"
	"github.com/yoockh/yooprep/internal/providers/search"
	"github.com/yoockh/yooprep/internal/providers/stt"
	"github.com/yoockh/yooprep/internal/providers/tts"
	"github.com/yoockh/yooprep/internal/ratelimit"
	"github.com/yoockh/yooprep/internal/registry"
	pgrepo "github.com/yoockh/yooprep/internal/repositories/postgres"
	"github.com/yoockh/yooprep/internal/resume"
	"github.com/yoockh/yooprep/internal/speech"
	"github.com/yoockh/yooprep/internal/storage"
	"github.com/yoockh/yooprep/internal/store"
	"github.com/yoockh/yooprep/internal/transcribe"
	"github.com/yoockh/yooprep/internal/workers"
)

func main() {
	_ = godotenv.Load()

	l := logger.New()
	settings := config.LoadSettings()
	ctx := context.Background()

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	fmt.Println("MongoDB connected")

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	fmt.Println("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	fmt.Println("Redis connected")

	// External providers
	llmProvider, err := llm.NewVertexGemini(ctx,
		os.Getenv("GOOGLE_PROJECT_ID"),
		os.Getenv("GOOGLE_LOCATION"),
		os.Getenv("GEMINI_MODEL"))
	if err != nil {
		log.Fatalf("Vertex init error: %v", err)
	}
	defer llmProvider.Close()

	sttProvider, err := stt.NewGoogleSpeech(ctx)
	if err != nil {
		log.Fatalf("Speech init error: %v", err)
	}
	defer sttProvider.Close()

	var ttsProvider tts.Provider
	if gt, err := tts.NewGoogleTTS(ctx); err != nil {
		l.WithError(err).Warn("TTS unavailable; synthesis endpoints disabled")
	} else {
		ttsProvider = gt
		defer gt.Close()
	}

	var searcher search.Provider
	if sp, err := search.NewSerper(os.Getenv("SERPER_API_KEY")); err != nil {
		l.WithError(err).Warn("search unavailable; resource recommendations will use fallbacks")
	} else {
		searcher = sp
	}

	var uploader storage.Uploader
	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		gu, err := storage.NewGCSUploader(ctx, bucket)
		if err != nil {
			l.WithError(err).Warn("GCS unavailable; resume originals will not be archived")
		} else {
			uploader = gu
			defer gu.Close()
		}
	}

	// Rate-limit fabric: process-wide provider caps
	fabric := ratelimit.New(map[string]int{
		ratelimit.ProviderBatchTranscription: settings.CapBatchTranscription,
		ratelimit.ProviderSynthesis:          settings.CapSynthesis,
		ratelimit.ProviderStreaming:          settings.CapStreaming,
		ratelimit.ProviderLLM:                settings.CapLLM,
		ratelimit.ProviderSearch:             settings.CapSearch,
	}, settings.AcquireTimeout, l)

	// Persistence
	redisCache := cache.NewRedisCache(config.RedisClient)
	sessionStore := store.NewMongoStore(config.MongoClient.Database(config.MongoDBName()), redisCache, l)
	saver := store.NewSaver(sessionStore, l)
	taskRepo := pgrepo.NewSpeechTaskRepo(config.PostgresDB)
	resumeRepo := pgrepo.NewResumeFileRepo(config.PostgresDB)
	archiveRepo := pgrepo.NewArchiveRepo(config.PostgresDB)

	// Session substrate
	clock := activity.NewClock(settings.IdleBudget)
	runtimeFactory := func(sessionID string) *agents.Runtime {
		return agents.NewRuntime(llmProvider, searcher, fabric, logger.ForSession(l, sessionID))
	}

	pipeline := coach.NewPipeline(runtimeFactory, settings.PerTurnGradingBudget, settings.FinalSummaryBudget, l)
	reg := registry.New(sessionStore, saver, clock, pipeline, runtimeFactory, l)
	reg.SetArchiver(archiveRepo)
	pipeline.Bind(reg)

	sweeper := registry.NewSweeper(reg, clock, settings.IdleSweepInterval, settings.WarningThreshold, l)
	sweeper.Start(ctx)

	// Speech plane
	speechSvc := speech.NewService(taskRepo, config.RedisClient, redisCache, ttsProvider, fabric, l)
	coordinator := transcribe.NewCoordinator(fabric, sttProvider, taskRepo, 0, l)

	pool := &workers.TranscriptionWorkerPool{
		Redis:  config.RedisClient,
		Tasks:  taskRepo,
		STT:    sttProvider,
		Fabric: fabric,
		Logger: l,
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("worker pool error: %v", err)
	}

	// HTTP surface
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(l))

	routes.RegisterRoutes(r, routes.Deps{
		Interview: handlers.NewInterviewHandler(reg),
		Speech:    handlers.NewSpeechHandler(speechSvc, fabric),
		Resume:    handlers.NewResumeHandler(resume.NewTextExtractor(), resumeRepo, uploader),
		WS:        handlers.NewWSHandler(coordinator, speechSvc, fabric, l),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
