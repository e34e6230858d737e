package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"plant-backend/internal/analyses"
	"plant-backend/internal/analysis"
	"plant-backend/internal/contextdb"
	"plant-backend/internal/imaging"
	"plant-backend/internal/queue"
	"plant-backend/internal/services/health"
	"plant-backend/internal/shared/config"
	"plant-backend/internal/shared/server"
	"plant-backend/internal/shared/storage/db"
	"plant-backend/internal/shared/storage/object"
	localstore "plant-backend/internal/shared/storage/object/local"
	s3store "plant-backend/internal/shared/storage/object/s3"
	"plant-backend/internal/vision"
)

// App holds shared dependencies wired once at process start.
type App struct {
	Config            config.Config
	Router            *gin.Engine
	DB                *sql.DB
	Store             object.ObjectStore
	Queue             queue.Client
	ContextStore      *contextdb.Client
	Vision            vision.Client
	AnalysesRepo      analyses.Repo
	AnalysesService   *analyses.Service
	AnalysisProcessor AnalysisProcessor
	AnalysisHandler   *analyses.Handler
	ContextHandler    *contextdb.Handler
	Health            *health.Service
}

// AnalysisProcessor allows callers to override analysis processing for tests.
type AnalysisProcessor interface {
	ProcessAnalysis(ctx context.Context, analysisID string) error
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:       cfg,
		Router:       nil,
		DB:           sqlDB,
		Store:        store,
		Queue:        queueClient,
		ContextStore: buildContextStore(cfg),
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		AnalysisHandler: app.AnalysisHandler,
		ContextHandler:  app.ContextHandler,
		Health:          app.Health,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context) (queue.Client, error) {
	if strings.TrimSpace(os.Getenv("SQS_QUEUE_URL")) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func buildContextStore(cfg config.Config) *contextdb.Client {
	if strings.TrimSpace(cfg.ChromaURL) == "" {
		log.Printf("bootstrap: CHROMA_URL empty; context retrieval disabled")
		return nil
	}
	return contextdb.NewClient(contextdb.Config{
		URL:        cfg.ChromaURL,
		Collection: cfg.ChromaCollection,
	})
}

func buildVision(cfg config.Config) (vision.Client, error) {
	apiKey := cfg.OpenAIAPIKey
	baseURL := cfg.OpenAIBaseURL
	if strings.EqualFold(strings.TrimSpace(cfg.VisionProvider), vision.ProviderAnthropic) {
		apiKey = cfg.AnthropicAPIKey
		baseURL = ""
	}

	if strings.TrimSpace(apiKey) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: vision api key empty; inference disabled")
			return visionPlaceholder{}, nil
		}
		return nil, fmt.Errorf("vision api key is required for provider %q", cfg.VisionProvider)
	}

	return vision.NewClient(cfg.VisionProvider, apiKey, baseURL, cfg.VisionModel)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	var analysisRepo analyses.Repo
	if app.DB != nil {
		analysisRepo = &analyses.PGRepo{DB: app.DB}
	} else {
		analysisRepo = analyses.NewMemoryRepo()
	}

	visionClient, err := buildVision(app.Config)
	if err != nil {
		return err
	}

	var pipelineStore analysis.ContextStore
	var healthStore health.ContextStore
	if app.ContextStore != nil {
		pipelineStore = app.ContextStore
		healthStore = app.ContextStore
	}

	pipeline := &analysis.Pipeline{
		Preprocessor: imaging.NewProcessor(app.Config.MaxImageSize),
		Inferencer:   visionClient,
		Store:        pipelineStore,
		Formatter:    analysis.Formatter{},
		ContextLimit: app.Config.ContextLimit,
	}

	analysisSvc := &analyses.Service{
		Repo:     analysisRepo,
		Store:    app.Store,
		Pipeline: pipeline,
		JobQueue: app.Queue,
		Provider: app.Config.VisionProvider,
		Model:    app.Config.VisionModel,
	}

	app.Vision = visionClient
	app.AnalysesRepo = analysisRepo
	app.AnalysesService = analysisSvc
	app.AnalysisProcessor = analysisSvc
	app.AnalysisHandler = analyses.NewHandler(analysisSvc)
	app.ContextHandler = contextdb.NewHandler(app.ContextStore)
	app.Health = health.NewService(app.DB, healthStore)

	if app.AnalysisHandler == nil || app.ContextHandler == nil {
		return errors.New("failed to initialize handlers")
	}

	return nil
}

// visionPlaceholder stands in when no API key is configured so local
// processes can boot; inference calls fail with a clear message.
type visionPlaceholder struct{}

func (visionPlaceholder) Infer(ctx context.Context, image []byte, prompt string) (string, error) {
	return "", &analysis.InferenceError{Err: errors.New("vision client not configured")}
}

func (visionPlaceholder) Model() string { return "" }
