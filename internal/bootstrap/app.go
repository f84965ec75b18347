package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gin-gonic/gin"

	"aspor-backend/internal/analysis"
	"aspor-backend/internal/dispatch"
	"aspor-backend/internal/extraction"
	"aspor-backend/internal/history"
	"aspor-backend/internal/llm"
	"aspor-backend/internal/llm/bedrock"
	"aspor-backend/internal/ocr"
	"aspor-backend/internal/runs"
	"aspor-backend/internal/shared/config"
	"aspor-backend/internal/shared/server"
	"aspor-backend/internal/shared/storage/db"
	"aspor-backend/internal/shared/storage/object"
	localstore "aspor-backend/internal/shared/storage/object/local"
	s3store "aspor-backend/internal/shared/storage/object/s3"
	"aspor-backend/internal/status"
	"aspor-backend/internal/uploads"
)

// App holds the wired dependencies of one process.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB

	Store      object.ObjectStore
	RunsRepo   runs.Repo
	OCR        ocr.Client
	LLM        llm.Client
	Dispatcher dispatch.Dispatcher

	Extraction *extraction.Service
	Analysis   *analysis.Service
	Status     *status.Service
	Worker     *analysis.Worker
}

// Build wires dependencies from configuration. The returned app carries the
// router for HTTP entry points and the worker for background entry points.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo, sqlDB, err := buildRunsRepo(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ocrClient, err := ocr.NewTextractClient(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("build ocr client: %w", err)
	}

	llmClient, err := bedrock.New(ctx, cfg.AWSRegion, cfg.BedrockModelID)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	app := &App{
		Config:   cfg,
		DB:       sqlDB,
		Store:    store,
		RunsRepo: repo,
		OCR:      ocrClient,
		LLM:      llmClient,
	}

	// The in-process dispatcher calls back into the worker, so the handler
	// is bound after the services exist.
	var inproc *dispatch.InProc
	switch cfg.DispatcherType {
	case "lambda":
		app.Dispatcher, err = dispatch.NewLambda(ctx, cfg.AWSRegion, cfg.WorkerFunction)
	case "sqs":
		app.Dispatcher, err = dispatch.NewSQS(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	default:
		inproc = &dispatch.InProc{}
		app.Dispatcher = inproc
	}
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	app.Extraction = &extraction.Service{
		Runs:       app.RunsRepo,
		Store:      app.Store,
		OCR:        app.OCR,
		Vision:     app.LLM,
		Dispatcher: app.Dispatcher,
		Bucket:     cfg.S3Bucket,
	}
	app.Analysis = &analysis.Service{
		Runs:       app.RunsRepo,
		Store:      app.Store,
		LLM:        app.LLM,
		Dispatcher: app.Dispatcher,
	}
	app.Status = &status.Service{Runs: app.RunsRepo, Store: app.Store}
	app.Worker = &analysis.Worker{
		Analyzer:  app.Analysis,
		Extractor: app.Extraction,
	}
	if inproc != nil {
		inproc.Handler = app.Worker.Process
	}

	app.Router = server.NewRouter(cfg,
		uploads.NewHandler(app.Store),
		extraction.NewHandler(app.Extraction),
		analysis.NewHandler(app.Analysis),
		status.NewHandler(app.Status),
		history.NewHandler(app.RunsRepo),
	)
	return app, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	if cfg.ObjectStoreType == "s3" {
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when OBJECT_STORE=s3")
		}
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("build s3 store: %w", err)
		}
		return store, nil
	}
	return localstore.New(cfg.LocalStoreDir), nil
}

func buildRunsRepo(ctx context.Context, cfg config.Config) (runs.Repo, *sql.DB, error) {
	switch cfg.RunStoreType {
	case "dynamodb":
		repo, err := runs.NewDynamoRepo(ctx, cfg.AWSRegion, cfg.DynamoTable, cfg.DynamoRunIndex)
		if err != nil {
			return nil, nil, fmt.Errorf("build dynamo repo: %w", err)
		}
		return repo, nil, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required when RUN_STORE=postgres")
		}
		opts := db.DefaultServerOptions()
		if db.IsLambdaRuntime() {
			opts = db.DefaultLambdaOptions()
		}
		sqlDB, err := db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return &runs.PGRepo{DB: sqlDB}, sqlDB, nil
	default:
		return runs.NewMemoryRepo(), nil, nil
	}
}
