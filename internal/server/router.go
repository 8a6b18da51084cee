package server

import (
	"context"
	"database/sql"
	"log"

	"github.com/gin-gonic/gin"

	"chart-backend/internal/charts"
	"chart-backend/internal/server/middleware"
	"chart-backend/internal/server/respond"
	"chart-backend/internal/services/health"
	"chart-backend/internal/shared/config"
	"chart-backend/internal/shared/metrics"
	"chart-backend/internal/shared/storage/db"
	"chart-backend/internal/shared/storage/object"
	localstore "chart-backend/internal/shared/storage/object/local"
	s3store "chart-backend/internal/shared/storage/object/s3"
	"chart-backend/internal/templates"
	"chart-backend/internal/vision"
	"chart-backend/internal/vision/gemini"
)

// NewRouter constructs the Gin engine with middleware, dependencies and
// routes registered. The returned cleanup drains the extraction queue.
func NewRouter(cfg config.Config) (*gin.Engine, func()) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.APIKey(cfg.APIKey),
	)

	// Dependencies
	store := newObjectStore(cfg)
	sqlDB := connectDatabase(cfg)

	var chartRepo charts.ChartRepo
	var resultRepo charts.ResultRepo
	var templateRepo templates.Repo
	if sqlDB != nil {
		chartRepo = &charts.PGChartRepo{DB: sqlDB}
		resultRepo = &charts.PGResultRepo{DB: sqlDB}
		templateRepo = &templates.PGRepo{DB: sqlDB}
	} else {
		chartRepo = charts.NewMemoryChartRepo()
		resultRepo = charts.NewMemoryResultRepo()
		templateRepo = templates.NewMemoryRepo()
	}

	templateSvc := &templates.Service{Repo: templateRepo}
	templateHandler := templates.NewHandler(templateSvc)

	var visionClient vision.Client
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.New(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Printf("failed to init gemini client, extraction runs will fail: %v", err)
		} else {
			visionClient = client
		}
	} else {
		log.Printf("GEMINI_API_KEY not set, extraction runs will fail")
	}

	chartSvc := &charts.Service{
		Charts:    chartRepo,
		Results:   resultRepo,
		Templates: templateSvc,
		Vision:    visionClient,
		Store:     store,
		Cache:     charts.NewStatusCache(),
	}
	queue := charts.NewDispatcher(chartSvc.Run,
		charts.WithWorkers(cfg.Workers),
		charts.WithQueueSize(cfg.QueueSize),
	)
	queue.Start()
	chartSvc.Queue = queue
	chartHandler := charts.NewHandler(chartSvc)

	healthSvc := health.NewService()

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"UPLOAD": {Rate: 1, Burst: 10},
		},
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == "POST" && c.FullPath() == "/api/v1/charts" {
				return "UPLOAD"
			}
			return ""
		},
	}))
	api.GET("/health", func(c *gin.Context) {
		respond.OK(c, healthSvc.Status())
	})
	api.GET("/metrics", metrics.Handler())
	chartHandler.RegisterRoutes(api)
	templateHandler.RegisterRoutes(api)

	return r, queue.Shutdown
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}

func newObjectStore(cfg config.Config) object.ObjectStore {
	if cfg.ObjectStoreType == "s3" {
		store, err := s3store.New(context.Background(), cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			log.Printf("failed to init s3 store, falling back to local: %v", err)
		} else {
			return store
		}
	}
	return localstore.New(cfg.LocalStoreDir)
}

func connectDatabase(cfg config.Config) *sql.DB {
	if cfg.DatabaseURL == "" {
		return nil
	}
	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	conn, err := db.Connect(context.Background(), cfg.DatabaseURL, opts)
	if err != nil {
		log.Printf("failed to connect database, falling back to memory: %v", err)
		return nil
	}
	if err := db.RunMigrations(context.Background(), conn); err != nil {
		log.Printf("failed to run migrations, falling back to memory: %v", err)
		return nil
	}
	return conn
}
