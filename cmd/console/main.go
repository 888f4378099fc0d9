package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/code-100-precent/TrunkEcho/cmd/bootstrap"
	handlers "github.com/code-100-precent/TrunkEcho/internal/handler"
	"github.com/code-100-precent/TrunkEcho/internal/models"
	"github.com/code-100-precent/TrunkEcho/internal/task"
	"github.com/code-100-precent/TrunkEcho/pkg/cache"
	"github.com/code-100-precent/TrunkEcho/pkg/call"
	"github.com/code-100-precent/TrunkEcho/pkg/config"
	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/media"
	"github.com/code-100-precent/TrunkEcho/pkg/middleware"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

func main() {
	// 1. Print Banner
	if err := bootstrap.PrintBannerFromFile("banner.txt"); err != nil {
		log.Fatalf("unload banner: %v", err)
	}

	// 2. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	initSQL := flag.String("init-sql", "", "path to database init .sql script (optional)")
	flag.Parse()

	// 3. Set Environment Variables
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 4. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	cfg := config.GlobalConfig

	// 5. Load Log Configuration
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}

	// 6. Print Configuration
	bootstrap.LogConfigInfo()

	// 7. Load Data Source
	db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{
		InitSQLPath: *initSQL, // Can be specified via --init-sql
		AutoMigrate: true,
	})
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}

	// 8. Load Global Cache
	if err := cache.InitGlobalCache(cfg.Cache); err != nil {
		logger.Error("failed to initialize cache", zap.Error(err))
		logger.Info("falling back to default local cache")
	}

	// 9. Build the call core: audio router, event bus, dispatcher loop
	audio := media.NewRTPRouter(media.NullSink{})
	bus := events.NewBus()

	sub := call.NewSubsystem(cfg.ConsoleID, nil, audio, nil,
		models.NewDBRecorder(db), bus, call.Tunables{
			AdmissionMaxCalls:    cfg.AdmissionMaxCalls,
			PTTDebounce:          cfg.PTTDebounce,
			SetupTimeout:         cfg.SetupTimeout,
			HookSetupTimeout:     cfg.HookSetupTimeout,
			PriorityPreempt:      cfg.PriorityPreempt,
			PriorityEmergency:    cfg.PriorityEmergency,
			DefaultPriority:      cfg.DefaultPriority,
			DisableGroupAutoJoin: !cfg.AutoJoinGroup,
			ReleaseFence:         cfg.ReleaseFenceWindow,
			RTPAddr:              cfg.RTPAddr,
			RTPPortMin:           cfg.RTPPortMin,
			RTPPortMax:           cfg.RTPPortMax,
		})
	dispatcher := call.NewDispatcher(sub, nil)

	// 10. Dial the switch signaling link. The requester is bound before the
	// loop starts, so no request can race the assignment.
	link, err := signaling.Dial(cfg.SwitchAddr, cfg.SwitchDialTimeout,
		dispatcher.Deliver, dispatcher.NotifyTransportDown)
	if err != nil {
		logger.Error("cannot reach switch", zap.String("addr", cfg.SwitchAddr), zap.Error(err))
		return
	}
	defer link.Close()
	sub.Requester = signaling.LogRequests(link)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	// 11. Start Timed task
	task.StartHistoryCleaner(db)

	// 12. Initialize Gin Routing
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()        // Use gin.New() instead of gin.Default() to avoid automatic redirects
	r.Use(gin.Recovery()) // Manually add Recovery middleware

	// Cors Handle Middleware
	r.Use(middleware.CorsMiddleware())

	// Logger Handle Middleware
	r.Use(middleware.LoggerMiddleware(logger.L()))

	// Disable automatic redirects to avoid CORS issues caused by 307 redirects
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	// Set maximum memory limit for multipart forms (32MB)
	r.MaxMultipartMemory = 32 << 20 // 32 MB

	// 13. Register Routes
	apiPrefix := cfg.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api"
	}
	monitorPrefix := cfg.MonitorPrefix
	if monitorPrefix == "" {
		monitorPrefix = "/metrics"
	}
	h := handlers.NewHandlers(db, dispatcher, bus, cfg.AttachmentDir)
	h.RegisterRoutes(r, apiPrefix, apiPrefix+monitorPrefix)

	// 14. Start HTTP Server
	httpServer := &http.Server{
		Addr:           cfg.Addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	logger.Info("Starting HTTP server", zap.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server run failed", zap.Error(err))
	}
}
