package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stockstream/config"
	"stockstream/routes"
	"stockstream/scheduler"
	"stockstream/services"

	"github.com/gin-gonic/gin"
)

// servicesInitialized tracks whether the background initialization has
// finished. Guarded by a mutex so the /ready probe can check it from
// request goroutines.
var servicesInitialized bool
var servicesInitMutex sync.RWMutex

// jobScheduler is assigned under the same mutex once initialization
// finishes, so the shutdown path sees it no matter when the signal lands
var jobScheduler *scheduler.Scheduler

func main() {
	log.Println("==============================================")
	log.Println("  StockStream Gateway - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up while the rest initializes in background
	setupHealthEndpoints(router)

	// Create HTTP server with timeouts suited to container platforms.
	// Upgraded websocket connections are hijacked and not subject to
	// these timeouts.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server IMMEDIATELY so the platform knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize services and setup routes in background
	go func() {
		initializeGlobalServices(cfg)

		// Mark services as ready
		servicesInitMutex.Lock()
		servicesInitialized = true
		servicesInitMutex.Unlock()

		// Setup all API routes
		routes.SetupRoutes(router)

		// Start background scheduler
		sched := scheduler.NewScheduler(services.GlobalFanoutService, services.GlobalQuoteCache)
		go sched.Start()

		servicesInitMutex.Lock()
		jobScheduler = sched
		servicesInitMutex.Unlock()

		log.Println("Application fully initialized")
	}()

	// Graceful shutdown
	gracefulShutdown(server)
}

// initializeGlobalServices initializes global service instances
func initializeGlobalServices(cfg *config.Config) {
	// Cache backend is selected once here and never revisited
	if err := services.InitQuoteCache(); err != nil {
		log.Printf("Warning: Failed to initialize quote cache: %v", err)
	}

	if err := services.InitQuoteService(); err != nil {
		log.Printf("Warning: Failed to initialize quote service: %v", err)
	}

	registry := services.NewSubscriptionRegistry()
	stream := services.InitStreamService(registry, services.GlobalQuoteService, cfg.MaxStreamClients)
	services.InitFanoutService(registry, services.GlobalQuoteService, stream)

	log.Println("Global services initialized")
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "StockStream Gateway API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		servicesInitMutex.RLock()
		ready := servicesInitialized
		servicesInitMutex.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Services initializing",
			})
			return
		}

		backend := "memory"
		if _, ok := services.GlobalQuoteCache.(*services.MongoCache); ok {
			backend = "mongodb"
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"cache":  backend,
		})
	})

	// Startup probe - can be used for initial health check
	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	servicesInitMutex.RLock()
	sched := jobScheduler
	servicesInitMutex.RUnlock()

	// Stop scheduler first so no new fanout ticks start
	if sched != nil {
		sched.Stop()
	}

	// Tell stream clients the server is going away while their
	// connections are still writable
	if services.GlobalStreamService != nil {
		services.GlobalStreamService.Shutdown()
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Close cache backend
	if services.GlobalQuoteCache != nil {
		if err := services.GlobalQuoteCache.Close(ctx); err != nil {
			log.Printf("Cache close failed: %v", err)
		}
		log.Println("Cache backend closed")
	}

	log.Println("Server shutdown completed")
}
