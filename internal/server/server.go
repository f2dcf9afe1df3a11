package server

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"everactive/internal/config"
	"everactive/internal/handler"
	"everactive/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client
	nats   *nats.Conn

	wsHub     *handler.WSHub
	wsHandler *handler.WSHandler

	events *service.EventService
	rules  *service.RuleScheduler
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) *Server {
	return &Server{
		config: cfg,
		db:     db,
		redis:  redisClient,
		nats:   natsConn,
	}
}

// Setup initializes services, handlers and routes
func (s *Server) Setup() {
	s.wsHub = handler.NewWSHub(s.nats)
	s.wsHandler = handler.NewWSHandler(s.wsHub)

	// Services
	states := service.NewUserStateService()
	authService := service.NewAuthService(s.db)
	userDataService := service.NewUserDataService(s.db, states)
	s.events = service.NewEventService(s.db, states, s.nats, s.redis, s.config.IngestQueueSize)
	s.rules = service.NewRuleScheduler(s.db, states, s.nats, s.redis, s.config.EvalInterval)

	// Handlers
	authHandler := handler.NewAuthHandler(authService, s.config)
	eventHandler := handler.NewEventHandler(s.events, s.rules)
	managerHandler := handler.NewManagerHandler(userDataService)

	go s.wsHub.Run()
	log.Println("[Server] WebSocket hub started")

	s.router = gin.Default()

	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Swagger UI
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Public routes
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	s.router.POST("/api/v1/auth/login", authHandler.Login)
	s.router.POST("/api/v1/auth/register", authHandler.Register)

	// Operator alert feed
	s.router.GET("/ws/alerts", s.wsHandler.HandleAlerts)
	s.router.GET("/ws/stats", s.wsHandler.GetStats)

	// Protected routes
	api := s.router.Group("/api/v1")
	api.Use(authHandler.AuthMiddleware())
	{
		api.GET("/auth/me", authHandler.GetMe)
		api.POST("/events", eventHandler.PushEvents)

		manager := api.Group("/manager")
		manager.Use(handler.RequireManager())
		{
			manager.GET("/user-data", managerHandler.GetUserData)
			manager.GET("/rule-events", managerHandler.ListRuleEvents)
			manager.GET("/rule-events/export", managerHandler.ExportRuleEvents)
		}
	}
}

// Start launches the background services
func (s *Server) Start() error {
	if err := s.events.Start(); err != nil {
		return err
	}
	return s.rules.Start()
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	log.Printf("[Server] HTTP server listening on %s", addr)
	return s.router.Run(addr)
}

// GetRouter returns the gin router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Shutdown gracefully shuts down background services
func (s *Server) Shutdown() {
	if s.rules != nil {
		s.rules.Stop()
		log.Println("[Server] Rule scheduler stopped")
	}
	if s.events != nil {
		s.events.Stop()
		log.Println("[Server] Ingestion pipeline stopped")
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
		log.Println("[Server] WebSocket hub stopped")
	}
}
