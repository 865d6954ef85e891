package server

import (
	"context"
	"net/http"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/auth"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/config"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/email"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/generation"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/ledger"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/payment"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	router *gin.Engine
	srv    *http.Server
	config *config.Config
}

func New(
	ctx context.Context,
	database *sqlx.DB,
	cfg *config.Config,
	rdb *redis.Client,
	emailService *email.Service,
	creditsService ledger.Service,
	generationService generation.Service,
) *Server {
	router := gin.Default()
	router.Use(corsMiddleware())
	router.Use(MetricsMiddleware())

	userHandler := user.NewHandler(database, cfg.JWTSecret)
	userRepo := user.NewRepository(database)
	creditsHandler := ledger.NewHandler(creditsService)
	plansHandler := generation.NewHandler(generationService)
	paymentHandler := payment.NewHandler(creditsService, userRepo, emailService)

	public := router.Group("/auth")
	{
		public.POST("/register", userHandler.Register)
		public.POST("/login", userHandler.Login)
		public.POST("/refresh", userHandler.Refresh)
	}

	// Signature verification for provider callbacks happens upstream;
	// by the time a request reaches this route it is trusted.
	router.POST("/webhooks/payment", paymentHandler.ConfirmPayment)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	protected := router.Group("/")
	protected.Use(authMiddleware, RateLimitMiddleware(ctx, rdb, cfg.RateLimitRPS, cfg.RateLimitBurst))
	{
		protected.GET("/me", userHandler.GetMe)
		protected.GET("/credits/balance", creditsHandler.GetBalance)
		protected.GET("/credits/transactions", creditsHandler.ListTransactions)
		protected.POST("/plans", plansHandler.GeneratePlan)
		protected.GET("/plans", plansHandler.ListPlans)
		protected.GET("/plans/:planID", plansHandler.GetPlan)
	}

	adminMiddleware := auth.RequireRole("admin")
	admin := router.Group("/admin")
	admin.Use(authMiddleware, adminMiddleware)
	{
		admin.POST("/credits/adjust", creditsHandler.AdminAdjust)
		admin.GET("/users/:userID/balance", creditsHandler.AdminGetBalance)
	}

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())
	SetupSwagger(router)

	return &Server{
		router: router,
		config: cfg,
	}
}

func (s *Server) Start(port string) error {
	s.srv = &http.Server{
		Addr:    ":" + port,
		Handler: s.router,
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
