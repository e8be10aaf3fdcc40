package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/api/handler"
	"github.com/nando3d2000/parking-project-backend/internal/api/middleware"
	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Auth      *service.AuthService
	Lots      *service.LotService
	Spots     *service.SpotService
	Sessions  *service.SessionService
	Simulator *service.SensorSimulator
	WebSocket http.Handler
	// Gatherer serves /metrics when non-nil.
	Gatherer     prometheus.Gatherer
	ReadyChecks  map[string]handler.Pinger
	ExposeErrors bool
	Log          zerolog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(middleware.ExposeErrors(d.ExposeErrors))
	r.Use(middleware.CORS())

	healthH := handler.NewHealthHandler(d.ReadyChecks)
	r.GET("/healthz", healthH.Live)
	r.GET("/readyz", healthH.Ready)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// realtime clients do not authenticate
	if d.WebSocket != nil {
		wsHandler := handler.NewWebSocketHandler(d.WebSocket)
		r.GET("/ws", wsHandler.HandleWebSocket)
	}

	authMw := middleware.NewAuthMiddleware(d.Auth, d.Log)
	adminOnly := authMw.AuthorizeRole(domain.RoleAdmin)

	authHandler := handler.NewAuthHandler(d.Auth)
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.GET("/profile", authMw.Authenticate(), authHandler.Profile)
	}

	v1 := r.Group("/api/v1")
	v1.Use(authMw.Authenticate())
	{
		lotH := handler.NewParkingLotHandler(d.Lots)
		spotH := handler.NewParkingSpotHandler(d.Spots)

		lotRoutes := v1.Group("/parking-lots")
		{
			lotRoutes.POST("", adminOnly, lotH.CreateParkingLot)
			lotRoutes.GET("", lotH.GetAllParkingLots)
			lotRoutes.GET("/:id", lotH.GetParkingLotByID)
			lotRoutes.GET("/:id/stats", lotH.GetParkingLotStats)
			lotRoutes.GET("/:id/spots", spotH.ListLotSpots)
			lotRoutes.PUT("/:id", adminOnly, lotH.UpdateParkingLot)
			lotRoutes.DELETE("/:id", adminOnly, lotH.DeleteParkingLot)
		}

		spotRoutes := v1.Group("/parking-spots")
		{
			spotRoutes.GET("", spotH.ListSpots)
			spotRoutes.GET("/snapshot", spotH.Snapshot)
			spotRoutes.GET("/:id", spotH.GetSpot)
			spotRoutes.POST("", adminOnly, spotH.CreateSpot)
			spotRoutes.PUT("/:id", adminOnly, spotH.UpdateSpot)
			spotRoutes.DELETE("/:id", adminOnly, spotH.DeleteSpot)
			spotRoutes.PATCH("/:id/status", spotH.UpdateStatus)
			spotRoutes.POST("/:id/reserve", spotH.Reserve)
			spotRoutes.DELETE("/:id/reservation", spotH.CancelReservation)
		}

		sessionH := handler.NewParkingSessionHandler(d.Sessions)
		sessionRoutes := v1.Group("/parking-sessions")
		{
			sessionRoutes.POST("/start", sessionH.StartSession)
			sessionRoutes.PATCH("/:id/end", sessionH.EndSession)
			sessionRoutes.GET("/active", sessionH.GetActiveSession)
			sessionRoutes.GET("/my-sessions", sessionH.GetUserSessions)
			sessionRoutes.GET("/stats/summary", adminOnly, sessionH.GetSessionStats)
			sessionRoutes.GET("/:id", sessionH.GetSessionByID)
			sessionRoutes.GET("", adminOnly, sessionH.GetAllSessions)
		}

		if d.Simulator != nil {
			simH := handler.NewSimulatorHandler(d.Simulator)
			simRoutes := v1.Group("/simulator", adminOnly)
			{
				simRoutes.GET("/status", simH.Status)
				simRoutes.POST("/start", simH.Start)
				simRoutes.POST("/stop", simH.Stop)
				simRoutes.POST("/tick", simH.Tick)
				simRoutes.PUT("/config", simH.UpdateConfig)
				simRoutes.POST("/failure/:spotId", simH.SimulateFailure)
			}
		}
	}

	return r
}
