package api

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/guarda/internal/api/handlers"
	"github.com/your-org/guarda/internal/api/ws"
	"github.com/your-org/guarda/internal/auth"
	"github.com/your-org/guarda/internal/gate"
)

// Store is everything the handlers need from the system of record.
type Store interface {
	handlers.PersonStore
	handlers.VehicleStore
	handlers.AuthorizationStore
	handlers.EventStore
}

// Objects is everything the handlers need from object storage.
type Objects interface {
	handlers.ObjectStore
	handlers.URLSigner
}

type RouterConfig struct {
	APIKeys        []string
	AllowedOrigins []string
	MaxUploadBytes int64

	DB        Store
	Objects   Objects
	Extractor handlers.FaceExtractor
	Gate      *gate.Service
	Cache     handlers.Invalidator
	Hub       *ws.Hub
	Checks    []handlers.Check

	// BroadcastLocally sends decisions straight to the hub instead of
	// relying on the message bus.
	BroadcastLocally bool
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AddAllowHeaders("X-API-Key")
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if err := handlers.RegisterValidators(); err != nil {
		slog.Error("register validators", "error", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKeys...))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	uploads := v1.Group("")
	if cfg.MaxUploadBytes > 0 {
		// Multipart overhead on top of the per-file cap.
		uploads.Use(requestSizeLimit(2*cfg.MaxUploadBytes + 1<<20))
	}

	// Persons & Faces
	personH := handlers.NewPersonHandler(cfg.DB, cfg.Objects, cfg.Extractor, cfg.Gate, cfg.Cache, cfg.MaxUploadBytes)
	v1.POST("/persons", personH.Create)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.PATCH("/persons/:id", personH.Update)
	uploads.POST("/persons/:id/faces", personH.AddFaces)
	v1.GET("/persons/:id/faces", personH.ListFaces)
	v1.DELETE("/persons/:id/faces/:faceId", personH.DeleteFace)
	uploads.POST("/faces/verify", personH.Verify)

	// Vehicles
	vehicleH := handlers.NewVehicleHandler(cfg.DB, cfg.Cache)
	v1.POST("/vehicles", vehicleH.Create)
	v1.GET("/vehicles", vehicleH.List)
	v1.GET("/vehicles/by-plate/:plate", vehicleH.ByPlate)
	v1.GET("/vehicles/:id", vehicleH.Get)
	v1.PATCH("/vehicles/:id", vehicleH.Update)

	// Authorizations
	authzH := handlers.NewAuthorizationHandler(cfg.DB, cfg.Cache)
	v1.POST("/authorizations", authzH.Create)
	v1.GET("/authorizations", authzH.List)
	v1.DELETE("/authorizations/:id", authzH.Delete)

	// Plates & access checks
	accessH := handlers.NewAccessHandler(cfg.Gate, cfg.Gate.Core().Normalizer(), cfg.MaxUploadBytes)
	if cfg.BroadcastLocally && cfg.Hub != nil {
		accessH.Broadcast = cfg.Hub.BroadcastDecision
	}
	uploads.POST("/plates/read", accessH.ReadPlate)
	v1.POST("/plates/normalize", accessH.NormalizePlate)
	uploads.POST("/access/check", accessH.Check)
	v1.POST("/access/check/embedding", accessH.CheckEmbedding)

	// Events
	eventH := handlers.NewEventHandler(cfg.DB, cfg.Objects)
	v1.GET("/access/events", eventH.List)

	return r
}
