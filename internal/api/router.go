package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/visage/internal/annotate"
	"github.com/your-org/visage/internal/api/handlers"
	"github.com/your-org/visage/internal/api/ws"
	"github.com/your-org/visage/internal/auth"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/queue"
	"github.com/your-org/visage/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	Identity *identity.Service
	Enricher *annotate.Enricher
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket event feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Identities
	identityH := handlers.NewIdentityHandler(cfg.Identity, cfg.Producer)
	v1.POST("/identities", identityH.Register)
	v1.POST("/identities/verify", identityH.Verify)
	v1.GET("/identities", identityH.List)
	v1.DELETE("/identities/:id", identityH.Delete)

	// Enrichments
	enrichH := handlers.NewEnrichmentHandler(cfg.Enricher, cfg.Producer)
	v1.POST("/enrichments", enrichH.Submit)
	v1.GET("/enrichments/:video", enrichH.Status)

	return r
}
