package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/nasa/harmony-workflow-core/internal/httpapi/handlers"
	httpMW "github.com/nasa/harmony-workflow-core/internal/httpapi/middleware"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

const serviceName = "harmony-workflow-core"

// RouterConfig wires the handlers built by the composition root into
// routes. A nil handler simply omits its routes, so a deployment running
// only the scheduler or only the callback ingress can reuse this router.
type RouterConfig struct {
	WorkHandler     *httpH.WorkHandler
	JobHandler      *httpH.JobHandler
	CallbackHandler *httpH.CallbackHandler
	HealthHandler   *httpH.HealthHandler
	AllowOrigins    []string
	Log             *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachRequestID())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.AllowOrigins))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	if cfg.WorkHandler != nil {
		r.GET("/work", cfg.WorkHandler.GetWork)
		r.PUT("/work/:id", cfg.WorkHandler.PutWork)
	}

	if cfg.JobHandler != nil {
		r.GET("/jobs/:jobID", cfg.JobHandler.GetJob)
	}

	if cfg.CallbackHandler != nil {
		r.POST("/:jobID/response", cfg.CallbackHandler.Respond)
	}

	return r
}
