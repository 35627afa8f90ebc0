package handlers

import (
	"net/http"

	"SRL-GEN/internal/logger"
	"SRL-GEN/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Dependencies struct {
	Templates    *services.TemplateService
	Generation   *services.GenerationService
	Numbering    *services.NumberingService
	Letters      *services.LetterService
	Verification *services.VerificationService
	Limiter      Limiter
	AllowOrigins []string
	Logger       *zap.Logger
}

func NewRouter(deps Dependencies) *gin.Engine {
	log := logger.OrNop(deps.Logger)

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log), CORS(deps.AllowOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	templates := NewTemplateHandler(deps.Templates, log)
	letters := NewLetterHandler(deps.Generation, deps.Letters, log)
	numbers := NewNumberHandler(deps.Numbering, log)
	verify := NewVerifyHandler(deps.Verification, log)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/templates", templates.Upload)
		v1.GET("/templates/:templateId/placeholders", templates.Placeholders)
		v1.DELETE("/templates/:templateId", templates.Delete)

		app := v1.Group("/applications/:applicationId")
		app.GET("/letter", letters.Get)
		app.POST("/letter/generate", letters.Generate)
		app.GET("/letter/download", letters.Download)
		app.POST("/letter/publish", letters.Publish)
		app.POST("/letter/complete", letters.Complete)
		app.GET("/letter/logs", letters.Logs)
		app.GET("/letter/verification", verify.Get)
		app.POST("/letter-number", numbers.Commit)
		app.PUT("/letter-number", numbers.Update)

		v1.GET("/letter-numbers/preview", numbers.Preview)
		v1.GET("/letter-numbers/validate", numbers.Validate)
		v1.GET("/letter-numbers/check", numbers.Check)
		v1.GET("/letter-numbers/summary/:year", numbers.Summary)

		v1.GET("/public/verify/:code", RateLimit(deps.Limiter, log), verify.Verify)
	}
	return r
}
