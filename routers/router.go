package routers

import (
	"github.com/gin-gonic/gin"

	"CharacterReel-server/routers/api"
)

func InitRouter(h *api.Handler) *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/v1/api")
	{
		v1.GET("/styles", h.ListStyles)

		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.GET("/projects/:project_id/estimate", h.GetEstimate)
		v1.POST("/projects/:project_id/runs", h.StartRun)
		v1.POST("/projects/:project_id/scenes/:scene_id/regenerate", h.RegenerateScene)

		v1.GET("/runs/:run_id", h.GetRun)
		v1.DELETE("/runs/:run_id", h.CancelRun)

		v1.GET("/generations/:generation_id", h.GetGeneration)
		v1.PUT("/generations/:generation_id", h.RenameGeneration)

		v1.GET("/users/:user_id/balance", h.GetBalance)
		v1.POST("/users/:user_id/credits", h.AddCredits)
		v1.GET("/users/:user_id/ledger", h.ListLedger)
	}
	r.GET("/runs/:run_id/wss", h.RunProgressWebSocket)
	return r
}
