package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"field-service-server/services"
)

type dashboardHandler struct {
	dashboards *services.DashboardService
	log        *zap.Logger
}

func RegisterDashboardRoutes(r *gin.RouterGroup, d *Dependencies, auth gin.HandlerFunc) {
	h := &dashboardHandler{dashboards: d.Dashboards, log: d.Log.Named("dashboard")}

	g := r.Group("/dashboard", auth)
	{
		g.GET("/admin/", h.admin)
		g.GET("/worker/", h.worker)
		g.GET("/customer/", h.customer)
	}
}

// @Summary   Admin dashboard
// @Tags      dashboard
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  models.AdminDashboard
// @Failure   401  {object}  errorResponse
// @Failure   403  {object}  errorResponse
// @Router    /dashboard/admin/ [get]
func (h *dashboardHandler) admin(c *gin.Context) {
	out, err := h.dashboards.Admin(c.Request.Context(), currentUser(c))
	h.write(c, out, err)
}

// @Summary   Field worker dashboard
// @Tags      dashboard
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  models.WorkerDashboard
// @Failure   401  {object}  errorResponse
// @Failure   403  {object}  errorResponse
// @Router    /dashboard/worker/ [get]
func (h *dashboardHandler) worker(c *gin.Context) {
	out, err := h.dashboards.Worker(c.Request.Context(), currentUser(c))
	h.write(c, out, err)
}

// @Summary   Customer dashboard
// @Tags      dashboard
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  models.CustomerDashboard
// @Failure   401  {object}  errorResponse
// @Failure   403  {object}  errorResponse
// @Router    /dashboard/customer/ [get]
func (h *dashboardHandler) customer(c *gin.Context) {
	out, err := h.dashboards.Customer(c.Request.Context(), currentUser(c))
	h.write(c, out, err)
}

func (h *dashboardHandler) write(c *gin.Context, out any, err error) {
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
