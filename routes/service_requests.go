package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"field-service-server/models"
	"field-service-server/services"
)

type serviceRequestHandler struct {
	requests *services.ServiceRequestService
	log      *zap.Logger
}

// assignRequest keeps assigned_field_worker raw so a missing field and an
// explicit null both read as unassign.
type assignRequest struct {
	AssignedFieldWorker json.RawMessage `json:"assigned_field_worker" swaggertype:"integer" extensions:"x-nullable"`
}

// RegisterServiceRequestRoutes mounts /service-requests. Every route requires
// authentication; per-role rules are enforced by the service.
func RegisterServiceRequestRoutes(r *gin.RouterGroup, d *Dependencies, auth gin.HandlerFunc) {
	h := &serviceRequestHandler{requests: d.Requests, log: d.Log.Named("service_requests")}

	g := r.Group("/service-requests", auth)
	{
		g.GET("/", h.list)
		g.POST("/", h.create)
		g.GET("/:id/", h.get)
		g.PATCH("/:id/", h.update)
		g.DELETE("/:id/", h.delete)
		g.POST("/:id/assign/", h.assign)
		g.POST("/:id/rate/", h.rate)
		g.POST("/:id/cancel/", h.cancel)
	}
}

// @Summary      List service requests
// @Description  Customers see their own requests. Workers and admins see all of them.
// @Tags         service-requests
// @Produce      json
// @Security     BearerAuth
// @Param        status                 query     string  false  "Status filter"   Enums(open, in_progress, completed, cancelled)
// @Param        urgency                query     string  false  "Urgency filter"  Enums(low, medium, high)
// @Param        assigned_field_worker  query     int     false  "Assigned worker id"
// @Param        page                   query     int     false  "Page number"  default(1)
// @Param        limit                  query     int     false  "Page size"    default(20)  maximum(100)
// @Success      200                    {object}  paginated[models.ServiceRequestResponse]
// @Failure      400                    {object}  errorResponse
// @Failure      401                    {object}  errorResponse
// @Router       /service-requests/ [get]
func (h *serviceRequestHandler) list(c *gin.Context) {
	var filter services.ServiceRequestFilter
	if raw := c.Query("status"); raw != "" {
		status := models.ServiceRequestStatus(raw)
		if !status.Valid() {
			fieldError(c, "status", strconv.Quote(raw)+" is not a valid choice.")
			return
		}
		filter.Status = status
	}
	if raw := c.Query("urgency"); raw != "" {
		urgency := models.Urgency(raw)
		if !urgency.Valid() {
			fieldError(c, "urgency", strconv.Quote(raw)+" is not a valid choice.")
			return
		}
		filter.Urgency = urgency
	}
	if raw := c.Query("assigned_field_worker"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fieldError(c, "assigned_field_worker", "A valid integer is required.")
			return
		}
		worker := uint(id)
		filter.AssignedWorker = &worker
	}

	page := pageFromQuery(c)
	list, total, err := h.requests.List(c.Request.Context(), currentUser(c), filter, page)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	out := make([]models.ServiceRequestResponse, 0, len(list))
	for i := range list {
		out = append(out, list[i].ToResponse())
	}
	c.JSON(http.StatusOK, newPaginated(out, total, page))
}

// @Summary   Create a service request
// @Tags      service-requests
// @Accept    json
// @Produce   json
// @Security  BearerAuth
// @Param     body  body      models.ServiceRequestCreate  true  "Request"
// @Success   201   {object}  models.ServiceRequestResponse
// @Failure   400   {object}  errorResponse
// @Failure   401   {object}  errorResponse
// @Failure   403   {object}  errorResponse
// @Router    /service-requests/ [post]
func (h *serviceRequestHandler) create(c *gin.Context) {
	var req models.ServiceRequestCreate
	if !bindJSON(c, &req) {
		return
	}
	sr, err := h.requests.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, sr.ToResponse())
}

// @Summary   Get a service request
// @Tags      service-requests
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      int  true  "Service request id"
// @Success   200  {object}  models.ServiceRequestResponse
// @Failure   401  {object}  errorResponse
// @Failure   404  {object}  errorResponse
// @Router    /service-requests/{id}/ [get]
func (h *serviceRequestHandler) get(c *gin.Context) {
	id, ok := pathID(c, "Service request")
	if !ok {
		return
	}
	sr, err := h.requests.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sr.ToResponse())
}

// @Summary   Edit a service request
// @Tags      service-requests
// @Accept    json
// @Produce   json
// @Security  BearerAuth
// @Param     id    path      int                          true  "Service request id"
// @Param     body  body      models.ServiceRequestUpdate  true  "Fields to change"
// @Success   200   {object}  models.ServiceRequestResponse
// @Failure   400   {object}  errorResponse
// @Failure   403   {object}  errorResponse
// @Failure   404   {object}  errorResponse
// @Failure   409   {object}  errorResponse
// @Router    /service-requests/{id}/ [patch]
func (h *serviceRequestHandler) update(c *gin.Context) {
	id, ok := pathID(c, "Service request")
	if !ok {
		return
	}
	var req models.ServiceRequestUpdate
	if !bindJSON(c, &req) {
		return
	}
	sr, err := h.requests.Update(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sr.ToResponse())
}

// @Summary   Delete a service request
// @Tags      service-requests
// @Security  BearerAuth
// @Param     id   path  int  true  "Service request id"
// @Success   204  "No Content"
// @Failure   403  {object}  errorResponse
// @Failure   404  {object}  errorResponse
// @Failure   409  {object}  errorResponse
// @Router    /service-requests/{id}/ [delete]
func (h *serviceRequestHandler) delete(c *gin.Context) {
	id, ok := pathID(c, "Service request")
	if !ok {
		return
	}
	if err := h.requests.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Assign or unassign a field worker
// @Description  A worker id assigns and opens a task. A null or missing assigned_field_worker unassigns. An assigned request must be unassigned before it can be reassigned.
// @Tags         service-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int            true   "Service request id"
// @Param        body  body      assignRequest  false  "Worker to assign"
// @Success      200   {object}  models.ServiceRequestResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /service-requests/{id}/assign/ [post]
func (h *serviceRequestHandler) assign(c *gin.Context) {
	id, ok := pathID(c, "Service request")
	if !ok {
		return
	}
	actor := currentUser(c)
	if !actor.IsAdmin() {
		abortWith(c, http.StatusForbidden, "Only admins can assign service requests")
		return
	}

	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	raw := bytes.TrimSpace(req.AssignedFieldWorker)
	var workerID *uint
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var v uint
		if err := json.Unmarshal(raw, &v); err != nil || v == 0 {
			fieldError(c, "assigned_field_worker", "Incorrect type. Expected a user id.")
			return
		}
		workerID = &v
	}

	sr, err := h.requests.Assign(c.Request.Context(), actor, id, workerID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sr.ToResponse())
}

// @Summary   Rate a completed service request
// @Tags      service-requests
// @Accept    json
// @Produce   json
// @Security  BearerAuth
// @Param     id    path      int                 true  "Service request id"
// @Param     body  body      models.RateRequest  true  "Rating"
// @Success   200   {object}  models.ServiceRequestResponse
// @Failure   400   {object}  errorResponse
// @Failure   403   {object}  errorResponse
// @Failure   404   {object}  errorResponse
// @Failure   409   {object}  errorResponse
// @Router    /service-requests/{id}/rate/ [post]
func (h *serviceRequestHandler) rate(c *gin.Context) {
	id, ok := pathID(c, "Service request")
	if !ok {
		return
	}
	var req models.RateRequest
	if !bindJSON(c, &req) {
		return
	}
	sr, err := h.requests.Rate(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sr.ToResponse())
}

// @Summary   Cancel a service request
// @Tags      service-requests
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      int  true  "Service request id"
// @Success   200  {object}  models.ServiceRequestResponse
// @Failure   403  {object}  errorResponse
// @Failure   404  {object}  errorResponse
// @Failure   409  {object}  errorResponse
// @Router    /service-requests/{id}/cancel/ [post]
func (h *serviceRequestHandler) cancel(c *gin.Context) {
	id, ok := pathID(c, "Service request")
	if !ok {
		return
	}
	sr, err := h.requests.Cancel(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sr.ToResponse())
}
