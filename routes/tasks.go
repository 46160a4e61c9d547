package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"field-service-server/models"
	"field-service-server/services"
)

// multipartOverhead is allowed on top of the file limit for form fields and
// part headers.
const multipartOverhead = 1 << 20

type taskHandler struct {
	tasks     *services.TaskService
	log       *zap.Logger
	maxUpload int64
}

func RegisterTaskRoutes(r *gin.RouterGroup, d *Dependencies, auth gin.HandlerFunc) {
	h := &taskHandler{tasks: d.Tasks, log: d.Log.Named("tasks"), maxUpload: d.Config.Media.MaxUploadBytes}

	g := r.Group("/tasks", auth)
	{
		g.GET("/", h.list)
		g.GET("/:id/", h.get)
		g.POST("/:id/set-status/", h.setStatus)
		g.POST("/:id/upload-proof/", h.uploadProof)
	}
}

// @Summary      List tasks
// @Description  Workers see their own tasks, customers the tasks on their requests, admins everything.
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "Status filter"  Enums(assigned, in_progress, completed, cancelled)
// @Param        page    query     int     false  "Page number"  default(1)
// @Param        limit   query     int     false  "Page size"    default(20)  maximum(100)
// @Success      200     {object}  paginated[models.TaskResponse]
// @Failure      400     {object}  errorResponse
// @Failure      401     {object}  errorResponse
// @Router       /tasks/ [get]
func (h *taskHandler) list(c *gin.Context) {
	var status models.TaskStatus
	if raw := c.Query("status"); raw != "" {
		status = models.TaskStatus(raw)
		if !status.WorkerSettable() && status != models.TaskStatusCancelled {
			fieldError(c, "status", strconv.Quote(raw)+" is not a valid choice.")
			return
		}
	}

	page := pageFromQuery(c)
	tasks, total, err := h.tasks.List(c.Request.Context(), currentUser(c), status, page)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	out := make([]models.TaskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, tasks[i].ToResponse())
	}
	c.JSON(http.StatusOK, newPaginated(out, total, page))
}

// @Summary   Get a task
// @Tags      tasks
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      int  true  "Task id"
// @Success   200  {object}  models.TaskResponse
// @Failure   401  {object}  errorResponse
// @Failure   404  {object}  errorResponse
// @Router    /tasks/{id}/ [get]
func (h *taskHandler) get(c *gin.Context) {
	id, ok := pathID(c, "Task")
	if !ok {
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task.ToResponse())
}

// @Summary      Move a task forward
// @Description  Only assigned to in_progress to completed, one step at a time.
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                          true  "Task id"
// @Param        body  body      models.SetTaskStatusRequest  true  "Next status"
// @Success      200   {object}  models.TaskResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Router       /tasks/{id}/set-status/ [post]
func (h *taskHandler) setStatus(c *gin.Context) {
	id, ok := pathID(c, "Task")
	if !ok {
		return
	}
	var req models.SetTaskStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	task, err := h.tasks.SetStatus(c.Request.Context(), currentUser(c), id, req.Status)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task.ToResponse())
}

// uploadProof accepts multipart/form-data with an optional proof_upload file
// and an optional notes field.
//
// @Summary      Upload proof of work
// @Description  Attaching a file or notes completes the task and its service request.
// @Tags         tasks
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id            path      int     true   "Task id"
// @Param        proof_upload  formData  file    false  "Image or PDF"
// @Param        notes         formData  string  false  "Completion notes"
// @Success      200           {object}  models.TaskResponse
// @Failure      400           {object}  errorResponse
// @Failure      403           {object}  errorResponse
// @Failure      404           {object}  errorResponse
// @Failure      409           {object}  errorResponse
// @Router       /tasks/{id}/upload-proof/ [post]
func (h *taskHandler) uploadProof(c *gin.Context) {
	id, ok := pathID(c, "Task")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	var in services.ProofUpload
	fh, err := c.FormFile("proof_upload")
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			respondError(c, h.log, fmt.Errorf("open uploaded proof: %w", err))
			return
		}
		defer f.Close()
		in.File = &services.ProofFile{Filename: fh.Filename, Size: fh.Size, Content: f}
	case errors.As(err, &tooLarge):
		fieldError(c, "proof_upload", fmt.Sprintf("File is too large; the limit is %d bytes", h.maxUpload))
		return
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		abortWith(c, http.StatusBadRequest, "Malformed multipart request body")
		return
	}
	if notes, ok := c.GetPostForm("notes"); ok {
		in.Notes = &notes
	}

	task, err := h.tasks.UploadProof(c.Request.Context(), currentUser(c), id, in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task.ToResponse())
}
