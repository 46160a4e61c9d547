package routes

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"field-service-server/models"
	"field-service-server/services"
)

type userHandler struct {
	users *services.UserService
	jwt   *services.JWTService
	log   *zap.Logger
}

type authResponse struct {
	*services.TokenPair
	User    *models.User `json:"user"`
	Message string       `json:"message,omitempty"`
}

type refreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// RegisterUserRoutes mounts authentication, profile and admin user
// management under r. auth guards authenticated routes, authLimit throttles
// the credential endpoints.
func RegisterUserRoutes(r *gin.RouterGroup, d *Dependencies, auth, authLimit gin.HandlerFunc) {
	h := &userHandler{users: d.Users, jwt: d.JWT, log: d.Log.Named("users")}

	authGroup := r.Group("/auth", authLimit)
	{
		authGroup.POST("/register/", h.register)
		authGroup.POST("/login/", h.login)
		authGroup.POST("/refresh/", h.refresh)
		authGroup.POST("/logout/", auth, h.logout)
	}

	r.GET("/profile/", auth, h.profile)
	r.PATCH("/profile/", auth, h.updateProfile)

	admin := r.Group("", auth, requireAdmin())
	{
		admin.GET("/", h.list)
		admin.POST("/:id/approve/", h.approve)
		admin.POST("/:id/reject/", h.reject)
		admin.POST("/:id/toggle-active/", h.toggleActive)
	}
}

// @Summary      Register an account
// @Description  Customers are approved at once. Field workers need phone_number and wait for an admin. Admin sign-up is off unless enabled.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      services.RegisterInput  true  "New account"
// @Success      201   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      429   {object}  errorResponse
// @Router       /users/auth/register/ [post]
func (h *userHandler) register(c *gin.Context) {
	var req services.RegisterInput
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	tokens, err := h.jwt.GenerateTokenPair(c.Request.Context(), user, clientInfo(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	message := "Registration successful"
	if user.IsWorker() && !user.IsApproved {
		message = "Registration successful. Your account is awaiting admin approval."
	}
	c.JSON(http.StatusCreated, authResponse{TokenPair: tokens, User: user, Message: message})
}

// @Summary      Log in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      services.LoginInput  true  "Credentials"
// @Success      200   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      429   {object}  errorResponse
// @Router       /users/auth/login/ [post]
func (h *userHandler) login(c *gin.Context) {
	var req services.LoginInput
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	tokens, err := h.jwt.GenerateTokenPair(c.Request.Context(), user, clientInfo(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.log.Info("user logged in", zap.Uint("user_id", user.ID))
	c.JSON(http.StatusOK, authResponse{TokenPair: tokens, User: user})
}

// @Summary      Exchange a refresh token for a new access token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      refreshRequest  true  "Refresh token"
// @Success      200   {object}  services.TokenPair
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Router       /users/auth/refresh/ [post]
func (h *userHandler) refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	tokens, err := h.jwt.RefreshAccessToken(c.Request.Context(), req.Refresh)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// @Summary      Revoke a refresh token
// @Tags         auth
// @Accept       json
// @Security     BearerAuth
// @Param        body  body  refreshRequest  true  "Refresh token to revoke"
// @Success      204   "No Content"
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Router       /users/auth/logout/ [post]
func (h *userHandler) logout(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.jwt.RevokeRefreshToken(c.Request.Context(), currentUser(c).ID, req.Refresh); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary   Current user
// @Tags      users
// @Produce   json
// @Security  BearerAuth
// @Success   200  {object}  models.User
// @Failure   401  {object}  errorResponse
// @Router    /users/profile/ [get]
func (h *userHandler) profile(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// @Summary   Edit the current user
// @Tags      users
// @Accept    json
// @Produce   json
// @Security  BearerAuth
// @Param     body  body      services.ProfileUpdate  true  "Fields to change"
// @Success   200   {object}  models.User
// @Failure   400   {object}  errorResponse
// @Failure   401   {object}  errorResponse
// @Router    /users/profile/ [patch]
func (h *userHandler) updateProfile(c *gin.Context) {
	var req services.ProfileUpdate
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// @Summary   List users
// @Tags      users
// @Produce   json
// @Security  BearerAuth
// @Param     role         query     string  false  "Role filter"  Enums(customer, worker, field_worker, admin)
// @Param     is_approved  query     bool    false  "Approval filter"
// @Param     page         query     int     false  "Page number"  default(1)
// @Param     limit        query     int     false  "Page size"    default(20)  maximum(100)
// @Success   200          {object}  paginated[models.User]
// @Failure   400          {object}  errorResponse
// @Failure   401          {object}  errorResponse
// @Failure   403          {object}  errorResponse
// @Router    /users/ [get]
func (h *userHandler) list(c *gin.Context) {
	var filter services.UserFilter
	if raw := c.Query("role"); raw != "" {
		role, ok := models.ParseRole(raw)
		if !ok {
			fieldError(c, "role", "Role must be one of customer, worker, admin")
			return
		}
		filter.Role = role
	}
	if raw := c.Query("is_approved"); raw != "" {
		approved, err := strconv.ParseBool(raw)
		if err != nil {
			fieldError(c, "is_approved", "Must be a valid boolean.")
			return
		}
		filter.IsApproved = &approved
	}

	page := pageFromQuery(c)
	users, total, err := h.users.List(c.Request.Context(), filter, page)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newPaginated(users, total, page))
}

// @Summary   Approve a field worker
// @Tags      users
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      int  true  "User id"
// @Success   200  {object}  models.User
// @Failure   400  {object}  errorResponse
// @Failure   403  {object}  errorResponse
// @Failure   404  {object}  errorResponse
// @Router    /users/{id}/approve/ [post]
func (h *userHandler) approve(c *gin.Context) {
	h.adminAction(c, "approved", h.users.Approve)
}

// @Summary      Reject a field worker
// @Description  Withdraws approval, deactivates the account, revokes its refresh tokens and reopens its unfinished work.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User id"
// @Success      200  {object}  models.User
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /users/{id}/reject/ [post]
func (h *userHandler) reject(c *gin.Context) {
	h.adminAction(c, "rejected", h.users.Reject)
}

// @Summary      Activate or deactivate a user
// @Description  Deactivation revokes the user's refresh tokens and reopens a worker's unfinished work.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "User id"
// @Success      200  {object}  models.User
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /users/{id}/toggle-active/ [post]
func (h *userHandler) toggleActive(c *gin.Context) {
	actor := currentUser(c)
	h.adminAction(c, "active toggled", func(ctx context.Context, id uint) (*models.User, error) {
		return h.users.ToggleActive(ctx, actor, id)
	})
}

func (h *userHandler) adminAction(c *gin.Context, what string, fn func(ctx context.Context, id uint) (*models.User, error)) {
	id, ok := pathID(c, "User")
	if !ok {
		return
	}
	user, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.log.Info("user "+what, zap.Uint("user_id", id), zap.Uint("admin_id", currentUser(c).ID))
	c.JSON(http.StatusOK, user)
}
