package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"field-service-server/middleware"
	"field-service-server/models"
	"field-service-server/services"
)

const nonFieldErrors = "non_field_errors"

// errorResponse is the body of every non-2xx reply. Details holds per-field
// messages for validation failures and a plain string for bad transitions.
type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func abortWith(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

type paginated[T any] struct {
	Results []T   `json:"results"`
	Count   int64 `json:"count"`
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
}

func newPaginated[T any](results []T, count int64, page services.Page) paginated[T] {
	if results == nil {
		results = []T{}
	}
	return paginated[T]{Results: results, Count: count, Page: page.Page, Limit: page.Limit}
}

func validationFailed(c *gin.Context, details map[string][]string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "Validation failed", Details: details})
}

func fieldError(c *gin.Context, field, msg string) {
	validationFailed(c, map[string][]string{field: {msg}})
}

// respondError maps service errors onto HTTP responses. Anything it does not
// recognise is logged and reported as a 500.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var se *services.Error
	if errors.As(err, &se) {
		switch {
		case errors.Is(se, services.ErrValidation):
			field := se.Field
			if field == "" {
				field = nonFieldErrors
			}
			fieldError(c, field, se.Message)
		case errors.Is(se, services.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid status transition", Details: se.Message})
		case errors.Is(se, services.ErrNotFound):
			abortWith(c, http.StatusNotFound, se.Message)
		case errors.Is(se, services.ErrForbidden):
			abortWith(c, http.StatusForbidden, se.Message)
		case errors.Is(se, services.ErrConflict):
			abortWith(c, http.StatusConflict, se.Message)
		default:
			abortWith(c, http.StatusBadRequest, se.Message)
		}
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		abortWith(c, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, services.ErrInvalidToken):
		abortWith(c, http.StatusUnauthorized, "Token is invalid or expired")
	default:
		_ = c.Error(err)
		log.Error("request failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		abortWith(c, http.StatusInternalServerError, "Internal server error")
	}
}

// bindJSON decodes and validates the body into obj. On failure it writes the
// 400 response and returns false.
func bindJSON(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &verrs):
		validationFailed(c, translateValidation(verrs))
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = nonFieldErrors
		}
		fieldError(c, field, "Expected "+typeErr.Type.String()+", got "+typeErr.Value+".")
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		abortWith(c, http.StatusBadRequest, "Malformed JSON request body")
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body", Details: err.Error()})
	}
	return false
}

func currentUser(c *gin.Context) *models.User {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		// Routes using this are always behind AuthMiddleware.
		panic("routes: no authenticated user in context")
	}
	return user
}

// pathID parses the :id path parameter. Non-numeric ids cannot exist, so they
// are reported as not found.
func pathID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abortWith(c, http.StatusNotFound, what+" not found")
		return 0, false
	}
	return uint(id), true
}

func pageFromQuery(c *gin.Context) services.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return services.NewPage(page, limit)
}

func clientInfo(c *gin.Context) services.ClientInfo {
	return services.ClientInfo{UserAgent: c.Request.UserAgent(), IPAddress: c.ClientIP()}
}
