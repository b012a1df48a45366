package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"labcrm/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func newPaginated(data interface{}, total int64, page, pageSize int) PaginatedResponse {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return PaginatedResponse{Data: data, Total: total, Page: page, PageSize: pageSize, Pages: pages}
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	var actionErr *services.ActionExecutionError
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.As(err, &actionErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, summary string, err error) {
	status := statusForError(err)
	c.JSON(status, ErrorResponse{Error: summary, Message: err.Error(), Code: status})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: "id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

// currentUserID reads the authenticated user set by middleware, falling back to the X-User-ID header.
func currentUserID(c *gin.Context) uint {
	if v, ok := c.Get("user_id"); ok {
		switch id := v.(type) {
		case uint:
			return id
		case int:
			if id > 0 {
				return uint(id)
			}
		case int64:
			if id > 0 {
				return uint(id)
			}
		case float64:
			if id > 0 {
				return uint(id)
			}
		}
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		if id, err := strconv.ParseUint(header, 10, 32); err == nil {
			return uint(id)
		}
	}
	return 0
}
