package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"account-rotator/models"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func abortWithError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{Message: message, Type: errType},
	})
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrDuplicateKey):
		return http.StatusConflict, "duplicate_key"
	case errors.Is(err, models.ErrInvalidIndex):
		return http.StatusNotFound, "invalid_index"
	// 损坏的文档同时包装了 ErrValidation，先判断
	case errors.Is(err, models.ErrCorruptState):
		return http.StatusInternalServerError, "corrupt_state"
	case errors.Is(err, models.ErrLockTimeout):
		return http.StatusServiceUnavailable, "lock_timeout"
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c *gin.Context, err error) {
	status, errType := statusFor(err)
	abortWithError(c, status, errType, err.Error())
}
