package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 错误代码常量
const (
	ErrCodeInternalServerError = http.StatusInternalServerError // 服务器内部错误
	ErrCodeBadRequest          = http.StatusBadRequest          // 请求参数错误
	ErrCodeNotFound            = http.StatusNotFound            // 资源不存在
)

// APIError 自定义错误类型
type APIError struct {
	Code    int    // HTTP 状态码
	Message string // 错误消息
	Err     error  // 原始错误
}

// Error 实现 error 接口
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError 创建新的错误
func NewAPIError(code int, message string, err error) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError 请求参数错误
func NewBadRequestError(message string, err error) *APIError {
	return NewAPIError(ErrCodeBadRequest, message, err)
}

// NewNeighborNotFoundError 邻居不存在
func NewNeighborNotFoundError(neighbor string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("neighbor %s has no filter", neighbor),
	}
}

// NewInternalServerError 服务器内部错误
func NewInternalServerError(err error) *APIError {
	return NewAPIError(ErrCodeInternalServerError, "internal server error", err)
}

// HandleError 统一错误处理函数
func HandleError(c echo.Context, err error) error {
	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Request().URL.Path,
		"method": c.Request().Method,
	}).Warn("API error")

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		resp := Response{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		}
		if apiErr.Err != nil {
			resp.Data = map[string]string{
				"error_detail": apiErr.Err.Error(),
			}
		}
		return c.JSON(apiErr.Code, resp)
	}

	return c.JSON(http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: "internal server error",
	})
}
