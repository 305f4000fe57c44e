package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/logger"
	"github.com/gin-gonic/gin"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// errorFrom answers with the status the error class maps to. Internal
// errors are logged and not echoed to the caller.
func errorFrom(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		ErrorResponse(c, status, "internal server error")
		return
	}
	ErrorResponse(c, status, err.Error())
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}
