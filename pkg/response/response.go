package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Status sends data with an explicit status; a status of 400 or above marks the body unsuccessful.
func Status(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: status < http.StatusBadRequest, Data: data})
}

// Fail sends an error envelope.
func Fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Body{Error: msg})
}

// Abort sends an error envelope and stops the middleware chain.
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Body{Error: msg})
}
