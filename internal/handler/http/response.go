package http

import "github.com/gin-gonic/gin"

// errorBody 是所有错误响应的统一结构
type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse 写入错误响应并中止后续 handler
func ErrorResponse(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, errorBody{Error: message})
}

// SuccessResponse 原样写出 data
func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}
