package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body 统一响应结构
type Body struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Msg: msg, Data: data})
}

// Fail 业务失败响应
func Fail(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: -1, Msg: msg, Data: data})
}

// AbortWithStatus 终止请求并返回状态码
func AbortWithStatus(c *gin.Context, code int) {
	c.AbortWithStatus(code)
}

// AbortWithStatusJSON 终止请求并返回错误信息
func AbortWithStatusJSON(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, Body{Code: -1, Msg: err.Error()})
}
