// Package common holds the HTTP response conventions shared by every
// handler: success bodies are bare JSON payloads, error bodies carry a
// stable machine code plus a human message.
package common

import "github.com/gin-gonic/gin"

const (
	CodeMissingAudio   = "MISSING_AUDIO"
	CodeSessionMissing = "SESSION_MISSING"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// Error writes the error envelope and aborts the handler chain.
func Error(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}
