package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
)

// writeError maps err to its HTTP status and emits the structured error
// body. Only usable before the response has committed.
func writeError(c *gin.Context, err error) {
	body := gin.H{
		"code":    rcerrors.ErrCodeInternal,
		"message": err.Error(),
	}
	var ce *rcerrors.CopilotError
	if errors.As(err, &ce) {
		body["code"] = ce.Code
		body["message"] = ce.Message
		if ce.Suggestion != "" {
			body["suggestion"] = ce.Suggestion
		}
		if len(ce.Details) > 0 {
			body["details"] = ce.Details
		}
	}
	c.AbortWithStatusJSON(rcerrors.StatusOf(err), gin.H{"error": body})
}

func invalidRequest(err error) error {
	return rcerrors.New(rcerrors.ErrCodeInvalidRequest,
		fmt.Sprintf("invalid request payload: %v", err), err)
}

// streamHeaders commits the streaming response. From here on errors must
// be delivered as text paragraphs, not status codes.
func streamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Keeps nginx from buffering the paragraphs we flush.
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}

// flushWriter writes each fragment to the client and flushes immediately,
// whether the fragment is a whole paragraph or a raw delta.
func flushWriter(c *gin.Context) func(string) error {
	return func(fragment string) error {
		if err := c.Request.Context().Err(); err != nil {
			return err
		}
		if _, err := io.WriteString(c.Writer, fragment); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}
}

// streamFail terminates a committed stream with an error paragraph.
func streamFail(c *gin.Context, err error) {
	_, _ = fmt.Fprintf(c.Writer, "Error: %s\n\n", err.Error())
	c.Writer.Flush()
}
