package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/ovokpus/regcopilot/internal/docparse"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
)

// uploadResponse reports a processed upload.
type uploadResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	SessionID      string `json:"session_id"`
	DocumentCount  int    `json:"document_count"`
	Filename       string `json:"filename"`
	DocType        string `json:"doc_type"`
	RegulatoryType string `json:"regulatory_type"`
	ChunksCreated  int    `json:"chunks_created"`
}

// deleteDocumentResponse reports a removed upload and what remains.
type deleteDocumentResponse struct {
	Success                bool     `json:"success"`
	Message                string   `json:"message"`
	RemainingUserDocuments []string `json:"remaining_user_documents"`
	TotalDocuments         int      `json:"total_documents"`
}

// handleUploadDocument is POST /api/upload-document: multipart upload into
// the shared knowledge base, tracked against the caller's session.
func (h *Handlers) handleUploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, rcerrors.New(rcerrors.ErrCodeInvalidRequest, "a file is required", err))
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		writeError(c, rcerrors.New(rcerrors.ErrCodeInvalidRequest,
			fmt.Sprintf("%s exceeds the %d MB upload limit", fileHeader.Filename, h.cfg.Server.MaxUploadMB), nil).
			WithDetail("filename", fileHeader.Filename))
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if _, err := docparse.Resolve(fileHeader.Filename, mimeType); err != nil {
		writeError(c, err)
		return
	}

	apiKey, err := h.resolveAPIKey(c.PostForm("api_key"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.kb.Bind(c.Request.Context(), apiKey); err != nil {
		writeError(c, err)
		return
	}
	sess, _ := h.sessions.GetOrCreate(c.PostForm("session_id"), apiKey)

	tmp, err := os.CreateTemp("", "regcopilot-upload-*"+filepath.Ext(fileHeader.Filename))
	if err != nil {
		writeError(c, rcerrors.InternalError("failed to stage upload", err))
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := c.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		writeError(c, rcerrors.InternalError("failed to stage upload", err))
		return
	}

	result, err := h.kb.AddDocument(c.Request.Context(), tmpPath, fileHeader.Filename, mimeType)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.sessions.AppendDocument(sess.ID, result.Filename); err != nil {
		h.logger.Warn("failed to track upload on session",
			"session_id", sess.ID, "filename", result.Filename, "error", err)
	}

	info := h.kb.Info()
	c.JSON(http.StatusOK, uploadResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully processed %s (%s) into %d chunks and added to global knowledge base",
			result.Filename, result.DocType, result.ChunksCreated),
		SessionID:      sess.ID,
		DocumentCount:  info.UserUploadedDocumentCount,
		Filename:       result.Filename,
		DocType:        result.DocType,
		RegulatoryType: result.RegulatoryType,
		ChunksCreated:  result.ChunksCreated,
	})
}

// handleDeleteDocument is DELETE /api/document/:filename. Only
// user-uploaded documents can be removed.
func (h *Handlers) handleDeleteDocument(c *gin.Context) {
	filename := c.Param("filename")
	if _, err := h.resolveAPIKey(c.Query("api_key")); err != nil {
		writeError(c, err)
		return
	}

	if _, err := h.kb.RemoveDocument(filename); err != nil {
		writeError(c, err)
		return
	}

	info := h.kb.Info()
	c.JSON(http.StatusOK, deleteDocumentResponse{
		Success:                true,
		Message:                fmt.Sprintf("Successfully deleted %s from global knowledge base", filename),
		RemainingUserDocuments: info.UserUploadedDocuments,
		TotalDocuments:         info.DocumentCount,
	})
}

// handleKnowledgeBaseInfo is GET /api/global-knowledge-base.
func (h *Handlers) handleKnowledgeBaseInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.kb.Info())
}
