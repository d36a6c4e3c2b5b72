package controllers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"smilecert/internal/certificates"
	"smilecert/internal/middleware"
)

type FileController struct {
	svc *certificates.Service
	log *slog.Logger
}

func NewFileController(svc *certificates.Service, log *slog.Logger) *FileController {
	return &FileController{svc: svc, log: log}
}

// Upload stores the "file" form field under the optional "folder".
func (h *FileController) Upload(c *gin.Context) {
	up, closer, err := openUpload(c, "file")
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if up == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no file uploaded"})
		return
	}
	actor, _ := middleware.SubjectFrom(c)
	f, err := h.svc.UploadFile(c.Request.Context(), actor.ID, c.PostForm("folder"), up)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "fileId": f.ID, "file": f})
}

func (h *FileController) Delete(c *gin.Context) {
	res, err := h.svc.DeleteFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "warnings": res.Warnings})
}
