package handlers

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yoockh/yooprep/internal/models"
	pgrepo "github.com/yoockh/yooprep/internal/repositories/postgres"
	"github.com/yoockh/yooprep/internal/resume"
	"github.com/yoockh/yooprep/internal/storage"
	"github.com/yoockh/yooprep/internal/utils"
)

type ResumeHandler struct {
	extractor resume.Extractor
	repo      pgrepo.ResumeFileRepository
	uploader  storage.Uploader // optional
}

func NewResumeHandler(extractor resume.Extractor, repo pgrepo.ResumeFileRepository, uploader storage.Uploader) *ResumeHandler {
	return &ResumeHandler{extractor: extractor, repo: repo, uploader: uploader}
}

// Upload extracts text from an uploaded resume for use in the session config,
// archiving the original to object storage when configured.
func (h *ResumeHandler) Upload(c *gin.Context) {
	const op = "ResumeHandler.Upload"

	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "file is required", err))
		return
	}
	if file.Size > resume.MaxFileBytes {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "file too large", nil))
		return
	}

	f, err := file.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "cannot read file", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "cannot read file", err))
		return
	}

	mime := file.Header.Get("Content-Type")
	text, err := h.extractor.Extract(data, mime)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil))
		return
	}

	uid := userID(c)
	objectName := "resumes/" + uuid.NewString() + "/" + file.Filename

	storedPath := ""
	if h.uploader != nil {
		storedPath, err = h.uploader.Upload(c.Request.Context(), objectName, mime, bytes.NewReader(data))
		if err != nil {
			writeError(c, utils.E(utils.CodeUnavailable, op, "failed to store file", err))
			return
		}
	}

	if h.repo != nil {
		row := &models.ResumeFile{
			ID:       uuid.NewString(),
			UserID:   uid,
			FileName: file.Filename,
			FilePath: storedPath,
			FileSize: int(file.Size),
			MimeType: mime,
			UploadAt: time.Now().UTC(),
		}
		if err := h.repo.Insert(c.Request.Context(), row); err != nil {
			writeError(c, utils.E(utils.CodePersistenceDegraded, op, "failed to persist resume metadata", err))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"filename":       file.Filename,
		"extracted_text": text,
	})
}
