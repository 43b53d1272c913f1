package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/exowa/exowa-api/internal/models"
	"github.com/exowa/exowa-api/internal/service"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
	"github.com/exowa/exowa-api/pkg/response"
)

// PaperHandler exposes paper lifecycle endpoints.
type PaperHandler struct {
	papers         *service.PaperService
	explanations   *service.ExplanationService
	maxUploadBytes int64
}

// NewPaperHandler constructs PaperHandler.
func NewPaperHandler(papers *service.PaperService, explanations *service.ExplanationService, maxUploadBytes int64) *PaperHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &PaperHandler{papers: papers, explanations: explanations, maxUploadBytes: maxUploadBytes}
}

// Create godoc
// @Summary Generate a new paper
// @Tags Papers
// @Accept json
// @Produce json
// @Param payload body models.PaperCreateRequest true "Curriculum spec"
// @Success 201 {object} response.Envelope
// @Router /papers [post]
func (h *PaperHandler) Create(c *gin.Context) {
	var req models.PaperCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	paper, err := h.papers.Create(c.Request.Context(), currentClaims(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, paper)
}

// List godoc
// @Summary List the caller's papers
// @Tags Papers
// @Produce json
// @Param search query string false "Search subject, class or syllabus"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /papers [get]
func (h *PaperHandler) List(c *gin.Context) {
	var filter models.PaperFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	papers, pagination, err := h.papers.List(c.Request.Context(), currentClaims(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, papers, pagination)
}

// Get godoc
// @Summary Get a paper with its questions
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Success 200 {object} response.Envelope
// @Router /papers/{id} [get]
func (h *PaperHandler) Get(c *gin.Context) {
	paper, err := h.papers.Get(c.Request.Context(), currentClaims(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, paper, nil)
}

// Update godoc
// @Summary Update curriculum metadata on a paper
// @Tags Papers
// @Accept json
// @Produce json
// @Param id path string true "Paper ID"
// @Param payload body models.PaperUpdateRequest true "Metadata payload"
// @Success 200 {object} response.Envelope
// @Router /papers/{id} [patch]
func (h *PaperHandler) Update(c *gin.Context) {
	var req models.PaperUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	paper, err := h.papers.Update(c.Request.Context(), currentClaims(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, paper, nil)
}

// Assign godoc
// @Summary Assign a paper to a child and mint an access code
// @Tags Papers
// @Accept json
// @Produce json
// @Param payload body models.PaperAssignRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Router /papers/assign [post]
func (h *PaperHandler) Assign(c *gin.Context) {
	var req models.PaperAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.papers.Assign(c.Request.Context(), currentClaims(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RotateOTP godoc
// @Summary Replace the access code on an assigned paper
// @Tags Papers
// @Produce json
// @Param questionId path string true "Paper ID"
// @Success 200 {object} response.Envelope
// @Router /papers/generateQuestionOTP/{questionId} [post]
func (h *PaperHandler) RotateOTP(c *gin.Context) {
	result, err := h.papers.RotateOTP(c.Request.Context(), currentClaims(c), c.Param("questionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SubmitAnswers godoc
// @Summary Submit the answer set for a paper
// @Tags Papers
// @Accept json
// @Produce json
// @Param payload body models.AnswerSubmissionRequest true "Answers payload"
// @Success 200 {object} response.Envelope
// @Router /papers/answer [patch]
func (h *PaperHandler) SubmitAnswers(c *gin.Context) {
	var req models.AnswerSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	paper, err := h.papers.SubmitAnswers(c.Request.Context(), currentClaims(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, paper, nil)
}

// GetExplanation godoc
// @Summary Get the explanation for one question, generating it on first request
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Param questionNumber query int false "Question number, 0 for the whole paper"
// @Success 200 {object} response.Envelope
// @Router /papers/{id}/explanation [get]
func (h *PaperHandler) GetExplanation(c *gin.Context) {
	number := models.WholePaperNumber
	if raw := c.Query("questionNumber"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "questionNumber must be a non-negative integer"))
			return
		}
		number = parsed
	}

	exp, err := h.explanations.Get(c.Request.Context(), currentClaims(c), c.Param("id"), number)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, exp, nil)
}

// ListExplanations godoc
// @Summary List every stored explanation of a paper
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Success 200 {object} response.Envelope
// @Router /papers/{id}/explanations [get]
func (h *PaperHandler) ListExplanations(c *gin.Context) {
	doc, err := h.explanations.ListByPaper(c.Request.Context(), currentClaims(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Download godoc
// @Summary Download a printable PDF of the paper
// @Tags Papers
// @Produce application/pdf
// @Param id path string true "Paper ID"
// @Success 200 {file} binary
// @Router /papers/{id}/download [get]
func (h *PaperHandler) Download(c *gin.Context) {
	payload, err := h.papers.ExportPDF(c.Request.Context(), currentClaims(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("paper-%s.pdf", c.Param("id"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", payload)
}

// UploadMaterial godoc
// @Summary Attach source material to a paper
// @Tags Papers
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Paper ID"
// @Param file formData file true "Source material"
// @Success 200 {object} response.Envelope
// @Router /papers/{id}/material [post]
func (h *PaperHandler) UploadMaterial(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file field is required"))
		return
	}
	defer file.Close()

	paper, err := h.papers.UploadMaterial(c.Request.Context(), currentClaims(c), c.Param("id"), header.Filename, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, paper, nil)
}

// DownloadMaterial godoc
// @Summary Download the source material attached to a paper
// @Tags Papers
// @Produce application/octet-stream
// @Param id path string true "Paper ID"
// @Success 200 {file} binary
// @Router /papers/{id}/material [get]
func (h *PaperHandler) DownloadMaterial(c *gin.Context) {
	f, name, err := h.papers.OpenMaterial(c.Request.Context(), currentClaims(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read material"))
		return
	}
	extraHeaders := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	}
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", f, extraHeaders)
}

// Delete godoc
// @Summary Remove a paper
// @Tags Papers
// @Produce json
// @Param id path string true "Paper ID"
// @Success 204
// @Router /papers/{id} [delete]
func (h *PaperHandler) Delete(c *gin.Context) {
	if err := h.papers.Delete(c.Request.Context(), currentClaims(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
