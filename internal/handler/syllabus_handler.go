package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/exowa/exowa-api/internal/models"
	"github.com/exowa/exowa-api/internal/service"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
	"github.com/exowa/exowa-api/pkg/response"
)

// SyllabusHandler exposes the syllabus catalog endpoints.
type SyllabusHandler struct {
	syllabuses *service.SyllabusService
}

// NewSyllabusHandler constructs SyllabusHandler.
func NewSyllabusHandler(syllabuses *service.SyllabusService) *SyllabusHandler {
	return &SyllabusHandler{syllabuses: syllabuses}
}

// Create godoc
// @Summary Add a syllabus
// @Tags Syllabuses
// @Accept json
// @Produce json
// @Param payload body models.CatalogRequest true "Syllabus payload"
// @Success 201 {object} response.Envelope
// @Router /syllabuses [post]
func (h *SyllabusHandler) Create(c *gin.Context) {
	var req models.CatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	syllabus, err := h.syllabuses.Create(c.Request.Context(), currentClaims(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, syllabus)
}

// List godoc
// @Summary List the caller's syllabuses
// @Tags Syllabuses
// @Produce json
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /syllabuses [get]
func (h *SyllabusHandler) List(c *gin.Context) {
	var filter models.CatalogFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	syllabuses, pagination, err := h.syllabuses.List(c.Request.Context(), currentClaims(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, syllabuses, pagination)
}

// Get godoc
// @Summary Get a syllabus
// @Tags Syllabuses
// @Produce json
// @Param id path string true "Syllabus ID"
// @Success 200 {object} response.Envelope
// @Router /syllabuses/{id} [get]
func (h *SyllabusHandler) Get(c *gin.Context) {
	syllabus, err := h.syllabuses.Get(c.Request.Context(), currentClaims(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, syllabus, nil)
}

// Update godoc
// @Summary Rename a syllabus
// @Tags Syllabuses
// @Accept json
// @Produce json
// @Param id path string true "Syllabus ID"
// @Param payload body models.CatalogRequest true "Syllabus payload"
// @Success 200 {object} response.Envelope
// @Router /syllabuses/{id} [patch]
func (h *SyllabusHandler) Update(c *gin.Context) {
	var req models.CatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	syllabus, err := h.syllabuses.Update(c.Request.Context(), currentClaims(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, syllabus, nil)
}

// Delete godoc
// @Summary Remove a syllabus
// @Tags Syllabuses
// @Produce json
// @Param id path string true "Syllabus ID"
// @Success 204
// @Router /syllabuses/{id} [delete]
func (h *SyllabusHandler) Delete(c *gin.Context) {
	if err := h.syllabuses.Delete(c.Request.Context(), currentClaims(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
