package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/exowa/exowa-api/internal/models"
	"github.com/exowa/exowa-api/internal/service"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
	"github.com/exowa/exowa-api/pkg/response"
)

// AuthHandler exposes registration and login endpoints.
type AuthHandler struct {
	auth   *service.AuthService
	papers *service.PaperService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *service.AuthService, papers *service.PaperService) *AuthHandler {
	return &AuthHandler{auth: auth, papers: papers}
}

// Register godoc
// @Summary Register a parent account
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Account payload"
// @Success 201 {object} response.Envelope
// @Router /users/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	resp, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// Login godoc
// @Summary Authenticate with email and password
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope
// @Router /users/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	resp, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// ChildLogin godoc
// @Summary Exchange a paper access code for a child session
// @Tags Auth
// @Accept json
// @Produce json
// @Param id path string true "Child ID"
// @Param payload body models.ChildLoginRequest true "OTP payload"
// @Success 200 {object} response.Envelope
// @Router /users/childLogin/{id} [post]
func (h *AuthHandler) ChildLogin(c *gin.Context) {
	var req models.ChildLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	resp, err := h.papers.ChildLogin(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}
