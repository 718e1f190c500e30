package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
)

type registerRequest struct {
	ExternalID string `json:"external_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
}

func (s *Server) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		externalID = s.externalID(c)
	}

	resp, err := s.identitySvc.Register(c.Request.Context(), identitydomain.RegisterRequest{
		ExternalID: externalID,
		Username:   strings.TrimSpace(req.Username),
		Email:      strings.TrimSpace(req.Email),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
