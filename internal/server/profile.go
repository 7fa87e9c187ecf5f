package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
)

func (s *Server) GetProfile(c *gin.Context) {
	profile, err := s.profilesvc.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type UpdateMeRequest struct {
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) UpdateMe(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		AbortWithError(c, newValidationError("name", "required", "name must not be blank"))
		return
	}

	updated, err := s.identitysvc.UpdateUser(c.Request.Context(), user.ID.String(), identitydomain.UpdateUserRequest{
		DisplayName: req.Name,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.profilesvc.UpdateProfile(c.Request.Context(), profiledomain.UpdateProfileRequest{
		ID:          user.ID.String(),
		DisplayName: req.Name,
		Metadata:    req.Metadata,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated.IdentityOf())
}

func (s *Server) ListTechnicians(c *gin.Context) {
	pageSize := int32(0)
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid", "page_size must be a non-negative integer"))
			return
		}
		pageSize = int32(parsed)
	}

	resp, err := s.profilesvc.ListTechnicians(c.Request.Context(), profiledomain.ListTechniciansRequest{
		PageToken:     c.Query("page_token"),
		PageSize:      pageSize,
		Service:       c.Query("service"),
		City:          c.Query("city"),
		OnlyAvailable: c.Query("available") == "true",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
