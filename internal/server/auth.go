package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"github.com/repairlane/repairlane/internal/session"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User        identitydomain.Identity `json:"user"`
	ExpiresAt   string                  `json:"expires_at"`
	Destination string                  `json:"destination"`
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.identitysvc.Login(c.Request.Context(), identitydomain.LoginRequest{
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		s.metrics.RecordAuth("login", false)
		AbortWithError(c, err)
		return
	}
	s.metrics.RecordAuth("login", true)

	s.cookies.Set(c, result.RawToken, result.ExpiresAt)

	identity := result.User.IdentityOf()
	c.JSON(http.StatusOK, LoginResponse{
		User:        identity,
		ExpiresAt:   result.ExpiresAt.UTC().Format(timeFormat),
		Destination: session.DestinationFor(identity.Role),
	})
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := identitydomain.NormalizeRole(req.Role)
	if role == identitydomain.RoleAdmin {
		// Admin accounts are seeded, never self-registered.
		AbortWithError(c, ErrForbidden)
		return
	}

	user, err := s.identitysvc.CreateUser(c.Request.Context(), identitydomain.CreateUserRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.Name,
		Role:        role,
	})
	if err != nil {
		s.metrics.RecordAuth("register", false)
		AbortWithError(c, err)
		return
	}
	s.metrics.RecordAuth("register", true)

	if _, err := s.profilesvc.CreateProfile(c.Request.Context(), profiledomain.CreateProfileRequest{
		ID:          user.ID.String(),
		Role:        identitydomain.NormalizeRole(user.Role),
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}); err != nil {
		s.log.Warn("profile bootstrap failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	result, err := s.identitysvc.Login(c.Request.Context(), identitydomain.LoginRequest{
		Email:     user.Email,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		// Account exists; the caller can sign in explicitly.
		c.JSON(http.StatusCreated, gin.H{"user": user.IdentityOf()})
		return
	}

	s.cookies.Set(c, result.RawToken, result.ExpiresAt)
	identity := result.User.IdentityOf()
	c.JSON(http.StatusCreated, LoginResponse{
		User:        identity,
		ExpiresAt:   result.ExpiresAt.UTC().Format(timeFormat),
		Destination: session.DestinationFor(identity.Role),
	})
}

func (s *Server) Logout(c *gin.Context) {
	token, ok := s.cookies.ReadToken(c)
	if ok {
		if err := s.identitysvc.Logout(c.Request.Context(), token); err != nil {
			s.log.Warn("session revocation failed", zap.Error(err))
		}
	}
	s.metrics.RecordAuth("logout", true)

	// The cookie is cleared and the caller redirected even when revocation
	// failed; a broken session must not trap the user.
	s.cookies.Clear(c)
	c.JSON(http.StatusOK, gin.H{"redirect": session.DestinationRoot})
}

type MeResponse struct {
	User     identitydomain.Identity `json:"user"`
	Profile  *profiledomain.Profile  `json:"profile,omitempty"`
	Extended *profiledomain.Extended `json:"extended_profile,omitempty"`
}

func (s *Server) Me(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp := MeResponse{User: user.IdentityOf()}

	profile, err := s.profilesvc.GetProfile(c.Request.Context(), user.ID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp.Profile = profile

	switch identitydomain.NormalizeRole(user.Role) {
	case identitydomain.RoleTechnician:
		tech, err := s.profilesvc.GetTechnicianProfile(c.Request.Context(), user.ID.String())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if tech != nil {
			resp.Extended = &profiledomain.Extended{Technician: tech}
		}
	case identitydomain.RoleCustomer:
		customer, err := s.profilesvc.GetCustomerProfile(c.Request.Context(), user.ID.String())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if customer != nil {
			resp.Extended = &profiledomain.Extended{Customer: customer}
		}
	}

	c.JSON(http.StatusOK, resp)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) ChangePassword(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	currentPassword := strings.TrimSpace(req.CurrentPassword)
	newPassword := strings.TrimSpace(req.NewPassword)
	if currentPassword == "" {
		AbortWithError(c, newValidationError("current_password", "required", "current password is required"))
		return
	}
	if newPassword == "" {
		AbortWithError(c, newValidationError("new_password", "required", "new password is required"))
		return
	}
	if currentPassword == newPassword {
		AbortWithError(c, newValidationError("new_password", "must_differ", "new password must be different"))
		return
	}

	// Re-authenticate with the current password; the throwaway session is
	// revoked immediately.
	verify, err := s.identitysvc.Login(c.Request.Context(), identitydomain.LoginRequest{
		Email:    user.Email,
		Password: currentPassword,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.identitysvc.Logout(c.Request.Context(), verify.RawToken); err != nil {
		s.log.Warn("verification session revocation failed", zap.Error(err))
	}

	if err := s.identitysvc.ChangePassword(c.Request.Context(), user.ID.String(), newPassword); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
