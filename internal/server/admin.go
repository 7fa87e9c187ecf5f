package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	"github.com/repairlane/repairlane/pkg/db/pagination"
)

type AdminUsersResponse struct {
	pagination.PageInfo
	Users []identitydomain.Identity `json:"users"`
}

// AdminListUsers pages through accounts newest first.
func (s *Server) AdminListUsers(c *gin.Context) {
	pageSize := int32(50)
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 || parsed > 250 {
			AbortWithError(c, newValidationError("page_size", "invalid", "page_size must be between 1 and 250"))
			return
		}
		pageSize = int32(parsed)
	}

	query := s.db.WithContext(c.Request.Context()).
		Model(&identitydomain.User{}).
		Order("id DESC").
		Limit(int(pageSize) + 1)

	if token := strings.TrimSpace(c.Query("page_token")); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid", "invalid page token"))
			return
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid", "invalid page token"))
			return
		}
		query = query.Where("id < ?", id)
	}

	var users []*identitydomain.User
	if err := query.Find(&users).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(users, pageSize, func(u *identitydomain.User) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: u.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(users) > int(pageSize) {
		users = users[:pageSize]
	}

	identities := make([]identitydomain.Identity, 0, len(users))
	for _, user := range users {
		identities = append(identities, user.IdentityOf())
	}

	c.JSON(http.StatusOK, AdminUsersResponse{PageInfo: *pageInfo, Users: identities})
}
