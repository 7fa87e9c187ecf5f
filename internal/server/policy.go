package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type RefundPolicyResponse struct {
	Tiers         any      `json:"tiers"`
	NoticeHours   *float64 `json:"notice_hours,omitempty"`
	RefundPercent *float64 `json:"refund_percent,omitempty"`
}

// RefundPolicy returns the active cancellation tiers. With a notice_hours
// query parameter it also evaluates the refund percent for that notice.
func (s *Server) RefundPolicy(c *gin.Context) {
	policy := s.refunds.Current()
	resp := RefundPolicyResponse{Tiers: policy.Tiers}

	if raw := strings.TrimSpace(c.Query("notice_hours")); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours < 0 {
			AbortWithError(c, newValidationError("notice_hours", "invalid", "notice_hours must be a non-negative number"))
			return
		}
		percent := policy.RefundPercent(time.Duration(hours * float64(time.Hour)))
		resp.NoticeHours = &hours
		resp.RefundPercent = &percent
	}

	c.JSON(http.StatusOK, resp)
}
