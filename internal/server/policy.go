package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
)

type upsertPolicyRequest struct {
	ServiceType             string                          `json:"service_type"`
	ServiceCategoryID       string                          `json:"service_category_id"`
	AutoCaptureHoursBefore  int                             `json:"auto_capture_hours_before"`
	IsAutoCaptureEnabled    bool                            `json:"is_auto_capture_enabled"`
	CancellationCutoffHours int                             `json:"cancellation_cutoff_hours"`
	ForfeiturePercentage    int                             `json:"forfeiture_percentage"`
	DepositPercentage       int                             `json:"deposit_percentage"`
	RefundDays              int                             `json:"refund_days"`
	CancellationTiers       []policydomain.CancellationTier `json:"cancellation_tiers"`
}

func (s *Server) UpsertPolicy(c *gin.Context) {
	var req upsertPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	input := policydomain.UpsertInput{
		ServiceType:             policydomain.ServiceType(strings.TrimSpace(req.ServiceType)),
		AutoCaptureHoursBefore:  req.AutoCaptureHoursBefore,
		IsAutoCaptureEnabled:    req.IsAutoCaptureEnabled,
		CancellationCutoffHours: req.CancellationCutoffHours,
		ForfeiturePercentage:    req.ForfeiturePercentage,
		DepositPercentage:       req.DepositPercentage,
		RefundDays:              req.RefundDays,
		CancellationTiers:       req.CancellationTiers,
		ActorID:                 strings.TrimSpace(c.GetHeader("X-Actor-Id")),
	}
	if category := strings.TrimSpace(req.ServiceCategoryID); category != "" {
		id, err := snowflake.ParseString(category)
		if err != nil {
			AbortWithError(c, newValidationError("service_category_id", "invalid_id", "invalid service_category_id"))
			return
		}
		input.ServiceCategoryID = &id
	}

	policy, err := s.policySvc.Upsert(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": policy})
}

func (s *Server) ListPolicies(c *gin.Context) {
	policies, err := s.policySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": policies})
}
