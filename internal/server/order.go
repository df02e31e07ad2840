package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/serviora/bookpay/internal/order/domain"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
)

type createOrderRequest struct {
	CustomerID         string `json:"customer_id"`
	ServiceType        string `json:"service_type"`
	ServiceCategoryID  string `json:"service_category_id"`
	Currency           string `json:"currency"`
	TotalAmount        int64  `json:"total_amount"`
	ScheduledStartTime string `json:"scheduled_start_time"`
	PaymentMethodRef   string `json:"payment_method_ref"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_id", "invalid customer_id"))
		return
	}

	startTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledStartTime))
	if err != nil {
		AbortWithError(c, newValidationError("scheduled_start_time", "invalid_time", "scheduled_start_time must be RFC3339"))
		return
	}

	input := orderdomain.CreateInput{
		CustomerID:         customerID,
		ServiceType:        policydomain.ServiceType(strings.TrimSpace(req.ServiceType)),
		Currency:           req.Currency,
		TotalAmount:        req.TotalAmount,
		ScheduledStartTime: startTime,
		PaymentMethodRef:   strings.TrimSpace(req.PaymentMethodRef),
	}
	if category := strings.TrimSpace(req.ServiceCategoryID); category != "" {
		id, err := snowflake.ParseString(category)
		if err != nil {
			AbortWithError(c, newValidationError("service_category_id", "invalid_id", "invalid service_category_id"))
			return
		}
		input.ServiceCategoryID = &id
	}

	order, err := s.orderSvc.Create(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, err := parseOrderID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, payments, err := s.orderSvc.Get(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"order":    order,
		"payments": payments,
	}})
}

type confirmOrderRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (s *Server) ConfirmOrderPayment(c *gin.Context) {
	orderID, err := parseOrderID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req confirmOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	intentRef := strings.TrimSpace(req.PaymentIntentID)
	if intentRef == "" {
		AbortWithError(c, newValidationError("payment_intent_id", "required", "payment_intent_id is required"))
		return
	}

	order, err := s.orderSvc.ConfirmPayment(c.Request.Context(), orderID, intentRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, err := parseOrderID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	breakdown, err := s.orderSvc.Cancel(c.Request.Context(), orderID, s.clock.Now(), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": breakdown})
}

func (s *Server) CompleteOrder(c *gin.Context) {
	orderID, err := parseOrderID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.Complete(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func parseOrderID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return 0, newValidationError("id", "invalid_id", "invalid order id")
	}
	return id, nil
}
