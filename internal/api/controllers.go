package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"order-engine/internal/order"
)

type listOrdersQuery struct {
	Limit int `form:"limit"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = order.DefaultListLimit
	}
	if q.Limit > order.MaxListLimit {
		q.Limit = order.MaxListLimit
	}
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func respondValidation(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_REQUEST",
		"error":   "Validation failed",
		"details": details,
	})
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "Order Execution Engine",
		"version":     s.Meta.Version,
		"environment": s.Meta.Environment,
		"providers":   s.Meta.Providers,
		"endpoints": gin.H{
			"health":      "/health",
			"metrics":     "/metrics",
			"createOrder": "POST /api/orders/execute",
			"getOrder":    "GET /api/orders/:orderId",
			"listOrders":  "GET /api/orders",
			"websocket":   "WS /api/orders/status/:orderId",
		},
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

// createOrder validates and stores an order, then queues it for execution.
func (s *Server) createOrder(c *gin.Context) {
	var req order.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	o, err := s.Orders.SubmitOrder(c.Request.Context(), req)
	switch {
	case errors.Is(err, order.ErrInvalidRequest):
		respondValidation(c, err)
		return
	case errors.Is(err, order.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SHUTTING_DOWN",
			"error":   "order stored but not queued, service is shutting down",
			"orderId": o.ID,
		})
		return
	case err != nil:
		s.log.Error("create order failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to create order")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"orderId":      o.ID,
		"status":       o.Status,
		"message":      "Order created successfully. Connect to WebSocket for status updates.",
		"websocketUrl": fmt.Sprintf("/api/orders/status/%s", o.ID),
	})
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.Orders.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		if order.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Order not found")
			return
		}
		s.log.Error("get order failed", zap.String("order_id", c.Param("orderId")), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to fetch order")
		return
	}
	c.JSON(http.StatusOK, o)
}

// listOrders returns the most recent orders, newest first.
func (s *Server) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders, err := s.Orders.Recent(c.Request.Context(), q.Limit)
	if err != nil {
		s.log.Error("list orders failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to fetch orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}
