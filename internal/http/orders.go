package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/repository"
	"github.com/example/prodflow/backend/internal/service"
)

type transitionPayload struct {
	Department  string  `json:"department"`
	CompletedBy string  `json:"completedBy"`
	ReturnedBy  string  `json:"returnedBy"`
	Notes       *string `json:"notes"`
}

func (s *Server) listPending(c *gin.Context) {
	p := principal(c)
	snap, err := s.workflow.ListPending(c.Request.Context(), p, departmentParam(p, c.Query("department")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if snap.Orders == nil {
		snap.Orders = []models.PendingOrder{}
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	activity, err := s.workflow.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activity)
}

func (s *Server) orderHistory(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	history, err := s.workflow.History(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) completeOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var payload transitionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	p := principal(c)
	adv, err := s.workflow.Complete(c.Request.Context(), p, id, departmentParam(p, payload.Department), payload.CompletedBy, payload.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, adv)
}

func (s *Server) returnOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var payload transitionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	p := principal(c)
	ret, err := s.workflow.ReturnToPrevious(c.Request.Context(), p, id, departmentParam(p, payload.Department), payload.ReturnedBy, payload.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

func (s *Server) allStats(c *gin.Context) {
	stats, err := s.workflow.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) departmentStats(c *gin.Context) {
	stats, err := s.workflow.DepartmentStats(c.Request.Context(), models.Department(c.Param("department")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) listOrders(c *gin.Context) {
	filter := repository.ListFilter{
		Status:     models.ActivityStatus(strings.TrimSpace(c.Query("status"))),
		Department: models.Department(strings.TrimSpace(c.Query("department"))),
		Search:     c.Query("search"),
		Page:       intQuery(c, "page", 1),
		PageSize:   intQuery(c, "pageSize", 50),
	}
	page, err := s.workflow.ListOrders(c.Request.Context(), principal(c), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) createOrder(c *gin.Context) {
	var payload service.OrderInput
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	activity, err := s.workflow.CreateOrder(c.Request.Context(), principal(c), payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, activity)
}

func (s *Server) updateOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var payload service.OrderInput
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	activity, err := s.workflow.UpdateOrder(c.Request.Context(), principal(c), id, payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activity)
}

func (s *Server) deleteOrder(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	if err := s.workflow.DeleteOrder(c.Request.Context(), principal(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
