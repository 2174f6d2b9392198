package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/service"
)

func (s *Server) createReprint(c *gin.Context) {
	var payload service.ReprintInput
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	p := principal(c)
	if payload.RequestedBy == "" {
		payload.RequestedBy = p.Name
	}
	req, err := s.reprints.Create(c.Request.Context(), p, payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (s *Server) incomingReprints(c *gin.Context) {
	p := principal(c)
	out, err := s.reprints.ListIncoming(c.Request.Context(), p,
		departmentParam(p, c.Query("department")), models.ReprintStatus(c.Query("status")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) outgoingReprints(c *gin.Context) {
	p := principal(c)
	out, err := s.reprints.ListOutgoing(c.Request.Context(), p,
		departmentParam(p, c.Query("department")), models.ReprintStatus(c.Query("status")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) updateReprintStatus(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var payload struct {
		Status      models.ReprintStatus `json:"status" binding:"required"`
		ProcessedBy string               `json:"processedBy"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	req, err := s.reprints.UpdateStatus(c.Request.Context(), principal(c), id, payload.Status, payload.ProcessedBy)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
