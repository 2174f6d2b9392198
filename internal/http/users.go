package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/service"
)

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.users.ListUsers(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) createUser(c *gin.Context) {
	var payload service.UserInput
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	user, err := s.users.CreateUser(c.Request.Context(), payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) updateUser(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var payload service.UserInput
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	user, err := s.users.UpdateUser(c.Request.Context(), id, payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) deleteUser(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	if err := s.users.DeleteUser(c.Request.Context(), principal(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listNotifications(c *gin.Context) {
	inbox, err := s.notifications.List(c.Request.Context(), principal(c), c.Query("unread") == "true", intQuery(c, "limit", 50))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if inbox.Items == nil {
		inbox.Items = []models.Notification{}
	}
	c.JSON(http.StatusOK, inbox)
}

func (s *Server) readNotification(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	if err := s.notifications.MarkRead(c.Request.Context(), principal(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) readAllNotifications(c *gin.Context) {
	n, err := s.notifications.MarkAllRead(c.Request.Context(), principal(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
