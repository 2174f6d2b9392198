package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/auth"
	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/service"
	"github.com/example/prodflow/backend/internal/websocket"
)

// Deps are the collaborators of the API server. Hub is optional; without it
// /api/ws answers 503.
type Deps struct {
	Workflow      *service.WorkflowService
	Reprints      *service.ReprintService
	Users         *service.UserService
	Notifications *service.NotificationService
	Hub           *websocket.Hub
	JWTSecret     string
	Logger        *zap.Logger
}

// Server wraps the gin engine and collaborators needed to handle API requests.
type Server struct {
	Engine        *gin.Engine
	workflow      *service.WorkflowService
	reprints      *service.ReprintService
	users         *service.UserService
	notifications *service.NotificationService
	hub           *websocket.Hub
	secret        string
	log           *zap.Logger
}

// NewServer constructs a new API server and registers routes.
func NewServer(deps Deps) *Server {
	log := logging.OrNop(deps.Logger).Named("http")
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	srv := &Server{
		Engine:        router,
		workflow:      deps.Workflow,
		reprints:      deps.Reprints,
		users:         deps.Users,
		notifications: deps.Notifications,
		hub:           deps.Hub,
		secret:        deps.JWTSecret,
		log:           log,
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.Engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := s.Engine.Group("/api")
	api.POST("/auth/login", s.login)

	var accounts auth.UserLookup
	if s.users != nil {
		accounts = s.users
	}
	authed := api.Group("", auth.Middleware(s.secret, accounts))
	authed.GET("/auth/me", s.me)
	authed.GET("/ws", s.subscribe)

	authed.GET("/orders", s.listPending)
	authed.GET("/orders/:id", s.getOrder)
	authed.GET("/orders/:id/history", s.orderHistory)
	authed.POST("/orders/:id/complete", s.completeOrder)
	authed.POST("/orders/:id/return", s.returnOrder)

	authed.GET("/departments/stats", s.allStats)
	authed.GET("/departments/:department/stats", s.departmentStats)

	authed.POST("/reprints", s.createReprint)
	authed.GET("/reprints/incoming", s.incomingReprints)
	authed.GET("/reprints/outgoing", s.outgoingReprints)
	authed.PATCH("/reprints/:id/status", s.updateReprintStatus)

	authed.GET("/notifications", s.listNotifications)
	authed.POST("/notifications/read-all", s.readAllNotifications)
	authed.POST("/notifications/:id/read", s.readNotification)

	admin := authed.Group("/admin", auth.AdminOnly())
	admin.GET("/orders", s.listOrders)
	admin.POST("/orders", s.createOrder)
	admin.PUT("/orders/:id", s.updateOrder)
	admin.DELETE("/orders/:id", s.deleteOrder)
	admin.GET("/users", s.listUsers)
	admin.POST("/users", s.createUser)
	admin.PUT("/users/:id", s.updateUser)
	admin.DELETE("/users/:id", s.deleteUser)
}

// requestLogger tags a request-scoped logger with the request id, stores it in
// the request context and writes one access line per request.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		reqLog := log.With(zap.String("request_id", requestID))
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), reqLog))

		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if p, ok := auth.FromContext(c); ok {
			fields = append(fields, zap.String("user_id", p.UserID.String()))
		}
		reqLog.Info("request", fields...)
	}
}

// statusFor maps an error class to a response code.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition:
		if apperr.CodeOf(err) == apperr.CodeNoPreviousDepartment {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "kind": apperr.KindOf(err)}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = code
	}
	switch {
	case status == http.StatusInternalServerError:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body["error"] = "internal error"
	case status == http.StatusServiceUnavailable:
		s.log.Warn("store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		body["error"] = "temporarily unavailable, retry"
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindValidation})
}

func principal(c *gin.Context) auth.Principal {
	p, _ := auth.FromContext(c)
	return p
}

func (s *Server) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id", "kind": apperr.KindValidation})
		return uuid.Nil, false
	}
	return id, true
}

// departmentParam falls back to the caller's own department when raw is empty.
func departmentParam(p auth.Principal, raw string) models.Department {
	if raw == "" {
		if own, ok := p.Role.Department(); ok {
			return own
		}
	}
	return models.Department(raw)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}

func (s *Server) login(c *gin.Context) {
	var payload struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.badRequest(c, err)
		return
	}
	session, err := s.users.Login(c.Request.Context(), payload.Username, payload.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) me(c *gin.Context) {
	p := principal(c)
	c.JSON(http.StatusOK, gin.H{"id": p.UserID, "name": p.Name, "role": p.Role})
}

// subscribe upgrades to a websocket on the caller's role channel.
func (s *Server) subscribe(c *gin.Context) {
	if s.hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "live updates disabled"})
		return
	}
	p := principal(c)
	websocket.ServeWs(s.hub, c.Writer, c.Request, string(p.Role), p.UserID.String())
}
