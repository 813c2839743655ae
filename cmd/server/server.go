package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AnZomorodian/Globallink2/internal/cid"
	"github.com/AnZomorodian/Globallink2/internal/config"
	"github.com/AnZomorodian/Globallink2/internal/registry"
	"github.com/AnZomorodian/Globallink2/internal/signaling"
	"github.com/AnZomorodian/Globallink2/internal/store"
	"github.com/AnZomorodian/Globallink2/internal/types"
	"github.com/AnZomorodian/Globallink2/pkg/logger"
)

// Server owns the HTTP surface and the per-connection lifecycle around the
// signaling router.
type Server struct {
	cfg      config.Config
	log      *logrus.Logger
	storage  store.Storage
	registry *registry.Registry
	presence *signaling.Broadcaster
	router   *signaling.Router
	gin      *gin.Engine
}

// NewServer wires registry, presence broadcaster and router over storage and
// registers all routes.
func NewServer(cfg config.Config, log *logrus.Logger, storage store.Storage) *Server {
	reg := registry.New()
	presence := signaling.NewBroadcaster(reg, log)

	s := &Server{
		cfg:      cfg,
		log:      log,
		storage:  storage,
		registry: reg,
		presence: presence,
		router:   signaling.NewRouter(reg, storage, presence, log),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(s.otelMiddleware())

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	{
		api.POST("/auth/register", s.handleRegister)
		api.POST("/auth/signup", s.handleSignup)
		api.POST("/auth/login", s.handleLogin)
		api.GET("/users/voice/:voiceId", s.handleUserByVoiceID)
		api.GET("/users/online", s.handleOnlineUsers)
		api.PATCH("/users/:userId", s.handleUpdateUser)
		api.GET("/calls/history/:userId", s.handleCallHistory)
		api.GET("/stats", s.handleStats)
	}

	s.gin = r
	return s
}

// Handler exposes the HTTP handler for the net/http server and for tests.
func (s *Server) Handler() http.Handler { return s.gin }

func (s *Server) otelMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("globalink/server")
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			))
		if id := cid.CIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String(cid.AttributeName, id))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		span.End()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "globalink-relay"})
}

type registerRequest struct {
	Username        string `json:"username" binding:"required,min=3"`
	DisplayName     string `json:"displayName" binding:"required,min=2"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
	PhoneNumber     string `json:"phoneNumber"`
	CountryCode     string `json:"countryCode"`
	CompanyName     string `json:"companyName"`
	JobTitle        string `json:"jobTitle"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	BirthDate       string `json:"birthDate"`
	Bio             string `json:"bio"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid input data"})
		return
	}
	if req.Password != req.ConfirmPassword {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Passwords don't match"})
		return
	}
	s.createUser(c, store.NewUser{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		CountryCode: req.CountryCode,
		CompanyName: req.CompanyName,
		JobTitle:    req.JobTitle,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		BirthDate:   req.BirthDate,
		Bio:         req.Bio,
	})
}

type signupRequest struct {
	Username    string `json:"username" binding:"required,min=3"`
	DisplayName string `json:"displayName" binding:"required,min=2"`
}

// handleSignup is the simplified account creation path the browser client
// uses: username plus display name, everything else defaulted.
func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid input data"})
		return
	}
	s.createUser(c, store.NewUser{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Username + "@globalink.local",
		Password:    "default",
	})
}

func (s *Server) createUser(c *gin.Context, nu store.NewUser) {
	user, err := s.storage.CreateUser(c.Request.Context(), nu)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username already exists"})
	case errors.Is(err, store.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Email already exists"})
	case err != nil:
		s.serverError(c, err, "create user")
	default:
		c.JSON(http.StatusOK, user)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username is required"})
		return
	}
	user, err := s.storage.GetUserByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, store.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "User not found. Please sign up first."})
		return
	}
	if err != nil {
		s.serverError(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleUserByVoiceID(c *gin.Context) {
	user, err := s.storage.GetUserByVoiceID(c.Request.Context(), c.Param("voiceId"))
	if errors.Is(err, store.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return
	}
	if err != nil {
		s.serverError(c, err, "voice lookup")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleOnlineUsers(c *gin.Context) {
	users, err := s.storage.OnlineUsers(c.Request.Context())
	if err != nil {
		s.serverError(c, err, "online users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) handleUpdateUser(c *gin.Context) {
	var upd types.UserUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid input data"})
		return
	}
	user, err := s.storage.UpdateUser(c.Request.Context(), c.Param("userId"), upd)
	if errors.Is(err, store.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return
	}
	if err != nil {
		s.serverError(c, err, "update user")
		return
	}
	c.JSON(http.StatusOK, user)
}

// handleCallHistory returns the user's calls newest first, with both
// parties' directory entries attached the way the client expects.
func (s *Server) handleCallHistory(c *gin.Context) {
	ctx := c.Request.Context()
	calls, err := s.storage.CallHistory(ctx, c.Param("userId"))
	if err != nil {
		s.serverError(c, err, "call history")
		return
	}
	out := make([]types.CallWithUsers, 0, len(calls))
	for _, call := range calls {
		row := types.CallWithUsers{Call: call}
		if u, err := s.storage.GetUser(ctx, call.CallerID); err == nil {
			row.CallerInfo = &u
		}
		if u, err := s.storage.GetUser(ctx, call.RecipientID); err == nil {
			row.RecipientInfo = &u
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	users, calls, active, err := s.storage.Counts(ctx)
	if err != nil {
		s.serverError(c, err, "stats")
		return
	}
	online, err := s.storage.OnlineUsers(ctx)
	if err != nil {
		s.serverError(c, err, "stats")
		return
	}
	c.JSON(http.StatusOK, types.ServerStats{
		ConnectedClients: s.registry.Len(),
		OnlineUsers:      len(online),
		TotalUsers:       users,
		TotalCalls:       calls,
		ActiveCalls:      active,
	})
}

func (s *Server) serverError(c *gin.Context, err error, op string) {
	s.log.WithFields(logrus.Fields{"op": op, "error": err}).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}
