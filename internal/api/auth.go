package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler handles signup and login, the only public endpoints. They
// issue the JWT every other route trusts.
type AuthHandler struct {
	userRepo       repository.UserRepository
	jwtSecret      string
	jwtTTL         time.Duration
	bootstrapAdmin string
	logger         *zap.Logger
}

func NewAuthHandler(
	userRepo repository.UserRepository,
	jwtSecret string,
	jwtTTL time.Duration,
	bootstrapAdmin string,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		userRepo:       userRepo,
		jwtSecret:      jwtSecret,
		jwtTTL:         jwtTTL,
		bootstrapAdmin: bootstrapAdmin,
		logger:         logger,
	}
}

type signupRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=8"`
	Name       string `json:"name" binding:"required"`
	Department string `json:"department"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	// DeviceToken, when present, is registered for push on this login.
	DeviceToken string `json:"device_token"`
}

// authResponse is what both signup and login return. The client sends the
// token as "Authorization: Bearer <token>" afterwards.
type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Signup handles POST /v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	existing, err := h.userRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("failed to check existing user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	role := models.RoleEmployee
	if h.bootstrapAdmin != "" && strings.EqualFold(req.Email, h.bootstrapAdmin) {
		role = models.RoleAdmin
	}

	user, err := h.userRepo.Create(c.Request.Context(), &models.User{
		Email:        req.Email,
		Name:         req.Name,
		Role:         role,
		Department:   req.Department,
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		h.logger.Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Role, user.Email, h.jwtSecret, h.jwtTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	h.logger.Info("user signed up", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	c.JSON(http.StatusCreated, authResponse{Token: token, User: user})
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	user, err := h.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		h.logger.Error("failed to find user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	// Same answer for unknown email, wrong password and deactivated
	// account, so the response does not reveal which accounts exist.
	if user == nil || !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Role, user.Email, h.jwtSecret, h.jwtTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	if err := h.userRepo.TouchLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		h.logger.Warn("failed to record login", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	if req.DeviceToken != "" {
		if err := h.userRepo.AddDeviceToken(ctx, user.ID, req.DeviceToken); err != nil {
			h.logger.Warn("failed to register device", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, authResponse{Token: token, User: user})
}
