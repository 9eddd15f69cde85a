package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chmsapp/models"
	"chmsapp/pkg/token"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// server bundles the handler dependencies; one instance per process.
type server struct {
	cfg      *Config
	log      *zap.Logger
	db       *gorm.DB
	store    UserStore
	users    *UserService
	accounts *AccountService
}

func newServer(cfg *Config, log *zap.Logger, db *gorm.DB, store UserStore, users *UserService, accounts *AccountService) *server {
	return &server{cfg: cfg, log: log, db: db, store: store, users: users, accounts: accounts}
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.GET("/healthz", s.healthHandler)
	r.POST("/login", s.loginHandler)
	r.POST("/user/forgotPassword", s.forgotPasswordHandler)
	r.PUT("/user/resetPassword", s.resetPasswordHandler)

	api := r.Group("/api")
	api.Use(s.jwtAuthMiddleware())
	api.GET("/users", s.listUsersHandler)
	api.GET("/users/:id", s.getUserHandler)
	api.POST("/users", s.createUserHandler)
	api.PUT("/users", s.updateUserHandler)
	api.DELETE("/users/:id", s.deleteUserHandler)
	api.PUT("/users/avatar", s.avatarHandler)
}

// bearerToken extracts the Bearer value of the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if len(h) < 8 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	return h[7:], true
}

func (s *server) jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return []byte(s.cfg.JWT.Secret), nil
		})
		if err != nil || !parsed.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		if use, _ := claims["token_use"].(string); use != "session" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		username, _ := claims["username"].(string)
		c.Set("username", username)
		c.Next()
	}
}

func (s *server) healthHandler(c *gin.Context) {
	n, err := s.store.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "users": n})
}

func (s *server) loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := authenticate(c.Request.Context(), s.store, req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tok, err := issueSessionToken(user, []byte(s.cfg.JWT.Secret), s.cfg.JWT.SessionTTL.Std())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tok})
}

func (s *server) forgotPasswordHandler(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := s.accounts.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, token.ErrSigning):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue reset token"})
		default:
			s.log.Error("forgot password failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// resetPasswordHandler consumes the reset token from the Authorization
// header, not a session token.
func (s *server) resetPasswordHandler(c *gin.Context) {
	raw, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
		return
	}
	var req struct {
		NewPassword string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := s.accounts.ResetPassword(c.Request.Context(), raw, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
		case errors.Is(err, token.ErrInvalidToken):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		case errors.Is(err, ErrUpdateFailed):
			c.JSON(http.StatusNotFound, gin.H{"error": "password not updated"})
		case errors.Is(err, ErrPasswordPolicy):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.log.Error("reset password failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *server) listUsersHandler(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := s.users.List(c.Request.Context(), skip, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) getUserHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	item, err := s.users.Get(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *server) createUserHandler(c *gin.Context) {
	var req struct {
		ContactID uint     `json:"contactId" binding:"required"`
		Password  string   `json:"password" binding:"required"`
		Roles     []string `json:"roles"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.users.CreateForContact(c.Request.Context(), req.ContactID, req.Password, req.Roles)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, ErrPasswordPolicy):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username})
}

func (s *server) updateUserHandler(c *gin.Context) {
	var req struct {
		ID       uint     `json:"id" binding:"required"`
		Roles    []string `json:"roles"`
		Password string   `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := s.users.Update(c.Request.Context(), UpdateUserInput{ID: req.ID, Roles: req.Roles, Password: req.Password})
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, ErrPasswordPolicy):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		}
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *server) deleteUserHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.users.Remove(c.Request.Context(), uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

// avatarHandler stores a resized avatar for the authenticated user's contact.
func (s *server) avatarHandler(c *gin.Context) {
	usernameVal, _ := c.Get("username")
	username, _ := usernameVal.(string)
	user, err := s.store.FindByUsername(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if file.Size > 5*1024*1024 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 5MB)"})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer src.Close()
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not an image"})
		return
	}
	thumb := imaging.Fit(img, 256, 256, imaging.Lanczos)

	relPath := filepath.Join("avatars", fmt.Sprintf("%d.jpg", user.ContactID))
	fullPath := filepath.Join(s.cfg.UploadBase, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mkdir failed"})
		return
	}
	if err := imaging.Save(thumb, fullPath, imaging.JPEGQuality(85)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	if err := s.db.WithContext(c.Request.Context()).
		Model(&models.Contact{}).Where("id = ?", user.ContactID).
		Update("avatar", filepath.ToSlash(relPath)).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar": filepath.ToSlash(relPath)})
}
