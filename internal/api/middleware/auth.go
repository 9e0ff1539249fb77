package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusprint/printdesk/internal/db"
)

const (
	cookieName           = "printdesk_auth"
	settingsKeyJWTSecret = "jwt_secret"
	issuer               = "printdesk"

	ContextUserID = "user_id"
	ContextRole   = "role"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *db.User) error
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	CountByRole(ctx context.Context, role string) (int64, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (*db.Setting, error)
	SetSetting(ctx context.Context, key, value string, encrypted bool) error
}

type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *db.AuditLog) error
}

type AuthConfig struct {
	// Secret signs tokens. When empty a random secret is kept in settings.
	Secret        string
	TokenDuration time.Duration
	SecureCookie  bool
}

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type AuthMiddleware struct {
	users         UserStore
	audit         AuditRecorder
	secret        []byte
	tokenDuration time.Duration
	secureCookie  bool
	log           zerolog.Logger
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Token   string   `json:"token,omitempty"`
	User    *db.User `json:"user,omitempty"`
}

type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	SetupRequired bool   `json:"setup_required"`
	UserID        string `json:"user_id,omitempty"`
	Role          string `json:"role,omitempty"`
}

func NewAuthMiddleware(ctx context.Context, users UserStore, settings SettingsStore, audit AuditRecorder, cfg AuthConfig, logger zerolog.Logger) (*AuthMiddleware, error) {
	if cfg.TokenDuration <= 0 {
		cfg.TokenDuration = 24 * time.Hour
	}

	a := &AuthMiddleware{
		users:         users,
		audit:         audit,
		tokenDuration: cfg.TokenDuration,
		secureCookie:  cfg.SecureCookie,
		log:           logger.With().Str("component", "auth").Logger(),
	}

	if cfg.Secret != "" {
		a.secret = []byte(cfg.Secret)
		return a, nil
	}

	secret, err := getOrCreateSecret(ctx, settings)
	if err != nil {
		return nil, err
	}
	a.secret = secret
	return a, nil
}

func getOrCreateSecret(ctx context.Context, settings SettingsStore) ([]byte, error) {
	setting, err := settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
			}
			if err := settings.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(secret), false); err != nil {
				return nil, err
			}
			return secret, nil
		}
		return nil, err
	}
	return hex.DecodeString(setting.Value)
}

func (a *AuthMiddleware) isSetupRequired(ctx context.Context) bool {
	n, err := a.users.CountByRole(ctx, db.RoleAdmin)
	return err == nil && n == 0
}

func (a *AuthMiddleware) GenerateToken(userID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenDuration)),
			Issuer:    issuer,
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

func (a *AuthMiddleware) setAuthCookie(c *gin.Context, token string) {
	c.SetCookie(cookieName, token, int(a.tokenDuration.Seconds()), "/", "", a.secureCookie, true)
}

func (a *AuthMiddleware) clearAuthCookie(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", a.secureCookie, true)
}

func (a *AuthMiddleware) createUser(c *gin.Context, req RegisterRequest, role string) (*db.User, bool) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return nil, false
	}

	user := &db.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hashedPassword),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	if err := a.users.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, db.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return nil, false
		}
		a.log.Error().Err(err).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return nil, false
	}
	return user, true
}

// recordAudit is best effort; the account already exists when it runs.
func (a *AuthMiddleware) recordAudit(c *gin.Context, action string, user *db.User) {
	details, _ := json.Marshal(map[string]string{"email": user.Email, "role": user.Role})
	entry := &db.AuditLog{
		Action:      action,
		EntityType:  "user",
		EntityID:    user.ID,
		DetailsJSON: string(details),
		IPAddress:   c.ClientIP(),
	}
	if err := a.audit.CreateAuditLog(c.Request.Context(), entry); err != nil {
		a.log.Warn().Err(err).Str("action", action).Str("user_id", user.ID).Msg("failed to record audit log")
	}
}

func (a *AuthMiddleware) issue(c *gin.Context, status int, user *db.User, message string) {
	token, err := a.GenerateToken(user.ID, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	a.setAuthCookie(c, token)
	c.JSON(status, LoginResponse{Success: true, Message: message, Token: token, User: user})
}

func (a *AuthMiddleware) RegisterHandler(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request, name, email and a 6+ character password are required"})
		return
	}

	user, ok := a.createUser(c, req, db.RoleUser)
	if !ok {
		return
	}

	a.log.Info().Str("user_id", user.ID).Msg("user registered")
	a.recordAudit(c, "user.registered", user)
	a.issue(c, http.StatusCreated, user, "Registered")
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Success: false, Message: "Invalid request"})
		return
	}

	user, err := a.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, LoginResponse{Success: false, Message: "Invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, LoginResponse{Success: false, Message: "Server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, LoginResponse{Success: false, Message: "Invalid email or password"})
		return
	}

	a.issue(c, http.StatusOK, user, "")
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	a.clearAuthCookie(c)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: "Logged out"})
}

func (a *AuthMiddleware) StatusHandler(c *gin.Context) {
	ctx := c.Request.Context()
	token := a.getTokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusOK, StatusResponse{Authenticated: false, SetupRequired: a.isSetupRequired(ctx)})
		return
	}

	claims, err := a.validateToken(token)
	if err != nil {
		c.JSON(http.StatusOK, StatusResponse{Authenticated: false, SetupRequired: a.isSetupRequired(ctx)})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Authenticated: true,
		SetupRequired: a.isSetupRequired(ctx),
		UserID:        claims.Subject,
		Role:          claims.Role,
	})
}

// SetupHandler creates the first admin account. It is refused once any admin exists.
func (a *AuthMiddleware) SetupHandler(c *gin.Context) {
	if !a.isSetupRequired(c.Request.Context()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Setup already completed"})
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request, password must be at least 6 characters"})
		return
	}

	user, ok := a.createUser(c, req, db.RoleAdmin)
	if !ok {
		return
	}

	a.log.Info().Str("user_id", user.ID).Msg("admin account created")
	a.recordAudit(c, "admin.setup", user)
	a.issue(c, http.StatusOK, user, "Setup completed")
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := a.validateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != db.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextRole) == db.RoleAdmin
}
