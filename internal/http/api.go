package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"account-server/internal/domain"
	"account-server/internal/oauth"
	"account-server/internal/repository"
	"account-server/internal/service"
	"account-server/internal/token"
)

const (
	ctxUserIDKey      = "userID"
	stateCookieName   = "oauth_state"
	stateCookieMaxAge = int(10 * time.Minute / time.Second)
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users     service.UserService
	linker    *oauth.Linker
	providers map[domain.Provider]*oauth.Provider
	issuer    *token.Issuer
	baseURL   string
	logger    *logrus.Logger
}

func NewHandler(users service.UserService, linker *oauth.Linker, providers map[domain.Provider]*oauth.Provider, issuer *token.Issuer, baseURL string, logger *logrus.Logger) *Handler {
	return &Handler{
		users:     users,
		linker:    linker,
		providers: providers,
		issuer:    issuer,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	auth := router.Group("/auth")
	{
		auth.POST("/local", h.loginLocal)
		auth.GET("/:provider", h.oauthRedirect)
		auth.GET("/:provider/callback", h.oauthCallback)
	}

	api := router.Group("/api")
	{
		api.POST("/users", h.createUser)
		api.GET("/users/me", h.authenticated(), h.me)
		api.GET("/users", h.authenticated(), h.requireAdmin(), h.listUsers)
		api.GET("/users/:id", h.authenticated(), h.showUser)
		api.PUT("/users/:id/password", h.authenticated(), h.changePassword)
		api.DELETE("/users/:id", h.authenticated(), h.requireAdmin(), h.deleteUser)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authenticated verifies the bearer token and stashes the subject user
// id on the context. The token travels in the Authorization header, or
// in an access_token query parameter for redirect-based flows.
func (h *Handler) authenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		userID, err := h.issuer.Verify(raw)
		if err != nil {
			// Expired and forged tokens both end in 401, but are worth
			// telling apart in the logs.
			switch {
			case errors.Is(err, token.ErrExpired):
				h.logger.Debugf("rejected expired token for %s", c.FullPath())
			case errors.Is(err, token.ErrInvalidSignature):
				h.logger.Warnf("rejected token with bad signature for %s", c.FullPath())
			default:
				h.logger.Debugf("rejected malformed token for %s", c.FullPath())
			}
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

// requireAdmin resolves the caller from the store and enforces the
// admin role. The role is read from the record, never from the token.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.users.GetByID(c.Request.Context(), c.GetString(ctxUserIDKey))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			h.logger.Errorf("resolve caller: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !user.Role.AtLeast(domain.RoleAdmin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("access_token")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginLocal exchanges email/password for a token. Unknown email and
// wrong password are indistinguishable to the caller.
func (h *Handler) loginLocal(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Errorf("local login: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.respondWithToken(c, user.ID)
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// createUser registers a local account and logs it straight in.
func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{verr.Field: verr.Message})
			return
		}
		h.logger.Errorf("register user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.respondWithToken(c, user.ID)
}

func (h *Handler) respondWithToken(c *gin.Context, userID string) {
	signed, err := h.issuer.Issue(userID)
	if err != nil {
		h.logger.Errorf("issue token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed})
}

// me returns the caller's own sanitized record.
func (h *Handler) me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), c.GetString(ctxUserIDKey))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		h.logger.Errorf("get current user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

// showUser returns the public profile projection. Available to the user
// themselves and to admins.
func (h *Handler) showUser(c *gin.Context) {
	targetID := c.Param("id")
	if targetID != c.GetString(ctxUserIDKey) && !h.callerIsAdmin(c) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		h.logger.Errorf("get user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, user.Profile())
}

func (h *Handler) callerIsAdmin(c *gin.Context) bool {
	caller, err := h.users.GetByID(c.Request.Context(), c.GetString(ctxUserIDKey))
	if err != nil {
		return false
	}
	return caller.Role.AtLeast(domain.RoleAdmin)
}

// listUsers returns every user, sanitized. Admin only.
func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Errorf("list users: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(&users[i])
	}
	c.JSON(http.StatusOK, resp)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// changePassword lets a user rotate their own password. The old
// password must verify before anything is written.
func (h *Handler) changePassword(c *gin.Context) {
	if c.Param("id") != c.GetString(ctxUserIDKey) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.users.ChangePassword(c.Request.Context(), c.GetString(ctxUserIDKey), req.OldPassword, req.NewPassword)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, service.ErrIncorrectPassword):
		c.AbortWithStatus(http.StatusForbidden)
	case errors.Is(err, service.ErrInvalidPassword):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"password": "Invalid password"})
	case errors.Is(err, repository.ErrNotFound):
		c.AbortWithStatus(http.StatusUnauthorized)
	default:
		h.logger.Errorf("change password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// deleteUser removes an account. Admin only.
func (h *Handler) deleteUser(c *gin.Context) {
	err := h.users.Remove(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		h.logger.Errorf("delete user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// oauthRedirect sends the user to the provider's consent page with a
// state nonce pinned in a short-lived cookie.
func (h *Handler) oauthRedirect(c *gin.Context) {
	provider, ok := h.providers[domain.Provider(c.Param("provider"))]
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	state := uuid.NewString()
	c.SetCookie(stateCookieName, state, stateCookieMaxAge, "/", "", false, true)
	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// oauthCallback finishes the provider flow: validates state, exchanges
// the code, resolves the identity to a local user, and redirects back
// to the app with a token attached. Any failure redirects to the login
// page with an error marker instead of surfacing details.
func (h *Handler) oauthCallback(c *gin.Context) {
	provider, ok := h.providers[domain.Provider(c.Param("provider"))]
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	fail := func(reason string, err error) {
		h.logger.Warnf("%s callback %s: %v", provider.Name, reason, err)
		c.Redirect(http.StatusFound, h.baseURL+"/login?error="+url.QueryEscape(reason))
	}

	expected, err := c.Cookie(stateCookieName)
	if err != nil || expected == "" || c.Query("state") != expected {
		fail("state_mismatch", err)
		return
	}
	c.SetCookie(stateCookieName, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		fail("missing_code", nil)
		return
	}

	tok, err := provider.Exchange(c.Request.Context(), code)
	if err != nil {
		fail("exchange_failed", err)
		return
	}

	profile, err := provider.FetchProfile(c.Request.Context(), tok)
	if err != nil {
		fail("profile_failed", err)
		return
	}

	user, err := h.linker.ResolveOrCreate(c.Request.Context(), provider.Name, profile)
	if err != nil {
		fail("link_failed", err)
		return
	}

	signed, err := h.issuer.Issue(user.ID)
	if err != nil {
		fail("token_failed", err)
		return
	}

	c.Redirect(http.StatusFound, h.baseURL+"/?token="+url.QueryEscape(signed))
}

// UserResponse is the sanitized user shape returned to authenticated
// callers. Credential material never appears here.
type UserResponse struct {
	ID        string          `json:"_id"`
	Name      string          `json:"name"`
	Email     string          `json:"email,omitempty"`
	Role      domain.Role     `json:"role"`
	Provider  domain.Provider `json:"provider"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		Provider:  user.Provider,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}
