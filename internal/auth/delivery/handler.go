package delivery

import (
	"errors"
	"net/http"
	"strings"

	authdomain "mailsync-backend/internal/auth/domain"
	authdto "mailsync-backend/internal/auth/dto"
	"mailsync-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AuthHandler struct {
	authUsecase usecase.AuthUsecase
}

func NewAuthHandler(authUsecase usecase.AuthUsecase) *AuthHandler {
	return &AuthHandler{
		authUsecase: authUsecase,
	}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req authdto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.authUsecase.Login(&req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req authdto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.authUsecase.Register(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req authdto.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.authUsecase.RefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req authdto.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.authUsecase.Logout(req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// GoogleAuthURL returns the consent URL. The frontend keeps the state and
// checks it when Google redirects back.
func (h *AuthHandler) GoogleAuthURL(c *gin.Context) {
	state := uuid.New().String()
	c.JSON(http.StatusOK, authdto.GoogleAuthURLResponse{
		URL:   h.authUsecase.GoogleAuthURL(state),
		State: state,
	})
}

// GoogleCallback signs in with Google, or links Google to the caller when a
// valid bearer token is sent along.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	var req authdto.GoogleCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currentUserID := ""
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if user, err := h.authUsecase.ValidateToken(strings.TrimPrefix(header, "Bearer ")); err == nil {
			currentUserID = user.ID
		}
	}

	resp, err := h.authUsecase.GoogleCallback(c.Request.Context(), req.Code, currentUserID)
	if err != nil {
		var refreshErr *authdomain.TokenRefreshError
		if errors.As(err, &refreshErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "google rejected the authorization code"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.authUsecase.ListAccounts(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]authdto.AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, authdto.AccountResponse{
			ID:        a.ID,
			Provider:  a.Provider,
			Email:     a.Email,
			ExpiresAt: a.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": resp})
}

func (h *AuthHandler) UnlinkAccount(c *gin.Context) {
	err := h.authUsecase.UnlinkAccount(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "account unlinked"})
	case errors.Is(err, authdomain.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, authdomain.ErrLastSignInMethod):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *AuthHandler) RegisterFCMToken(c *gin.Context) {
	var req authdto.FCMTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.authUsecase.RegisterDevice(c.Request.Context(), c.GetString("userID"), req.Token, req.DeviceInfo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "token registered"})
}

func (h *AuthHandler) UnregisterFCMToken(c *gin.Context) {
	if err := h.authUsecase.UnregisterDevice(c.Request.Context(), c.Param("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "token removed"})
}
