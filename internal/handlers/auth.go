package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/planforge/planforge-backend/internal/services"
)

type AuthHandler struct {
  authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
  return &AuthHandler{authService: authService}
}

type registerRequest struct {
  Email    string `json:"email"`
  Password string `json:"password"`
  Name     string `json:"name"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
  var req registerRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }
  user, err := h.authService.RegisterUser(c.Request.Context(), req.Email, req.Password, req.Name)
  if err != nil {
    RespondError(c, http.StatusBadRequest, "registration_failed", err)
    return
  }
  c.JSON(http.StatusCreated, gin.H{"user": user})
}

type loginRequest struct {
  Email    string `json:"email"`
  Password string `json:"password"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
  var req loginRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }
  token, err := h.authService.LoginUser(c.Request.Context(), req.Email, req.Password)
  if err != nil {
    RespondError(c, http.StatusUnauthorized, "login_failed", err)
    return
  }
  RespondOK(c, gin.H{
    "access_token": token,
    "expires_in":   int(h.authService.GetAccessTTL().Seconds()),
  })
}
