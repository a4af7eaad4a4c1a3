package handlers

import (
	"net/http"

	"houseparty-server/middleware"
	"houseparty-server/models"
	"houseparty-server/services"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	user, err := h.auth.Register(r.Context(), services.RegisterInput{
		Username: input.Username,
		Email:    input.Email,
		Phone:    input.Phone,
		Password: input.Password,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		"message": "User registered successfully. Please verify your email.",
		"user":    user.Public(),
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	user, pair, err := h.auth.VerifyEmail(r.Context(), input.Email, input.OTP)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"message":      "Email verified successfully",
		"user":         user.Public(),
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string            `json:"email"`
		Type  models.OTPPurpose `json:"type"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.auth.ResendOTP(r.Context(), input.Email, input.Type); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "OTP sent successfully"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	user, pair, err := h.auth.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"message":      "Login successful",
		"user":         user.Public(),
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var input struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), input.RefreshToken)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), input.Email); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "If an account exists for this email, a reset code has been sent"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email       string `json:"email"`
		OTP         string `json:"otp"`
		NewPassword string `json:"newPassword"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), input.Email, input.OTP, input.NewPassword); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "Password reset successfully"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.auth.Me(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"user": user.Public()})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), userID, input.CurrentPassword, input.NewPassword); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "Password changed successfully"})
}
