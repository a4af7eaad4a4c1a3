package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"houseparty-server/metrics"
	"houseparty-server/middleware"
	"houseparty-server/services"
)

type RouterDeps struct {
	Auth    *services.AuthService
	Tokens  *services.TokenService
	Users   *services.UserService
	Friends *services.FriendService
	Parties *services.PartyService
	Video   *services.VideoTokenIssuer

	// Realtime serves /ws. Nil leaves the route out.
	Realtime http.Handler
	Ping     Pinger
	// AuthLimiter throttles the public auth routes. Nil disables it.
	AuthLimiter *middleware.RateLimiter

	AllowedOrigins []string
	Production     bool
}

func NewRouter(d RouterDeps) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = middleware.NotFound()

	r.Use(middleware.RequestLogger)
	r.Use(middleware.ErrorMiddleware(d.Production))
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.CORSMiddleware(d.AllowedOrigins))

	r.HandleFunc("/health", Health(d.Ping)).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	if d.Realtime != nil {
		r.Handle("/ws", d.Realtime).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	requireAuth := middleware.JWTMiddleware(d.Tokens)

	authHandler := NewAuthHandler(d.Auth)
	public := api.PathPrefix("/auth").Subrouter()
	if d.AuthLimiter != nil {
		public.Use(d.AuthLimiter.Middleware)
	}
	public.HandleFunc("/register", authHandler.Register).Methods("POST", "OPTIONS")
	public.HandleFunc("/verify-email", authHandler.VerifyEmail).Methods("POST", "OPTIONS")
	public.HandleFunc("/resend-otp", authHandler.ResendOTP).Methods("POST", "OPTIONS")
	public.HandleFunc("/login", authHandler.Login).Methods("POST", "OPTIONS")
	public.HandleFunc("/refresh-token", authHandler.RefreshToken).Methods("POST", "OPTIONS")
	public.HandleFunc("/forgot-password", authHandler.ForgotPassword).Methods("POST", "OPTIONS")
	public.HandleFunc("/reset-password", authHandler.ResetPassword).Methods("POST", "OPTIONS")

	account := api.PathPrefix("/auth").Subrouter()
	account.Use(requireAuth)
	account.HandleFunc("/me", authHandler.Me).Methods("GET", "OPTIONS")
	account.HandleFunc("/change-password", authHandler.ChangePassword).Methods("POST", "OPTIONS")

	userHandler := NewUserHandler(d.Users)
	users := api.PathPrefix("/users").Subrouter()
	users.Use(requireAuth)
	users.HandleFunc("/profile", userHandler.GetProfile).Methods("GET", "OPTIONS")
	users.HandleFunc("/profile", userHandler.UpdateProfile).Methods("PUT")
	users.HandleFunc("/settings", userHandler.UpdateSettings).Methods("PUT", "OPTIONS")
	users.HandleFunc("/fcm-token", userHandler.RegisterDeviceToken).Methods("POST", "OPTIONS")
	users.HandleFunc("/fcm-token", userHandler.RemoveDeviceToken).Methods("DELETE")
	users.HandleFunc("/friends/in-house", userHandler.FriendsInHouse).Methods("GET", "OPTIONS")

	friendHandler := NewFriendHandler(d.Friends)
	friends := api.PathPrefix("/friends").Subrouter()
	friends.Use(requireAuth)
	friends.HandleFunc("", friendHandler.List).Methods("GET", "OPTIONS")
	friends.HandleFunc("/requests", friendHandler.Requests).Methods("GET", "OPTIONS")
	friends.HandleFunc("/request", friendHandler.SendRequest).Methods("POST", "OPTIONS")
	friends.HandleFunc("/respond", friendHandler.Respond).Methods("POST", "OPTIONS")
	friends.HandleFunc("/search", friendHandler.Search).Methods("GET", "OPTIONS")
	friends.HandleFunc("/{id}", friendHandler.Remove).Methods("DELETE", "OPTIONS")

	partyHandler := NewPartyHandler(d.Parties)
	parties := api.PathPrefix("/parties").Subrouter()
	parties.Use(requireAuth)
	parties.HandleFunc("", partyHandler.List).Methods("GET", "OPTIONS")
	parties.HandleFunc("", partyHandler.Create).Methods("POST")
	parties.HandleFunc("/invitations", partyHandler.Invitations).Methods("GET", "OPTIONS")
	parties.HandleFunc("/invitations/{id}/respond", partyHandler.RespondToInvitation).Methods("POST", "OPTIONS")
	parties.HandleFunc("/{id}", partyHandler.Get).Methods("GET", "OPTIONS")
	parties.HandleFunc("/{id}/join", partyHandler.Join).Methods("POST", "OPTIONS")
	parties.HandleFunc("/{id}/leave", partyHandler.Leave).Methods("POST", "OPTIONS")
	parties.HandleFunc("/{id}/invite", partyHandler.Invite).Methods("POST", "OPTIONS")

	videoHandler := NewVideoHandler(d.Video)
	video := api.PathPrefix("/video").Subrouter()
	video.Use(requireAuth)
	video.HandleFunc("/token", videoHandler.Token).Methods("POST", "OPTIONS")

	return r
}
