package models

// SessionRequest for sign in.
type SessionRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// SessionResponse from POST /auth/session.
type SessionResponse struct {
	Token string `json:"token"`
}
