package dia

import (
	"context"
	"sync"
)

// Session holds the signed-in user and keeps the client's bearer token
// in step with it.
type Session struct {
	client *Client

	mu    sync.RWMutex
	user  *User
	token string
}

// NewSession returns a signed-out session bound to c.
func NewSession(c *Client) *Session {
	return &Session{client: c}
}

// SignIn records the user and token and attaches the token to every
// subsequent request.
func (s *Session) SignIn(user User, token string) {
	s.mu.Lock()
	s.user = &user
	s.token = token
	s.mu.Unlock()
	s.client.SetAuthToken(token)
}

// SignOut forgets the user and removes the Authorization header.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.mu.Unlock()
	s.client.SetAuthToken("")
}

// Authenticated reports whether a token is held.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// User returns the signed-in user, if any.
func (s *Session) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Token returns the bearer token of the signed-in user, or "" when
// signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Login authenticates through the client and signs in with the result.
// Offline logins sign in as the substitute user.
func (s *Session) Login(ctx context.Context, username, password string) Envelope[AuthData] {
	env := s.client.Login(ctx, username, password)
	if env.Data.Token != "" {
		name := env.Data.Username
		if name == "" {
			name = username
		}
		s.SignIn(User{ID: env.Data.UserID, Username: name, RiskProfile: env.Data.RiskProfile}, env.Data.Token)
	}
	return env
}

// Register creates an account and signs in when the answer carries a
// token. The live backend does not issue one on registration, so a
// separate Login follows in that case.
func (s *Session) Register(ctx context.Context, username, password string, risk RiskProfile) Envelope[AuthData] {
	env := s.client.Register(ctx, username, password, risk)
	if env.Data.Token != "" {
		s.SignIn(User{ID: env.Data.UserID, Username: username, RiskProfile: risk}, env.Data.Token)
	}
	return env
}
