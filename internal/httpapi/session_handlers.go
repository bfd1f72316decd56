package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"monetra.app/internal/audit"
	"monetra.app/internal/idtoken"
	"monetra.app/internal/profile"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "monetra_session"
)

// Wire shapes mirror the client contract: nil user means no backend record.
type subscriptionResponse struct {
	ID                   string     `json:"id"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	TrialEndsAt          *time.Time `json:"trialEndsAt,omitempty"`
	StripeCustomerID     string     `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId,omitempty"`
}

type userResponse struct {
	UID          string                `json:"uid"`
	Email        string                `json:"email"`
	Name         string                `json:"name"`
	PhotoURL     string                `json:"photoUrl"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

type sessionResponse struct {
	User *userResponse `json:"user,omitempty"`
}

type profileResponse struct {
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	claims, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	resp := sessionResponse{}
	u, err := a.store.FindUser(r.Context(), claims.UID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		// No record yet: the client treats this as a provider-only session.
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	default:
		resp.User = wireUser(u, a.subscriptionFor(r, claims.UID))
	}

	cookieID := uuid.NewString()
	a.sessMu.Lock()
	a.sessions[cookieID] = claims.UID
	a.sessMu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    cookieID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	_ = audit.LogEvent(audit.WithUser(r.Context(), claims.UID), "api.session.establish", map[string]any{
		"known_user": resp.User != nil,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	claims, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		Subscription: a.subscriptionFor(r, claims.UID),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	uid := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		a.sessMu.Lock()
		uid = a.sessions[c.Value]
		delete(a.sessions, c.Value)
		a.sessMu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	_ = audit.LogEvent(audit.WithUser(r.Context(), uid), "api.session.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

// authenticate verifies the bearer ID token, writing the error response
// itself when verification fails.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (*idtoken.Claims, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	claims, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, idtoken.ErrInvalidToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
		} else {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
		}
		return nil, false
	}
	return claims, true
}

// subscriptionFor loads the wire subscription, mapping absence to nil.
func (a *API) subscriptionFor(r *http.Request, uid string) *subscriptionResponse {
	sub, err := a.store.SubscriptionFor(r.Context(), uid)
	if err != nil {
		return nil
	}
	return wireSubscription(sub)
}

func wireUser(u profile.User, sub *subscriptionResponse) *userResponse {
	return &userResponse{
		UID:          u.UID,
		Email:        u.Email,
		Name:         u.Name,
		PhotoURL:     u.PhotoURL,
		Subscription: sub,
	}
}

func wireSubscription(sub profile.Subscription) *subscriptionResponse {
	out := &subscriptionResponse{
		ID:                   sub.ID,
		Plan:                 sub.Plan,
		Status:               sub.Status,
		StripeCustomerID:     sub.StripeCustomerID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
	}
	if !sub.ExpiresAt.IsZero() {
		t := sub.ExpiresAt
		out.ExpiresAt = &t
	}
	if !sub.TrialEndsAt.IsZero() {
		t := sub.TrialEndsAt
		out.TrialEndsAt = &t
	}
	return out
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
