package idtoken

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseVerifier validates ID tokens against the Firebase Admin SDK. This
// is the production verifier; it checks signature, issuer, audience and
// expiry against Google's published keys.
type FirebaseVerifier struct {
	client *fbauth.Client
}

var _ Verifier = (*FirebaseVerifier)(nil)

// NewFirebaseVerifier initializes the Admin SDK from a service-account
// credentials file. An empty path falls back to application-default
// credentials.
func NewFirebaseVerifier(ctx context.Context, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("idtoken: init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("idtoken: init firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify checks the token with the Admin SDK and maps its claims.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	tok, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c := &Claims{UID: tok.UID}
	if s, ok := tok.Claims["email"].(string); ok {
		c.Email = s
	}
	if s, ok := tok.Claims["name"].(string); ok {
		c.Name = s
	}
	if s, ok := tok.Claims["picture"].(string); ok {
		c.PhotoURL = s
	}
	return c, nil
}
