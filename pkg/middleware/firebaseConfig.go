package middleware

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// FirebaseVerifier checks Firebase ID tokens, so the local view server
// accepts the same sign-in the portal front end already holds.
type FirebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (f *FirebaseVerifier) Verify(ctx context.Context, idToken string) (string, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return token.UID, nil
}
