package config

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// SetupFirebase initializes the Firebase app used to verify ID tokens. An
// empty credentialsFile falls back to application default credentials.
func SetupFirebase(ctx context.Context, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return firebase.NewApp(ctx, nil, opts...)
}
