package execute

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"

	"github.com/gateql/gateql/dburl"
)

// TokenSource produces short-lived database credentials. The token is
// spliced into the connection string as the password when the pool opens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed password.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// IAMTokens mints RDS IAM authentication tokens for the user and endpoint
// of a database URL using the ambient AWS credential chain.
type IAMTokens struct {
	creds    aws.CredentialsProvider
	region   string
	endpoint string
	user     string
}

// NewIAMTokens builds a token source for a database URL. Local databases
// have no IAM control plane, so localhost URLs are refused outright
// rather than failing at connect time with an opaque auth error.
func NewIAMTokens(ctx context.Context, dbURL string) (*IAMTokens, error) {
	if dburl.IsLocalhost(dbURL) {
		return nil, fmt.Errorf("IAM database tokens are not available for localhost URLs")
	}
	user := dburl.Username(dbURL)
	if user == "" {
		return nil, fmt.Errorf("IAM database tokens require a username in the database URL")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return &IAMTokens{
		creds:    cfg.Credentials,
		region:   cfg.Region,
		endpoint: dburl.Endpoint(dbURL),
		user:     user,
	}, nil
}

func (t *IAMTokens) Token(ctx context.Context) (string, error) {
	token, err := auth.BuildAuthToken(ctx, t.endpoint, t.region, t.user, t.creds)
	if err != nil {
		return "", fmt.Errorf("building RDS auth token: %w", err)
	}
	return token, nil
}
