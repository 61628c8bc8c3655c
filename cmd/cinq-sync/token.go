package main

import (
	"context"
	"os"
	"strings"

	"github.com/Whitemarmot/cinq-offline/internal/config"
)

// configTokenSource supplies the bearer token from the auth config: a
// static token when set, otherwise the token file re-read on every call
// so the external session layer can rotate it. Both unset means no token,
// which the engine treats as a recoverable per-item failure.
type configTokenSource struct {
	auth config.Auth
}

// AccessToken implements syncer.TokenSource.
func (s *configTokenSource) AccessToken(ctx context.Context) (string, error) {
	if s.auth.Token != "" {
		return s.auth.Token, nil
	}
	if s.auth.TokenFile == "" {
		return "", nil
	}

	data, err := os.ReadFile(s.auth.TokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
