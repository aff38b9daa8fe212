package scaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/radiusdt/campaign-scaler/internal/config"
	"github.com/radiusdt/campaign-scaler/internal/platform"
	"github.com/radiusdt/campaign-scaler/internal/storage"
)

// CredentialProvider resolves the master platform credential at the start of a run.
type CredentialProvider interface {
	Credential(ctx context.Context) (platform.Credential, error)
}

// StaticCredentials always returns the same credential.
type StaticCredentials platform.Credential

func (s StaticCredentials) Credential(ctx context.Context) (platform.Credential, error) {
	if s.AccessToken == "" {
		return platform.Credential{}, errors.New("platform access token is not configured")
	}
	return platform.Credential(s), nil
}

// RepoCredentials reads the credential from the record store on every run, so
// a rotated token is picked up without a restart. AppSecret fills in when the
// stored row has none.
type RepoCredentials struct {
	Repo      storage.CredentialRepo
	AppSecret string
}

func (r RepoCredentials) Credential(ctx context.Context) (platform.Credential, error) {
	token, secret, err := r.Repo.MasterCredential(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return platform.Credential{}, errors.New("no master platform credential is stored")
	}
	if err != nil {
		return platform.Credential{}, fmt.Errorf("failed to resolve platform credential: %w", err)
	}
	if secret == "" {
		secret = r.AppSecret
	}
	return platform.Credential{AccessToken: token, AppSecret: secret}, nil
}

// NewCredentialProvider picks the provider named by cfg.TokenSource.
func NewCredentialProvider(cfg config.PlatformConfig, repo storage.CredentialRepo) CredentialProvider {
	if cfg.TokenSource == "db" && repo != nil {
		return RepoCredentials{Repo: repo, AppSecret: cfg.AppSecret}
	}
	return StaticCredentials{AccessToken: cfg.AccessToken, AppSecret: cfg.AppSecret}
}
