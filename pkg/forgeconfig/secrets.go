package forgeconfig

import (
	"context"

	infisical "github.com/infisical/go-sdk"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// InfisicalSecretSource resolves the action cache's workspace secret
// (§4.3, §6.5) from an Infisical project/environment instead of a bare
// WORKSPACE_SECRET env var, adapted from security/infisical.go's
// UniversalAuthLogin + Secrets().List flow — returning a typed error
// instead of logging and os.Exit(1).
type InfisicalSecretSource struct {
	SiteURL                  string
	ClientID, ClientSecret   string
	ProjectID, Environment   string
	SecretPath               string // defaults to "/"
}

// WorkspaceSecret authenticates and fetches the named secret key. When
// SiteURL or ClientID is unset it returns a ConfigError and does not read
// CacheConfig.WorkspaceSecret itself; a caller layering Infisical over the
// env-var default falls back on that error.
func (s InfisicalSecretSource) WorkspaceSecret(ctx context.Context, key string) (string, error) {
	if s.SiteURL == "" || s.ClientID == "" {
		return "", ferr.New(ferr.KindConfig, "forgeconfig.InfisicalSecretSource.WorkspaceSecret", key, nil).
			WithRemedy("set SiteURL and ClientID, or fall back to the WORKSPACE_SECRET env var")
	}

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          s.SiteURL,
		AutoTokenRefresh: false,
	})

	if _, err := client.Auth().UniversalAuthLogin(s.ClientID, s.ClientSecret); err != nil {
		return "", ferr.New(ferr.KindAuth, "forgeconfig.InfisicalSecretSource.WorkspaceSecret", key, err)
	}

	path := s.SecretPath
	if path == "" {
		path = "/"
	}
	secrets, err := client.Secrets().List(infisical.ListSecretsOptions{
		AttachToProcessEnv: false,
		Environment:        s.Environment,
		ProjectID:          s.ProjectID,
		SecretPath:         path,
		IncludeImports:     true,
	})
	if err != nil {
		return "", ferr.New(ferr.KindNetwork, "forgeconfig.InfisicalSecretSource.WorkspaceSecret", key, err)
	}

	for _, secret := range secrets {
		if secret.SecretKey == key {
			return secret.SecretValue, nil
		}
	}
	return "", ferr.New(ferr.KindConfig, "forgeconfig.InfisicalSecretSource.WorkspaceSecret", key, nil).
		WithRemedy("no secret with this key in the configured Infisical project/environment")
}
