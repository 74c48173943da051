package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbmigrate/internal/config"
)

// VaultManager reads credentials from a HashiCorp Vault KV v2 mount.
type VaultManager struct {
	client    *vault.Client
	mountPath string
	cfg       *config.Config
	logger    *zap.Logger
}

func NewVaultManager(cfg *config.Config, baseLogger *zap.Logger) (*VaultManager, error) {
	log := baseLogger.Named("vault-manager")
	if !cfg.VaultEnabled {
		log.Debug("Vault secret manager is disabled via configuration.")
		return &VaultManager{cfg: cfg, logger: log}, nil
	}

	log.Info("Initializing Vault secret manager", zap.String("address", cfg.VaultAddr))

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.VaultAddr
	vConfig.Timeout = 10 * time.Second
	vConfig.MaxRetries = cfg.MaxRetries

	if err := vConfig.ConfigureTLS(&vault.TLSConfig{
		CACert:   cfg.VaultCACert,
		Insecure: cfg.VaultSkipVerify,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	} else {
		log.Warn("Vault is enabled but VAULT_TOKEN is empty; only token authentication is supported")
	}

	return &VaultManager{
		client:    client,
		mountPath: "secret",
		cfg:       cfg,
		logger:    log,
	}, nil
}

func (m *VaultManager) IsEnabled() bool {
	return m.cfg != nil && m.cfg.VaultEnabled && m.client != nil
}

// GetCredentials reads the secret at path from the KV v2 engine.
func (m *VaultManager) GetCredentials(ctx context.Context, path, usernameKey, passwordKey string) (*Credentials, error) {
	if !m.IsEnabled() {
		return nil, errors.New("vault manager is not enabled")
	}
	if path == "" {
		return nil, errors.New("vault secret path cannot be empty")
	}
	if usernameKey == "" {
		usernameKey = "username"
	}
	if passwordKey == "" {
		passwordKey = "password"
	}

	log := m.logger.With(zap.String("vault_path", path))
	log.Debug("Reading secret from Vault KV v2", zap.String("username_key", usernameKey), zap.String("password_key", passwordKey))

	secret, err := m.client.KVv2(m.mountPath).Get(ctx, path)
	if err != nil {
		var respErr *vault.ResponseError
		if errors.Is(err, vault.ErrSecretNotFound) || (errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("secret '%s' not found in Vault: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read secret '%s' from Vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret data for '%s' is empty", path)
	}

	password, ok := secret.Data[passwordKey].(string)
	if !ok || password == "" {
		return nil, fmt.Errorf("password key '%s' in secret '%s' is missing or not a non-empty string", passwordKey, path)
	}
	username, _ := secret.Data[usernameKey].(string)

	log.Info("Retrieved target credentials from Vault")
	return &Credentials{Username: username, Password: password}, nil
}

// ResolveCredentials returns the target login. An explicit DST_PASSWORD wins;
// otherwise the secret at DST_SECRET_PATH is read through mgr.
func ResolveCredentials(ctx context.Context, cfg *config.Config, mgr SecretManager) (*Credentials, error) {
	creds := &Credentials{Username: cfg.DstDB.User, Password: cfg.DstDB.Password}
	if creds.Password != "" {
		return creds, nil
	}
	if mgr == nil || !mgr.IsEnabled() {
		return nil, errors.New("no password configured for the target and Vault is disabled")
	}
	fromVault, err := mgr.GetCredentials(ctx, cfg.DstSecretPath, cfg.DstUsernameKey, cfg.DstPasswordKey)
	if err != nil {
		return nil, err
	}
	if fromVault.Username == "" {
		fromVault.Username = creds.Username
	}
	return fromVault, nil
}
