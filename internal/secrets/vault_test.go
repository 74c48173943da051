package secrets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbmigrate/internal/config"
)

type staticManager struct {
	creds *Credentials
	err   error
}

func (s staticManager) GetCredentials(context.Context, string, string, string) (*Credentials, error) {
	return s.creds, s.err
}

func (s staticManager) IsEnabled() bool { return true }

func TestResolveCredentials(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     config.Config
		mgr     SecretManager
		want    *Credentials
		wantErr bool
	}{
		{
			name: "explicit password",
			cfg:  config.Config{DstDB: config.DatabaseConfig{User: "app", Password: "pw"}},
			want: &Credentials{Username: "app", Password: "pw"},
		},
		{
			name:    "no password and no vault",
			cfg:     config.Config{DstDB: config.DatabaseConfig{User: "app"}},
			wantErr: true,
		},
		{
			name: "vault username falls back to configured user",
			cfg:  config.Config{DstDB: config.DatabaseConfig{User: "app"}},
			mgr:  staticManager{creds: &Credentials{Password: "from-vault"}},
			want: &Credentials{Username: "app", Password: "from-vault"},
		},
		{
			name:    "vault error",
			cfg:     config.Config{},
			mgr:     staticManager{err: errors.New("sealed")},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveCredentials(context.Background(), &tc.cfg, tc.mgr)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestVaultManagerDisabled(t *testing.T) {
	m, err := NewVaultManager(&config.Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, m.IsEnabled())

	_, err = m.GetCredentials(context.Background(), "db/target", "", "")
	assert.Error(t, err)
}

func TestVaultManagerGetCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		if r.URL.Path != "/v1/secret/data/db/target" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"username":"migrator","password":"s3cret"},` +
			`"metadata":{"created_time":"2024-01-01T00:00:00Z","deletion_time":"","destroyed":false,"version":1}}}`))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{VaultEnabled: true, VaultAddr: srv.URL, VaultToken: "root-token"}
	m, err := NewVaultManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.True(t, m.IsEnabled())

	creds, err := m.GetCredentials(context.Background(), "db/target", "username", "password")
	require.NoError(t, err)
	assert.Equal(t, &Credentials{Username: "migrator", Password: "s3cret"}, creds)

	_, err = m.GetCredentials(context.Background(), "db/missing", "username", "password")
	assert.Error(t, err)
}
