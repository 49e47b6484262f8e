package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/ramekin/pkg/versionstore"
)

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestStoreHealthChecker(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		err := storeHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not initialized")
	})

	t.Run("ping failure", func(t *testing.T) {
		cause := errors.New("database is locked")
		err := storeHealthChecker{store: stubPinger{err: cause}}.CheckHealth(context.Background())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("real store", func(t *testing.T) {
		ctx := context.Background()
		store, err := versionstore.OpenStore(ctx, versionstore.Config{Path: filepath.Join(t.TempDir(), "ramekin.db")})
		require.NoError(t, err)

		checker := storeHealthChecker{store: store}
		assert.NoError(t, checker.CheckHealth(ctx))

		require.NoError(t, store.Close())
		assert.Error(t, checker.CheckHealth(ctx))
	})
}

func TestDirHealthChecker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name    string
		checker dirHealthChecker
		wantErr bool
	}{
		{name: "existing dir", checker: dirHealthChecker{dir: dir}},
		{name: "missing required dir", checker: dirHealthChecker{dir: missing}, wantErr: true},
		{name: "missing optional dir", checker: dirHealthChecker{dir: missing, optional: true}},
		{name: "file instead of dir", checker: dirHealthChecker{dir: file}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.checker.CheckHealth(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
