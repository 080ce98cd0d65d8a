package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zgpcy/azure-billing-collector/internal/config"
)

func TestCollectOptions_TaskOptions(t *testing.T) {
	cfg := &config.Config{TaskOptions: config.TaskOptions{
		CollectScope:   config.ScopeSubscription,
		SubscriptionID: "sub-1",
		Start:          "2024-01",
	}}

	tests := []struct {
		name    string
		opts    collectOptions
		want    config.TaskOptions
		wantErr bool
	}{
		{
			name: "configured task",
			want: cfg.TaskOptions,
		},
		{
			name: "month overrides",
			opts: collectOptions{start: "2024-03", end: "2024-04"},
			want: config.TaskOptions{CollectScope: config.ScopeSubscription, SubscriptionID: "sub-1", Start: "2024-03", End: "2024-04"},
		},
		{
			name: "planned task",
			opts: collectOptions{task: `{"collect_scope":"customer_tenant_id","start":"2024-02","customer_tenants":["t-1","t-2"]}`},
			want: config.TaskOptions{CollectScope: config.ScopeCustomerTenant, Start: "2024-02", CustomerTenants: []string{"t-1", "t-2"}},
		},
		{
			name:    "malformed task",
			opts:    collectOptions{task: `{"collect_scope":`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.taskOptions(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRootOptions_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0644))

	opts := &rootOptions{configPath: path, logLevel: "debug"}
	cfg, log, err := opts.load()
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, _, err = (&rootOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")}).load()
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "azure-billing-collector dev"))
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"serve", "collect", "tasks", "accounts", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
