package cli

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsToViper(t *testing.T) {
	t.Parallel()
	root := &cobra.Command{Use: "horae"}
	AddStringFlag(root.PersistentFlags(), "log-level", "", "info", "log level", "log.level")
	child := &cobra.Command{Use: "start", Run: func(*cobra.Command, []string) {}}
	AddBoolFlag(child.Flags(), "fail-fast", "", false, "stop on first failure", "orchestration.fail_fast")
	AddStringSliceFlag(child.Flags(), "services", "s", nil, "services", "")
	child.Flags().Duration("timeout", time.Minute, "overall timeout")
	root.AddCommand(child)

	require.NoError(t, child.ParseFlags([]string{"--fail-fast", "--services", "redis,auth_service", "--timeout", "90s"}))
	require.NoError(t, root.PersistentFlags().Set("log-level", "debug"))

	v := viper.New()
	require.NoError(t, BindFlagsToViper(child, v))

	assert.True(t, v.GetBool("orchestration.fail_fast"))
	assert.Equal(t, []string{"redis", "auth_service"}, v.GetStringSlice("services"))
	assert.Equal(t, 90*time.Second, v.GetDuration("timeout"))
	assert.Equal(t, "debug", v.GetString("log.level"))
}

func TestSetViperEnvPrefix(t *testing.T) {
	t.Setenv("HORAE_POSTGRES_DSN", "postgres://localhost/horae")
	v := viper.New()
	SetViperEnvPrefix(v, "HORAE")
	assert.Equal(t, "postgres://localhost/horae", v.GetString("postgres.dsn"))
}

func TestGetStringOrEmpty(t *testing.T) {
	t.Parallel()
	cmd := &cobra.Command{Use: "status"}
	cmd.Flags().String("output", "text", "")
	assert.Equal(t, "text", GetStringOrEmpty(cmd, "output"))
	assert.Empty(t, GetStringOrEmpty(cmd, "missing"))
}
