// pkg/cli/cli.go
//
// Flag helpers shared by the horae commands. Flags are the highest-priority
// configuration source; BindFlagsToViper makes them visible to pkg/config.
package cli

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ViperKeyAnnotation maps a flag to a dotted configuration key when the flag
// name does not match it (e.g. --fail-fast -> orchestration.fail_fast).
const ViperKeyAnnotation = "horae_viper_key"

// AddStringFlag adds a persistent or local string flag bound to key.
func AddStringFlag(flags *pflag.FlagSet, name, shorthand, def, help, key string) {
	flags.StringP(name, shorthand, def, help)
	annotate(flags, name, key)
}

// AddBoolFlag adds a boolean flag bound to key.
func AddBoolFlag(flags *pflag.FlagSet, name, shorthand string, def bool, help, key string) {
	flags.BoolP(name, shorthand, def, help)
	annotate(flags, name, key)
}

// AddStringSliceFlag adds a string slice flag bound to key.
func AddStringSliceFlag(flags *pflag.FlagSet, name, shorthand string, def []string, help, key string) {
	flags.StringSliceP(name, shorthand, def, help)
	annotate(flags, name, key)
}

func annotate(flags *pflag.FlagSet, name, key string) {
	if key == "" || key == name {
		return
	}
	// The flag was just defined, so SetAnnotation cannot fail.
	_ = flags.SetAnnotation(name, ViperKeyAnnotation, []string{key})
}

// ViperKey returns the configuration key a flag is bound to.
func ViperKey(f *pflag.Flag) string {
	if keys, ok := f.Annotations[ViperKeyAnnotation]; ok && len(keys) > 0 {
		return keys[0]
	}
	return f.Name
}

// BindFlagsToViper binds all local and inherited flags on a command to a
// Viper instance.
func BindFlagsToViper(cmd *cobra.Command, v *viper.Viper) error {
	var result error
	bind := func(f *pflag.Flag) {
		if err := v.BindPFlag(ViperKey(f), f); err != nil {
			result = multierror.Append(result, err)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	return result
}

// SetViperEnvPrefix lets Viper read env with prefix; nested keys use
// underscores (postgres.dsn -> PREFIX_POSTGRES_DSN).
func SetViperEnvPrefix(v *viper.Viper, prefix string) {
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// GetStringOrEmpty returns the string value or empty string if the flag is
// not defined.
func GetStringOrEmpty(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		return ""
	}
	return val
}
