package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagGetter is one of the typed pflag getters, e.g. (*pflag.FlagSet).GetInt.
type flagGetter[T any] func(*pflag.FlagSet, string) (T, error)

// mustFlag reads a flag declared in init(). A lookup error means the flag name
// or type is wrong in code, so it panics.
func mustFlag[T any](cmd *cobra.Command, name string, get flagGetter[T]) T {
	val, err := get(cmd.Flags(), name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// flagOverride returns the flag value and true only when the user set the
// flag explicitly, so config-file and env defaults survive unset flags.
func flagOverride[T any](cmd *cobra.Command, name string, get flagGetter[T]) (T, bool) {
	if !cmd.Flags().Changed(name) {
		var zero T
		return zero, false
	}
	return mustFlag(cmd, name, get), true
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustFlag(cmd, name, (*pflag.FlagSet).GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustFlag(cmd, name, (*pflag.FlagSet).GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustFlag(cmd, name, (*pflag.FlagSet).GetString)
}
