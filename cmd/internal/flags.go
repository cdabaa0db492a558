package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// StringFlag initializes a string flag
func StringFlag(cmd *cobra.Command, name, description, value string) {
	cmd.Flags().String(name, value, description)
	bind(cmd, name)
}

// BoolFlag initializes a bool flag
func BoolFlag(cmd *cobra.Command, name, description string, value bool) {
	cmd.Flags().Bool(name, value, description)
	bind(cmd, name)
}

// Int64Flag initializes a int64 flag
func Int64Flag(cmd *cobra.Command, name, description string, value int64) {
	cmd.Flags().Int64(name, value, description)
	bind(cmd, name)
}

// Float64Flag initializes a float64 flag
func Float64Flag(cmd *cobra.Command, name, description string, value float64) {
	cmd.Flags().Float64(name, value, description)
	bind(cmd, name)
}

// DurationFlag initializes a duration flag
func DurationFlag(cmd *cobra.Command, name, description string, value time.Duration) {
	cmd.Flags().Duration(name, value, description)
	bind(cmd, name)
}

// bind makes the flag readable through viper and overridable by its
// environment variable
func bind(cmd *cobra.Command, name string) {
	viper.BindPFlag(name, cmd.Flags().Lookup(name)) // nolint: errcheck, gas
	viper.BindEnv(name, EnvName(name))              // nolint: errcheck, gas
}

// EnvName returns the environment variable of a flag, sqsQueueURL becomes SQS_QUEUE_URL
func EnvName(flag string) string {
	runes := []rune(flag)

	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && startsWord(runes, i+1)) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	return b.String()
}

// startsWord reports whether the rune at i continues a capitalized word
// rather than pluralizing an acronym (containerCPUs)
func startsWord(runes []rune, i int) bool {
	if i >= len(runes) || !unicode.IsLower(runes[i]) {
		return false
	}

	plural := runes[i] == 's' && (i+1 == len(runes) || unicode.IsUpper(runes[i+1]))
	return !plural
}

// FlagChecker defines the function used to validate flags
type FlagChecker func() error

// CheckFlags validates a slice of flag checkers
func CheckFlags(checkers ...FlagChecker) error {
	var fails []string
	for _, checker := range checkers {
		if err := checker(); err != nil {
			fails = append(fails, err.Error())
		}
	}
	if len(fails) > 0 {
		return errors.New(strings.Join(fails, "\n"))
	}

	return nil
}

// RequireString returns an error if the given setting is not a string
func RequireString(flag string) FlagChecker {
	return func() error {
		v := viper.GetString(flag)
		if v == "" {
			return fmt.Errorf("flag %s can not be an empty string", flag)
		}
		return nil
	}
}

// RequireOneOf returns an error if the setting is not one of the allowed values
func RequireOneOf(flag string, allowed ...string) FlagChecker {
	return func() error {
		v := viper.GetString(flag)
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("flag %s has to be one of %s", flag, strings.Join(allowed, ", "))
	}
}

// RequirePositive returns an error if the duration or number setting is not above zero
func RequirePositive(flag string) FlagChecker {
	return func() error {
		if viper.GetFloat64(flag) <= 0 && viper.GetDuration(flag) <= 0 {
			return fmt.Errorf("flag %s has to be positive", flag)
		}
		return nil
	}
}

// RequireDurationRange returns an error if the duration setting is outside [min, max]
func RequireDurationRange(flag string, lower, upper time.Duration) FlagChecker {
	return func() error {
		v := viper.GetDuration(flag)
		if v < lower || v > upper {
			return fmt.Errorf("flag %s has to be between %s and %s", flag, lower, upper)
		}
		return nil
	}
}
