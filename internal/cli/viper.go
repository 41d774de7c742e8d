// Package cli binds command line flags and environment variables for the raftlog binaries.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Opt is a single command-line option
type Opt struct {
	DestP   interface{} // pointer to the destination
	Flag    string
	Default interface{}
	Desc    string
}

// NewOpt creates a new command line option.
func NewOpt(destP interface{}, flag string, dflt interface{}, desc string) Opt {
	return Opt{
		DestP:   destP,
		Flag:    flag,
		Default: dflt,
		Desc:    desc,
	}
}

// Program parses CLI options
type Program struct {
	// Run is invoked by cobra on execute with the positional arguments.
	Run func(args []string) error
	// Name is the name of the program in help usage and the env var prefix.
	Name string
	// Use overrides the usage line. It defaults to Name.
	Use string
	// Args validates the positional arguments. It defaults to cobra.NoArgs.
	Args cobra.PositionalArgs
	// Opts are the command line/env var options to the program
	Opts []Opt
}

// NewCommand creates a new cobra command to be executed that respects env vars.
//
// Uses the upper-case version of the program's name as a prefix
// to all environment variables.
func NewCommand(v *viper.Viper, p *Program) (*cobra.Command, error) {
	use := p.Use
	if use == "" {
		use = p.Name
	}
	args := p.Args
	if args == nil {
		args = cobra.NoArgs
	}
	cmd := &cobra.Command{
		Use:          use,
		Args:         args,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return p.Run(args)
		},
	}

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_")))
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := BindOptions(v, cmd, p.Opts); err != nil {
		return nil, err
	}
	return cmd, nil
}

// BindOptions adds opts to the specified command and automatically
// registers those options with viper.
func BindOptions(v *viper.Viper, cmd *cobra.Command, opts []Opt) error {
	for _, o := range opts {
		switch destP := o.DestP.(type) {
		case *string:
			var d string
			if o.Default != nil {
				d = o.Default.(string)
			}
			cmd.Flags().StringVar(destP, o.Flag, d, o.Desc)
			if err := v.BindPFlag(o.Flag, cmd.Flags().Lookup(o.Flag)); err != nil {
				return err
			}
			*destP = v.GetString(o.Flag)
		case *int:
			var d int
			if o.Default != nil {
				d = o.Default.(int)
			}
			cmd.Flags().IntVar(destP, o.Flag, d, o.Desc)
			if err := v.BindPFlag(o.Flag, cmd.Flags().Lookup(o.Flag)); err != nil {
				return err
			}
			*destP = v.GetInt(o.Flag)
		case *uint64:
			var d uint64
			if o.Default != nil {
				d = o.Default.(uint64)
			}
			cmd.Flags().Uint64Var(destP, o.Flag, d, o.Desc)
			if err := v.BindPFlag(o.Flag, cmd.Flags().Lookup(o.Flag)); err != nil {
				return err
			}
			*destP = v.GetUint64(o.Flag)
		case *bool:
			var d bool
			if o.Default != nil {
				d = o.Default.(bool)
			}
			cmd.Flags().BoolVar(destP, o.Flag, d, o.Desc)
			if err := v.BindPFlag(o.Flag, cmd.Flags().Lookup(o.Flag)); err != nil {
				return err
			}
			*destP = v.GetBool(o.Flag)
		case *time.Duration:
			var d time.Duration
			if o.Default != nil {
				d = o.Default.(time.Duration)
			}
			cmd.Flags().DurationVar(destP, o.Flag, d, o.Desc)
			if err := v.BindPFlag(o.Flag, cmd.Flags().Lookup(o.Flag)); err != nil {
				return err
			}
			*destP = v.GetDuration(o.Flag)
		case *[]string:
			var d []string
			if o.Default != nil {
				d = o.Default.([]string)
			}
			cmd.Flags().StringSliceVar(destP, o.Flag, d, o.Desc)
			if err := v.BindPFlag(o.Flag, cmd.Flags().Lookup(o.Flag)); err != nil {
				return err
			}
			*destP = v.GetStringSlice(o.Flag)
		case *zapcore.Level:
			var d zapcore.Level
			if o.Default != nil {
				d = o.Default.(zapcore.Level)
			}
			cmd.Flags().Var(newLevelValue(d, destP), o.Flag, o.Desc)
			if err := v.BindPFlag(o.Flag, cmd.Flags().Lookup(o.Flag)); err != nil {
				return err
			}
			if s := v.GetString(o.Flag); s != "" {
				if err := destP.Set(s); err != nil {
					return fmt.Errorf("%s: %w", o.Flag, err)
				}
			}
		default:
			return fmt.Errorf("unknown destination type %T", o.DestP)
		}
	}
	return nil
}
