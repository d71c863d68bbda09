package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/pkg/config"
	"github.com/goliatone/go-settings/pkg/logging"
)

// cli holds the persistent flags shared by every command.
type cli struct {
	configPath  string
	repository  string
	contextArgs []string
	output      string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "settingsctl",
		Short: "Inspect and manage persistent settings",
		Long: `settingsctl reads and writes settings stored by go-settings.

Values are scoped with --context name=value (repeatable); without it the
global, unscoped value is addressed. Configuration is read from --config or
./settings.yaml and SETTINGS_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateOutput(c.output)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ./settings.yaml)")
	flags.StringVar(&c.repository, "repository", "", "repository name (default from config)")
	flags.StringArrayVar(&c.contextArgs, "context", nil, "context argument as name=value (repeatable)")
	flags.StringVarP(&c.output, "output", "o", outputText, "output format: text, json or yaml")

	root.AddCommand(
		c.getCommand(),
		c.setCommand(),
		c.hasCommand(),
		c.forgetCommand(),
		c.keygenCommand(),
		c.genkeyCommand(),
		c.overrideCommand(),
	)
	return root
}

// session is a loaded configuration plus the runtime built from it.
type session struct {
	runtime *config.Runtime
	viper   *viper.Viper
	close   func()
}

func (c *cli) open(cmd *cobra.Command) (*session, error) {
	cfg, v, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.NewLoggerWithWriter(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	rt, err := config.Build(cmdContext(cmd), cfg,
		config.WithLogger(logger),
		config.WithRepository(c.repository),
	)
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	return &session{
		runtime: rt,
		viper:   v,
		close: func() {
			if err := rt.Close(); err != nil {
				logger.Warn("settingsctl: close repositories", "error", err)
			}
			_ = closeLog()
		},
	}, nil
}

func (c *cli) scoped(s *settings.Settings) (settings.Scoped, *settings.Context, error) {
	sc, err := parseContext(c.contextArgs)
	if err != nil {
		return settings.Scoped{}, nil, err
	}
	return s.In(sc), sc, nil
}

// parseContext turns name=value pairs into a Context. No pairs means the
// unscoped (nil) context.
func parseContext(pairs []string) (*settings.Context, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --context %q, expected name=value", pair)
		}
		args[name] = value
	}
	return settings.NewContext(args), nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
