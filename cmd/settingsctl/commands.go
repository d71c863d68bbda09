package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/pkg/encryption"
)

func (c *cli) getCommand() *cobra.Command {
	var def string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting value",
		Long: `Print the value stored under key for the given context.

Examples:
  settingsctl get ui.theme
  settingsctl get ui.theme --context tenant=acme --default light`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			scoped, sc, err := c.scoped(s.runtime.Settings)
			if err != nil {
				return err
			}
			var fallback any
			if cmd.Flags().Changed("default") {
				fallback = def
			}
			value, err := scoped.Get(cmdContext(cmd), args[0], fallback)
			if err != nil {
				return err
			}
			return c.print(cmd, settingView{Key: args[0], Context: contextArgs(sc), Value: value}, func() string {
				return formatValue(value)
			})
		},
	}
	cmd.Flags().StringVar(&def, "default", "", "value printed when the setting is not stored")
	return cmd
}

func (c *cli) setCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting value",
		Long: `Store value under key for the given context.

Examples:
  settingsctl set ui.theme dark --context tenant=acme
  settingsctl set mail.retries 3 --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any = args[1]
			if asJSON {
				if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
					return fmt.Errorf("invalid JSON value: %w", err)
				}
			}

			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			scoped, sc, err := c.scoped(s.runtime.Settings)
			if err != nil {
				return err
			}
			if err := scoped.Set(cmdContext(cmd), args[0], value); err != nil {
				return err
			}
			return c.print(cmd, settingView{Key: args[0], Context: contextArgs(sc), Value: value}, func() string {
				return "ok"
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "parse value as JSON")
	return cmd
}

func (c *cli) hasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "has <key>",
		Short: "Report whether a setting is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			scoped, sc, err := c.scoped(s.runtime.Settings)
			if err != nil {
				return err
			}
			ok, err := scoped.Has(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd, settingView{Key: args[0], Context: contextArgs(sc), Exists: &ok}, func() string {
				return fmt.Sprint(ok)
			})
		},
	}
}

func (c *cli) forgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <key>",
		Short: "Remove a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			scoped, sc, err := c.scoped(s.runtime.Settings)
			if err != nil {
				return err
			}
			if err := scoped.Forget(cmdContext(cmd), args[0]); err != nil {
				return err
			}
			return c.print(cmd, settingView{Key: args[0], Context: contextArgs(sc)}, func() string {
				return "ok"
			})
		},
	}
}

func (c *cli) keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <key>",
		Short: "Print the storage key derived for key and context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := parseContext(c.contextArgs)
			if err != nil {
				return err
			}
			storageKey, err := settings.NewKeyGenerator(nil).Generate(args[0], sc)
			if err != nil {
				return err
			}
			return c.print(cmd, settingView{Key: args[0], Context: contextArgs(sc), StorageKey: storageKey}, func() string {
				return storageKey
			})
		},
	}
}

func (c *cli) genkeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new encryption key",
		Long:  `Generate a random key suitable for encryption_key or SETTINGS_ENCRYPTION_KEY.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := encryption.GenerateKey()
			if err != nil {
				return err
			}
			return c.print(cmd, map[string]string{"key": key}, func() string {
				return key
			})
		},
	}
}

func (c *cli) overrideCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "override",
		Short: "Apply the configured override rules and print the result",
		Long: `Apply the override rules from the configuration file against the loaded
configuration and report which config keys would be replaced by settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			report, err := s.runtime.Override(cmdContext(cmd), s.viper)
			if err != nil {
				return err
			}
			views := make([]overrideView, 0, len(report.Outcomes))
			for _, outcome := range report.Outcomes {
				views = append(views, overrideView{
					Config:   outcome.Rule.ConfigKey,
					Setting:  outcome.Rule.SettingKey,
					Applied:  outcome.Applied,
					Reason:   outcome.Reason,
					Previous: outcome.Previous,
					Value:    outcome.Value,
				})
			}
			return c.print(cmd, views, func() string {
				return formatOverrides(views)
			})
		},
	}
}
