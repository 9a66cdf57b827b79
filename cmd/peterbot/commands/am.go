package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teranos/peterbot/am"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage peterbot configuration",
	Long: sym.AM + ` am - manage peterbot configuration ("I am")

Configuration sources (later overrides earlier):
1. Built-in defaults
2. System config (/etc/peterbot/am.toml)
3. User config (~/.peterbot/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. .env next to the project config, then PETERBOT_* environment variables

Examples:
  peterbot am show                # Show the effective configuration
  peterbot am show --format json  # ... as JSON
  peterbot am where               # Show where each setting comes from
  peterbot am validate            # Validate the configuration
  peterbot am init                # Write a default ~/.peterbot/am.toml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration, secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		return runAmShow(cmd, format)
	},
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		pterm.Success.Println(sym.AM + " Configuration is valid")
		return nil
	},
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAmWhere(cmd)
	},
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default am.toml",
	Long: `Write the built-in defaults to an am.toml. Secrets are never written;
set them in the environment or in .env. An existing file is rotated into
.back1, .back2 and .back3 first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		return runAmInit(path)
	},
}

func init() {
	amShowCmd.Flags().String("format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().String("path", "", "Where to write (default: ~/.peterbot/am.toml)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, format string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	tree := settingsTree(am.Introspect())

	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		data, err = json.MarshalIndent(tree, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(tree)
	case "toml":
		data, err = toml.Marshal(tree)
	default:
		return errors.NewValidationError("unsupported format %q (supported: toml, json, yaml)", format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to marshal config to %s", format)
	}

	out := cmd.OutOrStdout()
	if format != "json" {
		fmt.Fprintln(out, "# peterbot configuration")
	}
	_, err = out.Write(data)
	return err
}

// settingsTree nests dotted keys ("pulse.max_retries") into maps
func settingsTree(settings []am.SettingInfo) map[string]interface{} {
	root := map[string]interface{}{}
	for _, s := range settings {
		parts := strings.Split(s.Key, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = s.Value
	}
	return root
}

func runAmWhere(cmd *cobra.Command) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	rows := [][]string{{"KEY", "VALUE", "SOURCE", "FROM"}}
	for _, s := range am.Introspect() {
		rows = append(rows, []string{
			s.Key,
			truncate(fmt.Sprint(s.Value), 40),
			sourceLabel(s.Source),
			s.SourcePath,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func sourceLabel(src am.ConfigSource) string {
	switch src {
	case am.SourceEnvironment:
		return pterm.Yellow(src)
	case am.SourceProject:
		return pterm.Green(src)
	case am.SourceUser, am.SourceSystem:
		return pterm.Cyan(src)
	default:
		return pterm.Gray(src)
	}
}

func runAmInit(path string) error {
	if path == "" {
		path = am.UserConfigPath()
	}
	if path == "" {
		return errors.WithHint(errors.New("cannot determine home directory"), "pass --path")
	}

	// Defaults only, never the current environment's overrides
	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	if err != nil {
		return errors.Wrap(err, "failed to load defaults")
	}
	if err := am.WriteDefault(path, cfg); err != nil {
		return err
	}
	pterm.Success.Printfln("%s Wrote %s", sym.AM, path)
	return nil
}
