package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultAddress = "http://127.0.0.1:8200"

// fileConfig is what ~/.passvault/config.yaml holds.
type fileConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token,omitempty"`
	CACert  string `yaml:"ca_cert,omitempty"`
	Format  string `yaml:"format,omitempty"`
}

// settings are the values a command runs with: the file, then PASSVAULT_*
// environment overrides.
type settings struct {
	Address string
	Token   string
	CACert  string
}

var cfg fileConfig

// configPath honours PASSVAULT_CLI_CONFIG, else ~/.passvault/config.yaml.
func configPath() string {
	if p := os.Getenv("PASSVAULT_CLI_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".passvault", "config.yaml")
}

func loadConfig() error {
	cfg = fileConfig{Address: defaultAddress}
	data, err := os.ReadFile(configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", configPath(), err)
	}
	if cfg.Address == "" {
		cfg.Address = defaultAddress
	}
	return nil
}

// saveConfig writes the file values only; environment overrides are never
// persisted. The file may hold a token, so only its owner can read it.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func currentSettings() settings {
	s := settings{Address: cfg.Address, Token: cfg.Token, CACert: cfg.CACert}
	for env, dst := range map[string]*string{
		"PASSVAULT_ADDR":   &s.Address,
		"PASSVAULT_TOKEN":  &s.Token,
		"PASSVAULT_CACERT": &s.CACert,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	return s
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:8] + "…"
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Show or change CLI settings"}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := currentSettings()
			out := map[string]any{
				"file":    configPath(),
				"address": s.Address,
				"ca_cert": s.CACert,
				"token":   "",
			}
			if s.Token != "" {
				out["token"] = maskToken(s.Token)
			}
			printResult(out)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:       "set <address|ca-cert|format> <value>",
		Short:     "Store a setting in the config file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"address", "ca-cert", "format"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "address":
				cfg.Address = args[1]
			case "ca-cert":
				cfg.CACert = args[1]
			case "format":
				switch args[1] {
				case "table", "json", "raw":
				default:
					printError("format must be table, json or raw")
					return nil
				}
				cfg.Format = args[1]
			default:
				printError("unknown setting " + args[0])
				return nil
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("%s set to %s", args[0], color.YellowString(args[1])))
			return nil
		},
	}

	cmd.AddCommand(showCmd, setCmd)
	return cmd
}
