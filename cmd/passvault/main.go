package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/org/passvault/internal/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "passvault",
	Short: "passvault CLI",
	Long:  "A CLI for sharing credentials through a passvault server.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		if !cmd.Flags().Changed("format") && cfg.Format != "" {
			outputFormat = cfg.Format
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(tokenCmd())
}

// readHidden prompts on stderr and reads a line without echo.
func readHidden(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func storeToken(token string) {
	cfg.Token = token
	if err := saveConfig(); err != nil {
		printError("could not save token: " + err.Error())
		return
	}
	fmt.Fprintln(os.Stderr, color.CyanString("→")+" Token saved to "+configPath())
}

// --- init ---

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the first superuser on a fresh server",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")
			result, err := newClient().post("/v1/sys/init", map[string]any{
				"email":      email,
				"first_name": first,
				"last_name":  last,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["root_token"].(string); ok {
				storeToken(tok)
			}
			printSuccess("passvault initialized for " + color.YellowString(email))
			return nil
		},
	}
	cmd.Flags().String("email", "", "Email of the first superuser")
	cmd.Flags().String("first-name", "", "First name")
	cmd.Flags().String("last-name", "", "Last name")
	cmd.MarkFlagRequired("email") //nolint:errcheck
	return cmd
}

// --- login ---

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Store a token for later commands",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) > 0 {
				token = args[0]
			} else {
				var err error
				if token, err = readHidden("Token: "); err != nil {
					printError(err.Error())
					return nil
				}
			}
			client := newClient()
			client.token = token
			result, err := client.get("/v1/auth/token/lookup-self")
			if err != nil {
				printError(err.Error())
				return nil
			}
			storeToken(token)
			data := dataOf(result)
			if user, ok := data["user"].(map[string]any); ok {
				printSuccess(fmt.Sprintf("Logged in as %v", user["email"]))
			}
			return nil
		},
	}
}

// --- keygen ---

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a field encryption key for the server config",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			defer crypto.Zero(key)
			fmt.Println(crypto.EncodeKey(key))
			return nil
		},
	}
}

// --- token ---

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Token management"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			name, _ := cmd.Flags().GetString("display-name")
			ttl, _ := cmd.Flags().GetString("ttl")
			twoFactor, _ := cmd.Flags().GetBool("two-factor")
			result, err := newClient().post("/v1/auth/token/create", map[string]any{
				"user_id":      userID,
				"display_name": name,
				"ttl":          ttl,
				"two_factor":   twoFactor,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if auth, ok := result["auth"].(map[string]any); ok {
				printResult(auth)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("user", "", "User id to issue for (default: yourself)")
	createCmd.Flags().String("display-name", "", "Label for the token")
	createCmd.Flags().String("ttl", "", "Token TTL (e.g. 24h)")
	createCmd.Flags().Bool("two-factor", false, "Carry over second-factor verification")

	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up the current token",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/auth/token/lookup-self")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(dataOf(result))
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the current token, or every token of --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			client := newClient()
			var err error
			if userID != "" {
				err = client.delete("/v1/users/" + userID + "/tokens")
			} else {
				_, err = client.post("/v1/auth/token/revoke-self", nil)
			}
			if err != nil {
				printError(err.Error())
				return nil
			}
			if userID == "" {
				cfg.Token = ""
				saveConfig() //nolint:errcheck
			}
			printSuccess("Token revoked.")
			return nil
		},
	}
	revokeCmd.Flags().String("user", "", "Revoke all tokens of this user id")

	cmd.AddCommand(createCmd, lookupCmd, revokeCmd)
	return cmd
}
