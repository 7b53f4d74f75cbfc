package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Aliases: []string{"s"}, Short: "Manage shared secrets"}
	cmd.AddCommand(
		secretCreateCmd(),
		secretGetCmd(),
		secretUpdateCmd(),
		secretDeleteCmd(),
		secretListCmd(),
		secretAccessCmd(),
		secretGrantCmd(),
		secretRevokeCmd(),
		secretAuditCmd(),
		secretOTPCmd(),
		secretFileCmd(),
	)
	return cmd
}

func addFieldFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Secret name")
	cmd.Flags().String("url", "", "Login URL")
	cmd.Flags().String("username", "", "Username")
	cmd.Flags().String("details", "", "Free-form notes (stored encrypted)")
	cmd.Flags().Bool("password", false, "Prompt for the password")
}

// applyFieldFlags copies every flag the user set onto fields.
func applyFieldFlags(cmd *cobra.Command, fields map[string]any) error {
	for _, f := range []string{"name", "url", "username", "details"} {
		if cmd.Flags().Changed(f) {
			v, _ := cmd.Flags().GetString(f)
			fields[f] = v
		}
	}
	if prompt, _ := cmd.Flags().GetBool("password"); prompt {
		pw, err := readHidden("Password: ")
		if err != nil {
			return err
		}
		fields["password"] = pw
	}
	return nil
}

func secretCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			if err := applyFieldFlags(cmd, fields); err != nil {
				printError(err.Error())
				return nil
			}
			result, err := newClient().post("/v1/secrets", fields)
			if err != nil {
				printError(err.Error())
				return nil
			}
			data := dataOf(result)
			printSuccess(fmt.Sprintf("Created %s (%v)", color.YellowString("%v", data["name"]), data["id"]))
			return nil
		},
	}
	addFieldFlags(cmd)
	cmd.MarkFlagRequired("name") //nolint:errcheck
	return cmd
}

func secretGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a secret, including its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/secrets/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(dataOf(result))
			return nil
		},
	}
}

func secretUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a secret; unset flags keep their current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			current, err := client.get("/v1/secrets/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			data := dataOf(current)
			fields := map[string]any{}
			for _, f := range []string{"name", "url", "username", "password", "details"} {
				if v, ok := data[f]; ok {
					fields[f] = v
				}
			}
			if err := applyFieldFlags(cmd, fields); err != nil {
				printError(err.Error())
				return nil
			}
			if _, err := client.put("/v1/secrets/"+args[0], fields); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Secret updated.")
			return nil
		},
	}
	addFieldFlags(cmd)
	return cmd
}

func secretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a secret and scrub its sensitive fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/v1/secrets/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Secret deleted.")
			return nil
		},
	}
}

func secretListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the secrets you can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for flag, param := range map[string]string{"name": "name", "username": "username", "group": "group"} {
				if v, _ := cmd.Flags().GetString(flag); v != "" {
					q.Set(param, v)
				}
			}
			if mine, _ := cmd.Flags().GetBool("mine"); mine {
				q.Set("mine", "true")
			}
			if page, _ := cmd.Flags().GetInt("page"); page > 1 {
				q.Set("page", strconv.Itoa(page))
			}
			path := "/v1/secrets"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			result, err := newClient().get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printList(listOf(result), "id", "name", "username", "url")
			return nil
		},
	}
	cmd.Flags().String("name", "", "Filter by name substring")
	cmd.Flags().String("username", "", "Filter by exact username")
	cmd.Flags().String("group", "", "Only secrets shared with this group id")
	cmd.Flags().Bool("mine", false, "Only secrets shared with you directly")
	cmd.Flags().Int("page", 1, "Page number")
	return cmd
}

func secretAccessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access <id>",
		Short: "List who can access a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/secrets/" + args[0] + "/permissions")
			if err != nil {
				printError(err.Error())
				return nil
			}
			items := listOf(result)
			for _, it := range items {
				if row, ok := it.(map[string]any); ok {
					if p, ok := row["principal"].(map[string]any); ok {
						row["principal"] = fmt.Sprintf("%v:%v", p["kind"], p["id"])
					}
				}
			}
			printList(items, "principal", "name", "level")
			return nil
		},
	}
}

func secretGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <id> <user:ID|group:ID> <view|change>",
		Short: "Set a principal's access level on a secret",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := newClient().put("/v1/secrets/"+args[0]+"/permissions", map[string]any{
				"principal": args[1],
				"level":     args[2],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("%s now has %s access.", args[1], color.YellowString(args[2])))
			return nil
		},
	}
}

func secretRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id> <user:ID|group:ID>",
		Short: "Remove a principal's access to a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/secrets/" + args[0] + "/permissions/" + url.PathEscape(args[1])
			if level, _ := cmd.Flags().GetString("level"); level != "" {
				path += "?level=" + url.QueryEscape(level)
			}
			if err := newClient().delete(path); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Access removed.")
			return nil
		},
	}
	cmd.Flags().String("level", "", "Only remove this level (view also removes change)")
	return cmd
}

func secretAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <id>",
		Short: "Show a secret's audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/secrets/" + args[0] + "/audit"
			if page, _ := cmd.Flags().GetInt("page"); page > 1 {
				path += "?page=" + strconv.Itoa(page)
			}
			result, err := newClient().get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printList(listOf(result), "timestamp", "user_id", "action", "description")
			return nil
		},
	}
	cmd.Flags().Int("page", 1, "Page number")
	return cmd
}

func secretOTPCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "otp", Short: "One-time password enrollment"}

	setCmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Enroll an otpauth:// URI (prompted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := readHidden("otpauth URI: ")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if _, err := newClient().put("/v1/secrets/"+args[0]+"/otp", map[string]any{"uri": uri}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("OTP enrolled.")
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove OTP enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/v1/secrets/" + args[0] + "/otp"); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("OTP removed.")
			return nil
		},
	}

	codeCmd := &cobra.Command{
		Use:   "code <id>",
		Short: "Print the current one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/secrets/" + args[0] + "/otp/code")
			if err != nil {
				printError(err.Error())
				return nil
			}
			code, ok := result["code"].(string)
			if !ok {
				printError("OTP is not configured for this secret")
				return nil
			}
			fmt.Println(code)
			return nil
		},
	}

	cmd.AddCommand(setCmd, removeCmd, codeCmd)
	return cmd
}

func secretFileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "file", Short: "Manage attachments"}

	uploadCmd := &cobra.Command{
		Use:   "upload <id> <path>",
		Short: "Attach a file to a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().upload("/v1/secrets/"+args[0]+"/files", args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(dataOf(result))
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List a secret's attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/secrets/" + args[0] + "/files")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printList(listOf(result), "id", "name", "size", "created_at")
			return nil
		},
	}

	downloadCmd := &cobra.Command{
		Use:   "download <id> <file-id>",
		Short: "Download an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			var w io.Writer = os.Stdout
			if out != "" {
				f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
				if err != nil {
					printError(err.Error())
					return nil
				}
				defer f.Close()
				w = f
			}
			if err := newClient().download("/v1/secrets/"+args[0]+"/files/"+args[1], w); err != nil {
				printError(err.Error())
				return nil
			}
			if out != "" {
				printSuccess("Saved to " + out)
			}
			return nil
		},
	}
	downloadCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	deleteCmd := &cobra.Command{
		Use:   "delete <id> <file-id>",
		Short: "Delete an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/v1/secrets/" + args[0] + "/files/" + args[1]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Attachment deleted.")
			return nil
		},
	}

	cmd.AddCommand(uploadCmd, listCmd, downloadCmd, deleteCmd)
	return cmd
}
