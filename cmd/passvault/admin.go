package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Administer user accounts"}

	createCmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")
			superuser, _ := cmd.Flags().GetBool("superuser")
			result, err := newClient().post("/v1/users", map[string]any{
				"email":      args[0],
				"first_name": first,
				"last_name":  last,
				"superuser":  superuser,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(dataOf(result))
			return nil
		},
	}
	createCmd.Flags().String("first-name", "", "First name")
	createCmd.Flags().String("last-name", "", "Last name")
	createCmd.Flags().Bool("superuser", false, "Grant superuser rights")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/users")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printList(listOf(result), "id", "email", "active", "superuser")
			return nil
		},
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := newClient().patch("/v1/users/"+args[0], map[string]any{"active": active}); err != nil {
					printError(err.Error())
					return nil
				}
				printSuccess(fmt.Sprintf("User %s.", use+"d"))
				return nil
			},
		}
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user without audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/v1/users/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("User deleted.")
			return nil
		},
	}

	cmd.AddCommand(
		createCmd,
		listCmd,
		setActive("activate", "Re-enable a user", true),
		setActive("deactivate", "Disable a user and revoke their tokens", false),
		deleteCmd,
	)
	return cmd
}

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Administer groups"}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().post("/v1/groups", map[string]any{"name": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(dataOf(result))
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/groups")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printList(listOf(result), "id", "name")
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a group and its grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/v1/groups/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Group deleted.")
			return nil
		},
	}

	membersCmd := &cobra.Command{
		Use:   "members <id>",
		Short: "List group members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/groups/" + args[0] + "/members")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printList(listOf(result), "id", "email")
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <group-id> <user-id>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newClient().put("/v1/groups/"+args[0]+"/members/"+args[1], nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Member added.")
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <group-id> <user-id>",
		Short: "Remove a user from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/v1/groups/" + args[0] + "/members/" + args[1]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Member removed.")
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, deleteCmd, membersCmd, addCmd, removeCmd)
	return cmd
}
