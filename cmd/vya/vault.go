package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newVaultCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted credential vault",
	}

	cmd.AddCommand(newVaultAddCmd(flags))
	cmd.AddCommand(newVaultListCmd(flags))
	cmd.AddCommand(newVaultGetCmd(flags))
	cmd.AddCommand(newVaultRemoveCmd(flags))
	cmd.AddCommand(newVaultInfoCmd(flags))

	return cmd
}

func newVaultInfoCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show vault status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			info := a.vault.Info()
			fmt.Printf("path:        %s\n", info.Path)
			fmt.Printf("version:     %s\n", info.Version)
			fmt.Printf("credentials: %d\n", info.Count)
			fmt.Printf("size:        %d bytes\n", info.SizeBytes)
			fmt.Printf("key:         %s\n", info.KeyFingerprint)
			return nil
		},
	}
}

// vaultImportEntry is the element shape for vault add --from-file.
type vaultImportEntry struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Description string `json:"description,omitempty"`
}

func newVaultAddCmd(flags *rootFlags) *cobra.Command {
	var (
		id          string
		username    string
		password    string
		description string
		fromFile    string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if fromFile != "" {
				return vaultImport(a, fromFile)
			}

			if id == "" || username == "" || password == "" {
				return userErr(fmt.Errorf("--id, --username and --password are required (or --from-file)"))
			}
			if err := a.vault.Set(id, username, password, description); err != nil {
				return err
			}
			if err := a.vault.Save(); err != nil {
				return err
			}
			fmt.Printf("credential %q stored\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Credential id (db_<instance> or smtp)")
	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "JSON file with an array of {id, username, password, description?}")

	return cmd
}

// vaultImport loads a JSON array of credentials and stores them in one save.
func vaultImport(a *app, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return userErr(fmt.Errorf("failed to read %s: %w", path, err))
	}

	var entries []vaultImportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return userErr(fmt.Errorf("invalid credential file %s: %w", path, err))
	}

	for i, e := range entries {
		if e.ID == "" || e.Username == "" || e.Password == "" {
			return userErr(fmt.Errorf("entry %d: id, username and password are required", i))
		}
	}
	for _, e := range entries {
		if err := a.vault.Set(e.ID, e.Username, e.Password, e.Description); err != nil {
			return err
		}
	}
	if err := a.vault.Save(); err != nil {
		return err
	}
	fmt.Printf("imported %d credential(s)\n", len(entries))
	return nil
}

func newVaultListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credential ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUPDATED\tDESCRIPTION")
			for _, id := range a.vault.List() {
				meta, err := a.vault.Metadata(id)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, meta.UpdatedAt.Format(time.RFC3339), meta.Description)
			}
			return w.Flush()
		},
	}
}

func newVaultGetCmd(flags *rootFlags) *cobra.Command {
	var showPassword bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			cred, err := a.vault.Get(args[0])
			if err != nil {
				return userErr(err)
			}

			fmt.Printf("username: %s\n", cred.Username)
			if showPassword {
				fmt.Printf("password: %s\n", cred.Password)
			} else {
				fmt.Println("password: ******** (use --show-password)")
			}
			if meta, err := a.vault.Metadata(args[0]); err == nil && meta.Description != "" {
				fmt.Printf("description: %s\n", meta.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Print the password in clear text")
	return cmd
}

func newVaultRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.vault.Remove(args[0]); err != nil {
				return userErr(err)
			}
			if err := a.vault.Save(); err != nil {
				return err
			}
			fmt.Printf("credential %q removed\n", args[0])
			return nil
		},
	}
}
