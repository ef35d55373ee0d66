package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-intel/internal/model"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage API tokens for the HTTP API",
}

var tokensCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an API token",
	Long: `Create an API token with the given read capabilities. The token value
is printed once.

Examples:
  prospect-cli tokens create crm --companies --stats
  prospect-cli tokens create partner --companies --emails --app-url https://crm.example`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()

		var caps model.TokenCaps
		caps.ReadCompanies, _ = f.GetBool("companies")
		caps.ReadEmails, _ = f.GetBool("emails")
		caps.ReadStats, _ = f.GetBool("stats")
		caps.ReadGroups, _ = f.GetBool("groups")
		if caps.ReadEmails && !caps.ReadCompanies {
			return badInput(eris.New("tokens create: --emails requires --companies"))
		}
		appURL, _ := f.GetString("app-url")
		var userID *int64
		if v, _ := f.GetInt64("user"); v > 0 {
			userID = &v
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tok, err := st.CreateToken(ctx, args[0], appURL, userID, caps)
		if err != nil {
			return eris.Wrap(err, "tokens create")
		}
		if asJSON, _ := f.GetBool("json"); asJSON {
			return writeJSON(os.Stdout, tok)
		}
		fmt.Printf("Token %d (%s): %s\n", tok.ID, tok.Name, tok.Token)
		return nil
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tokens, err := st.ListTokens(ctx)
		if err != nil {
			return eris.Wrap(err, "tokens list")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, tokens)
		}
		if len(tokens) == 0 {
			fmt.Fprintln(os.Stderr, "No tokens.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tCAPS\tLAST USED")
		_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t---------")
		for _, t := range tokens {
			last := "-"
			if t.LastUsed != nil {
				last = t.LastUsed.Format("2006-01-02 15:04")
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\n", t.ID, truncate(t.Name, 30), t.Active, capsString(t.Caps), last)
		}
		_ = w.Flush()
		return nil
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Deactivate an API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return eris.Wrap(st.RevokeToken(ctx, id), "tokens revoke")
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage company groups",
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		color, _ := cmd.Flags().GetString("color")
		desc, _ := cmd.Flags().GetString("description")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id, err := st.CreateGroup(ctx, args[0], color, desc)
		if err != nil {
			return eris.Wrap(err, "groups create")
		}
		fmt.Printf("Group %d created.\n", id)
		return nil
	},
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups with their company counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		groups, err := st.ListGroups(ctx)
		if err != nil {
			return eris.Wrap(err, "groups list")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, groups)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tNAME\tCOLOR\tCOMPANIES")
		_, _ = fmt.Fprintln(w, "--\t----\t-----\t---------")
		for _, g := range groups {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", g.ID, truncate(g.Name, 30), g.Color, g.CompanyCount)
		}
		_ = w.Flush()
		return nil
	},
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a group; its companies are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return eris.Wrap(st.DeleteGroup(ctx, id), "groups delete")
	},
}

func init() {
	f := tokensCreateCmd.Flags()
	f.Bool("companies", false, "allow reading companies")
	f.Bool("emails", false, "include contact fields in company reads")
	f.Bool("stats", false, "allow reading statistics")
	f.Bool("groups", false, "allow reading groups")
	f.String("app-url", "", "URL of the calling application")
	f.Int64("user", 0, "owning user id")
	f.Bool("json", false, "print as JSON")
	tokensListCmd.Flags().Bool("json", false, "print as JSON")
	tokensCmd.AddCommand(tokensCreateCmd, tokensListCmd, tokensRevokeCmd)

	groupsCreateCmd.Flags().String("color", "", "display color (default blue)")
	groupsCreateCmd.Flags().String("description", "", "description")
	groupsListCmd.Flags().Bool("json", false, "print as JSON")
	groupsCmd.AddCommand(groupsCreateCmd, groupsListCmd, groupsDeleteCmd)

	rootCmd.AddCommand(tokensCmd, groupsCmd)
}

func capsString(c model.TokenCaps) string {
	var s string
	for _, p := range []struct {
		on   bool
		name string
	}{
		{c.ReadCompanies, "companies"},
		{c.ReadEmails, "emails"},
		{c.ReadStats, "stats"},
		{c.ReadGroups, "groups"},
	} {
		if !p.on {
			continue
		}
		if s != "" {
			s += ","
		}
		s += p.name
	}
	if s == "" {
		return "-"
	}
	return s
}
