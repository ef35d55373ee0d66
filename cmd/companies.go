package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-intel/internal/export"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/store"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Inspect and curate the company corpus",
	Long:  "Commands for listing, viewing, exporting, and annotating stored companies.",
}

// -- companies list --

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := companyFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		companies, total, err := st.ListCompanies(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "companies list")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, map[string]any{"companies": companies, "total": total})
		}
		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies found.")
			return nil
		}
		formatCompanies(os.Stdout, companies)
		fmt.Fprintf(os.Stderr, "%d of %d companies\n", len(companies), total)
		return nil
	},
}

// -- companies show --

var companiesShowCmd = &cobra.Command{
	Use:   "show <company-id>",
	Short: "Show a company with its persons and latest reports",
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

		c, err := st.GetCompany(ctx, id)
		if err != nil {
			return eris.Wrap(err, "companies show")
		}
		persons, err := st.ListPersons(ctx, id)
		if err != nil {
			return eris.Wrap(err, "companies show: persons")
		}
		scrapers, err := st.ListScrapers(ctx, id)
		if err != nil {
			return eris.Wrap(err, "companies show: scrapers")
		}

		out := map[string]any{
			"company":  c,
			"persons":  persons,
			"scrapers": scrapers,
		}
		if r, err := st.LatestTechnical(ctx, id); err == nil {
			out["technical"] = r
		}
		if r, err := st.LatestOSINT(ctx, id); err == nil {
			out["osint"] = r
		}
		if r, err := st.LatestPentest(ctx, id); err == nil {
			out["pentest"] = r
		}
		if r, err := st.LatestSEO(ctx, id); err == nil {
			out["seo"] = r
		}
		return writeJSON(os.Stdout, out)
	},
}

// -- companies stats --

var companiesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var analysisID *int64
		if v, _ := cmd.Flags().GetInt64("analysis"); v > 0 {
			analysisID = &v
		}
		stats, err := st.Statistics(ctx, analysisID)
		if err != nil {
			return eris.Wrap(err, "companies stats")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, stats)
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

// -- companies export --

var companiesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export companies to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := companyFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		companies, _, err := st.ListCompanies(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "companies export")
		}

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		omit, _ := cmd.Flags().GetBool("omit-emails")
		opts := export.Options{OmitEmails: omit}

		switch format {
		case "csv":
			if output == "" {
				return export.WriteCSV(os.Stdout, companies, opts)
			}
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrap(err, "companies export: create output file")
			}
			defer f.Close() //nolint:errcheck
			return export.WriteCSV(f, companies, opts)
		case "xlsx":
			if output == "" {
				if err := os.MkdirAll(cfg.Server.ExportFolder, 0o750); err != nil {
					return eris.Wrap(err, "companies export: export folder")
				}
				output = filepath.Join(cfg.Server.ExportFolder, "companies_"+time.Now().Format("20060102_150405")+".xlsx")
			}
			if err := export.WriteXLSX(output, companies, opts); err != nil {
				return err
			}
			fmt.Println(output)
			return nil
		default:
			return badInput(eris.Errorf("companies export: unknown format %q (csv, xlsx)", format))
		}
	},
}

// -- companies set --

var companiesSetCmd = &cobra.Command{
	Use:   "set <company-id>",
	Short: "Update a company's status, tags, notes, or favorite flag",
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

		f := cmd.Flags()
		if f.Changed("status") {
			raw, _ := f.GetString("status")
			status, err := st.UpdateStatus(ctx, id, raw)
			if err != nil {
				return eris.Wrap(err, "companies set: status")
			}
			fmt.Printf("status: %s\n", status)
		}
		if f.Changed("tags") {
			raw, _ := f.GetString("tags")
			if err := st.UpdateTags(ctx, id, splitAndTrim(raw)); err != nil {
				return eris.Wrap(err, "companies set: tags")
			}
		}
		if f.Changed("notes") {
			notes, _ := f.GetString("notes")
			if err := st.UpdateNotes(ctx, id, notes); err != nil {
				return eris.Wrap(err, "companies set: notes")
			}
		}
		if toggle, _ := f.GetBool("toggle-favorite"); toggle {
			fav, err := st.ToggleFavorite(ctx, id)
			if err != nil {
				return eris.Wrap(err, "companies set: favorite")
			}
			fmt.Printf("favorite: %t\n", fav)
		}
		if g, _ := f.GetInt64("add-group"); g > 0 {
			if err := st.AddToGroup(ctx, g, id); err != nil {
				return eris.Wrap(err, "companies set: add group")
			}
		}
		if g, _ := f.GetInt64("remove-group"); g > 0 {
			if err := st.RemoveFromGroup(ctx, g, id); err != nil {
				return eris.Wrap(err, "companies set: remove group")
			}
		}
		return nil
	},
}

// -- companies delete --

var companiesDeleteCmd = &cobra.Command{
	Use:   "delete <company-id>",
	Short: "Delete a company and everything attached to it",
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
		return eris.Wrap(st.DeleteCompany(ctx, id), "companies delete")
	},
}

func init() {
	for _, c := range []*cobra.Command{companiesListCmd, companiesExportCmd} {
		f := c.Flags()
		f.Int64("analysis", 0, "only companies of this analysis")
		f.Int64("group", 0, "only companies of this group")
		f.String("sector", "", "sector")
		f.String("status", "", "status (New, ToQualify, Relance, Won, Lost, Prospect, Competitor)")
		f.String("opportunity", "", "opportunity grade (VeryHigh, High, Medium, Low, VeryLow)")
		f.String("search", "", "substring of name, website, email, or address")
		f.Bool("favorites", false, "only favorites")
		f.Int("security-max", -1, "maximum security score")
		f.Int("pentest-min", -1, "minimum pentest risk score")
	}
	companiesListCmd.Flags().Int("limit", 50, "maximum number of companies (0 = all)")
	companiesListCmd.Flags().Int("offset", 0, "companies to skip")
	companiesListCmd.Flags().Bool("json", false, "print as JSON")

	companiesExportCmd.Flags().String("format", "csv", "output format: csv or xlsx")
	companiesExportCmd.Flags().String("output", "", "output file (csv default stdout, xlsx default export folder)")
	companiesExportCmd.Flags().Bool("omit-emails", false, "leave email and responsible columns empty")

	companiesStatsCmd.Flags().Int64("analysis", 0, "scope statistics to one analysis")
	companiesStatsCmd.Flags().Bool("json", false, "print as JSON")

	f := companiesSetCmd.Flags()
	f.String("status", "", "new status")
	f.String("tags", "", "comma-separated tags, replacing the current ones")
	f.String("notes", "", "notes, replacing the current ones")
	f.Bool("toggle-favorite", false, "flip the favorite flag")
	f.Int64("add-group", 0, "add the company to this group")
	f.Int64("remove-group", 0, "remove the company from this group")

	companiesCmd.AddCommand(companiesListCmd, companiesShowCmd, companiesStatsCmd,
		companiesExportCmd, companiesSetCmd, companiesDeleteCmd)
	rootCmd.AddCommand(companiesCmd)
}

// companyFilterFromFlags builds a store filter from the list/export flags.
func companyFilterFromFlags(cmd *cobra.Command) (store.CompanyFilter, error) {
	f := cmd.Flags()
	var filter store.CompanyFilter

	filter.Sector, _ = f.GetString("sector")
	filter.Search, _ = f.GetString("search")
	if v, _ := f.GetInt64("analysis"); v > 0 {
		filter.AnalysisID = &v
	}
	if v, _ := f.GetInt64("group"); v > 0 {
		filter.GroupID = &v
	}
	if v, _ := f.GetBool("favorites"); v {
		filter.Favorite = &v
	}
	if v, _ := f.GetInt("security-max"); v >= 0 {
		filter.SecurityMax = &v
	}
	if v, _ := f.GetInt("pentest-min"); v >= 0 {
		filter.PentestMin = &v
	}
	if v, _ := f.GetString("status"); v != "" {
		status, err := model.ParseStatus(v)
		if err != nil {
			return filter, badInput(err)
		}
		filter.Status = string(status)
	}
	if v, _ := f.GetString("opportunity"); v != "" {
		filter.Opportunity = strings.TrimSpace(v)
	}
	if f.Lookup("limit") != nil {
		filter.Limit, _ = f.GetInt("limit")
		filter.Offset, _ = f.GetInt("offset")
	}
	return filter, nil
}
