package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-intel/internal/store"
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby [company-id]",
	Short: "Find companies around a point or a company",
	Long: `List stored companies within a radius, nearest first.

With a company id, report the competition around that company: the
companies of the same sector inside the radius with distance and rating
aggregates. Otherwise search around --lat/--lon.

Examples:
  prospect-cli nearby --lat 49.119 --lon 6.176 --radius 5
  prospect-cli nearby 42 --radius 15`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()

		radius, _ := f.GetFloat64("radius")
		if radius <= 0 || radius > 500 {
			return badInput(eris.Errorf("nearby: radius must be in (0, 500] km, got %g", radius))
		}
		asJSON, _ := f.GetBool("json")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			comp, err := st.Competition(ctx, id, radius)
			if err != nil {
				if eris.Is(err, store.ErrNoCoordinates) {
					return badInput(err)
				}
				return eris.Wrap(err, "nearby: competition")
			}
			if asJSON {
				return writeJSON(os.Stdout, comp)
			}
			fmt.Printf("%s (%s): %d competitors within %g km\n",
				comp.Reference.Name, comp.Reference.Sector, comp.Count, comp.RadiusKM)
			if comp.AvgDistanceKM != nil {
				fmt.Printf("distance avg %.2f km, min %.2f km, max %.2f km\n",
					*comp.AvgDistanceKM, *comp.MinDistanceKM, *comp.MaxDistanceKM)
			}
			if comp.AvgRating != nil {
				fmt.Printf("rating avg %.2f over %d reviews\n", *comp.AvgRating, comp.TotalReviews)
			}
			if len(comp.Competitors) > 0 {
				fmt.Println()
				formatNearby(os.Stdout, comp.Competitors)
			}
			return nil
		}

		if !f.Changed("lat") || !f.Changed("lon") {
			return badInput(eris.New("nearby: --lat and --lon are required without a company id"))
		}
		q := store.NearbyQuery{RadiusKM: radius}
		q.Lat, _ = f.GetFloat64("lat")
		q.Lon, _ = f.GetFloat64("lon")
		q.Sector, _ = f.GetString("sector")
		q.Limit, _ = f.GetInt("limit")
		if q.Lat < -90 || q.Lat > 90 || q.Lon < -180 || q.Lon > 180 {
			return badInput(eris.Errorf("nearby: coordinates out of range (%g, %g)", q.Lat, q.Lon))
		}

		found, err := st.Nearby(ctx, q)
		if err != nil {
			return eris.Wrap(err, "nearby")
		}
		if asJSON {
			return writeJSON(os.Stdout, found)
		}
		if len(found) == 0 {
			fmt.Fprintln(os.Stderr, "No companies in range.")
			return nil
		}
		formatNearby(os.Stdout, found)
		return nil
	},
}

func init() {
	f := nearbyCmd.Flags()
	f.Float64("lat", 0, "latitude of the search center")
	f.Float64("lon", 0, "longitude of the search center")
	f.Float64("radius", 10, "search radius in km")
	f.String("sector", "", "only companies of this sector")
	f.Int("limit", 50, "maximum number of results (0 = all)")
	f.Bool("json", false, "print as JSON")
	rootCmd.AddCommand(nearbyCmd)
}
