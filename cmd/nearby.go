package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/placescout/internal/api"
	"github.com/sells-group/placescout/internal/discovery"
)

type nearbyOptions struct {
	Lat    float64
	Lng    float64
	Limit  int
	Format string
	Key    string
}

func newNearbyCmd(profile discovery.Profile) *cobra.Command {
	var opts nearbyOptions

	cmd := &cobra.Command{
		Use:     string(profile) + "s",
		Short:   fmt.Sprintf("Rank the top %ss near a point", profile),
		Example: fmt.Sprintf("  placescout %ss --lat 48.8584 --lng 2.2945 --limit 5", profile),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate("query"); err != nil {
				return err
			}
			if opts.Limit < 0 {
				opts.Limit = cfg.Discovery.DefaultLimit
			}
			if opts.Key == "" {
				opts.Key = cfg.Google.APIKey
			}

			env, err := initEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			return runNearby(cmd.Context(), cmd.OutOrStdout(), env.Engine, profile, opts)
		},
	}

	cmd.Flags().Float64Var(&opts.Lat, "lat", 0, "latitude of the search center")
	cmd.Flags().Float64Var(&opts.Lng, "lng", 0, "longitude of the search center")
	cmd.Flags().IntVar(&opts.Limit, "limit", -1, "number of results (default from config)")
	cmd.Flags().StringVar(&opts.Format, "format", "table", "output format: table, json or geojson")
	cmd.Flags().StringVar(&opts.Key, "key", "", "Places API key (default from config)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")

	return cmd
}

func runNearby(ctx context.Context, out io.Writer, ranker api.Ranker, profile discovery.Profile, opts nearbyOptions) error {
	format := strings.ToLower(opts.Format)
	switch format {
	case "table", "json", "geojson":
	default:
		return eris.Errorf("unknown format %q: want table, json or geojson", opts.Format)
	}

	center := discovery.Point{Lat: opts.Lat, Lng: opts.Lng}
	top, err := ranker.Top(ctx, profile, center, opts.Key, opts.Limit)
	if err != nil {
		var nf *discovery.NotFoundError
		if errors.As(err, &nf) {
			_, _ = fmt.Fprintf(out, "No %ss found near %.6f,%.6f.\n", profile, nf.Lat, nf.Lng)
			return nil
		}
		var apiErr *discovery.APIError
		if errors.As(err, &apiErr) {
			return eris.Wrap(err, "places service failed, try again later")
		}
		return err
	}

	switch format {
	case "json":
		return writeIndentedJSON(out, api.TopResponse{Profile: profile, Center: center, Count: len(top), Results: top})
	case "geojson":
		return writeIndentedJSON(out, discovery.FeatureCollection(top))
	default:
		formatScored(out, top)
		return nil
	}
}

func writeIndentedJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}

func formatScored(out io.Writer, scored []discovery.ScoredCandidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tNAME\tSCORE\tQUALITY\tDIVERSITY\tLOCALITY\tRATING\tREVIEWS\tDISTANCE")
	_, _ = fmt.Fprintln(w, "-\t----\t-----\t-------\t---------\t--------\t------\t-------\t--------")

	for i, sc := range scored {
		name := truncateName(sc.Name, 40)
		_, _ = fmt.Fprintf(w, "%d\t%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%d\t%.0fm\n",
			i+1, name, sc.Score,
			sc.Breakdown.Quality, sc.Breakdown.Diversity, sc.Breakdown.Locality,
			sc.Rating, sc.ReviewCount, sc.DistanceMeters,
		)
	}
	_ = w.Flush()
}

// truncateName shortens name to at most limit runes, marking the cut.
func truncateName(name string, limit int) string {
	runes := []rune(name)
	if len(runes) <= limit {
		return name
	}
	return string(runes[:limit-3]) + "..."
}

func init() {
	rootCmd.AddCommand(newNearbyCmd(discovery.ProfileAttraction))
	rootCmd.AddCommand(newNearbyCmd(discovery.ProfileRestaurant))
}
