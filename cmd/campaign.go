package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadgen/internal/campaign"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Run and manage lead generation campaigns",
}

// -- campaign run --

var campaignRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a campaign and wait for it to finish",
	Long:  "Runs a campaign from flags or a YAML request file. Flags override values read from --file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := buildRequest(cmd.Flags())
		if err != nil {
			return err
		}

		env, err := initCampaigns(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		events, unsubscribe := env.Hub.Subscribe(64)
		defer unsubscribe()

		id, err := env.Orchestrator.Start(ctx, req)
		if err != nil {
			return eris.Wrap(err, "campaign run")
		}
		return followCampaign(ctx, os.Stdout, id, events)
	},
}

// buildRequest reads --file, if any, then applies explicitly set flags.
func buildRequest(flags *pflag.FlagSet) (model.CampaignRequest, error) {
	var req model.CampaignRequest
	if path, _ := flags.GetString("file"); path != "" {
		r, err := loadRequestFile(path)
		if err != nil {
			return req, err
		}
		req = r
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	str("name", &req.Name)
	str("industry", &req.Industry)
	str("query", &req.SearchQuery)
	str("service", &req.YourService)
	str("location", &req.Location)
	str("zip-start", &req.ZipStart)
	str("zip-end", &req.ZipEnd)
	str("style", &req.ContentStyle)
	str("language", &req.Language)
	num("batch-size", &req.BatchSize)
	num("max-results", &req.MaxResults)
	if flags.Changed("mode") {
		mode, _ := flags.GetString("mode")
		req.Mode = model.Mode(strings.ToLower(mode))
	}
	return req, nil
}

func loadRequestFile(path string) (model.CampaignRequest, error) {
	var req model.CampaignRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, eris.Wrapf(err, "campaign run: read %s", path)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, eris.Wrapf(err, "campaign run: parse %s", path)
	}
	return req, nil
}

// followCampaign prints events for id until the campaign ends.
func followCampaign(ctx context.Context, w io.Writer, id string, events <-chan model.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return eris.Errorf("campaign %s: event stream closed", id)
			}
			if e.CampaignID() != id {
				continue
			}
			switch ev := e.(type) {
			case model.Started:
				fmt.Fprintf(w, "started    %s: %s\n", id, ev.Message)
			case model.Progress:
				fmt.Fprintf(w, "%3d%% %-18s %s\n", ev.Percentage, ev.Phase, ev.Message)
			case model.Completed:
				fmt.Fprintf(w, "completed  %s: %d leads, %d high priority, average score %.1f\n",
					id, ev.Stats.TotalLeads, ev.Stats.PriorityLeads, ev.Stats.AverageScore)
				return nil
			case model.Failed:
				return eris.Errorf("campaign %s failed: %s", id, ev.Message)
			}
		}
	}
}

// -- campaign list --

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored campaigns, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		campaigns, err := st.ListCampaigns(ctx)
		if err != nil {
			return eris.Wrap(err, "campaign list")
		}
		if len(campaigns) == 0 {
			fmt.Fprintln(os.Stderr, "No campaigns found.")
			return nil
		}
		formatCampaignList(os.Stdout, campaigns)
		return nil
	},
}

func formatCampaignList(w io.Writer, campaigns []model.Campaign) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODE\tSTATUS\tLEADS\tHIGH\tAVG SCORE\tEXECUTED")
	for _, c := range campaigns {
		executed := "-"
		if c.ExecutedAt != nil {
			executed = c.ExecutedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.1f\t%s\n",
			c.ID, c.Name, c.Mode, c.Status,
			c.Stats.TotalLeads, c.Stats.PriorityLeads, c.Stats.AverageScore, executed)
	}
	tw.Flush() //nolint:errcheck
}

// -- campaign show --

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign-id>",
	Short: "Show a campaign and its leads as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := st.GetCampaign(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "campaign show")
		}
		if c.Leads, err = st.LoadLeads(ctx, c.ID); err != nil {
			return eris.Wrap(err, "campaign show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

// -- campaign rename --

var campaignRenameCmd = &cobra.Command{
	Use:   "rename <campaign-id> <name>",
	Short: "Rename a stored campaign",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		name := strings.TrimSpace(args[1])
		if name == "" {
			return eris.New("campaign rename: name must not be empty")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ok, err := st.UpdateCampaign(ctx, args[0], store.CampaignUpdate{Name: &name})
		if err != nil {
			return eris.Wrap(err, "campaign rename")
		}
		if !ok {
			return eris.Wrapf(store.ErrNotFound, "campaign rename %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "Renamed %s to %q\n", args[0], name)
		return nil
	},
}

// -- campaign delete --

var campaignDeleteCmd = &cobra.Command{
	Use:   "delete <campaign-id>",
	Short: "Delete a stored campaign and its leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ok, err := st.DeleteCampaign(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "campaign delete")
		}
		if !ok {
			return eris.Wrapf(store.ErrNotFound, "campaign delete %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "Deleted %s\n", args[0])
		return nil
	},
}

// -- campaign merge --

var campaignMergeCmd = &cobra.Command{
	Use:   "merge <campaign-id> <campaign-id>...",
	Short: "Merge stored campaigns into a new deduplicated campaign",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id, err := campaign.Merge(ctx, st, args, name)
		if err != nil {
			return eris.Wrap(err, "campaign merge")
		}
		fmt.Fprintf(os.Stdout, "Merged %d campaigns into %s\n", len(args), id)
		return nil
	},
}

func registerRunFlags(f *pflag.FlagSet) {
	f.String("file", "", "YAML campaign request file")
	f.String("name", "", "campaign name")
	f.String("industry", "", "industry the leads belong to")
	f.String("query", "", "search phrase, e.g. \"dentist\"")
	f.String("service", "", "the service you are selling")
	f.String("mode", "", "standard or grid (inferred from zip flags when empty)")
	f.String("location", "", "location for standard mode")
	f.String("zip-start", "", "first zip code for grid mode")
	f.String("zip-end", "", "last zip code for grid mode")
	f.Int("batch-size", 0, "concurrent browsers per grid batch (1-5)")
	f.Int("max-results", 0, "target leads per query (default from config)")
	f.String("style", "", "content style (default balanced)")
	f.String("language", "", "content language (default english)")
}

func init() {
	registerRunFlags(campaignRunCmd.Flags())

	campaignMergeCmd.Flags().String("name", "", "name of the merged campaign")
	_ = campaignMergeCmd.MarkFlagRequired("name")

	campaignCmd.AddCommand(campaignRunCmd, campaignListCmd, campaignShowCmd,
		campaignRenameCmd, campaignDeleteCmd, campaignMergeCmd)
	rootCmd.AddCommand(campaignCmd)
}
