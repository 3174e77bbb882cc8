package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"npos_election/pkg/data"
	"npos_election/pkg/database"
	"npos_election/pkg/engine"
	"npos_election/pkg/input"
)

type runOptions struct {
	snapshot          string
	overrides         string
	output            string
	algorithm         string
	activeSetSize     uint32
	blockNumber       uint64
	balance           bool
	balanceIterations int
	tolerance         string
	diagnostics       bool
	persist           bool
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an election over a snapshot",
		Long: `Loads a snapshot, applies optional overrides and runs the configured
election algorithm. Flags take precedence over the election section of the
configuration file.

Example:
  npos-election run --snapshot snapshot.json --active-set-size 297 --diagnostics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runElection(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.snapshot, "snapshot", "s", "", "snapshot JSON file")
	f.StringVar(&opts.overrides, "overrides", "", "overrides JSON file")
	f.StringVarP(&opts.output, "output", "o", "", "write the result JSON to this file")
	f.StringVar(&opts.algorithm, "algorithm", "", "election algorithm")
	f.Uint32VarP(&opts.activeSetSize, "active-set-size", "k", 0, "number of validators to elect")
	f.Uint64Var(&opts.blockNumber, "block", 0, "block number recorded in the result")
	f.BoolVar(&opts.balance, "balance", false, "equalize backing across winners")
	f.IntVar(&opts.balanceIterations, "balance-iterations", data.DefaultBalancingIterations, "maximum balancing passes")
	f.StringVar(&opts.tolerance, "tolerance", "0", "stop balancing once the backing spread is within this amount")
	f.BoolVar(&opts.diagnostics, "diagnostics", false, "include diagnostics in the result")
	f.BoolVar(&opts.persist, "persist", false, "store the run in the configured database")
	_ = cmd.MarkFlagRequired("snapshot")

	return cmd
}

// electionConfig merges command flags over the configured defaults
func (c *cli) electionConfig(cmd *cobra.Command, opts *runOptions) (*data.ElectionConfiguration, error) {
	cfg, err := c.cfg.Election.ElectionConfiguration()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("algorithm") {
		if cfg.Algorithm, err = data.ParseAlgorithmType(opts.algorithm); err != nil {
			return nil, err
		}
	}
	if flags.Changed("active-set-size") {
		cfg.ActiveSetSize = opts.activeSetSize
	}
	if flags.Changed("block") {
		cfg.BlockNumber = &opts.blockNumber
	}
	if opts.balance {
		tolerance, err := data.ParseBalance(opts.tolerance)
		if err != nil {
			return nil, err
		}
		cfg.Balancing = &data.BalancingConfig{
			Iterations: opts.balanceIterations,
			Tolerance:  tolerance,
		}
	}
	if opts.overrides != "" {
		if cfg.Overrides, err = input.LoadOverridesFromFile(opts.overrides); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *cli) runElection(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := c.electionConfig(cmd, opts)
	if err != nil {
		return err
	}

	snapshot, err := input.NewJSONLoader().LoadFromFile(opts.snapshot)
	if err != nil {
		return err
	}

	eng := engine.New(engine.WithLogger(c.logger.Named("engine")))
	result, err := eng.ExecuteWithDiagnostics(cfg, snapshot, opts.diagnostics)
	if err != nil {
		return err
	}

	if err := printSummary(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if opts.output != "" {
		if err := input.SaveResultToFile(opts.output, result); err != nil {
			return err
		}
		c.logger.Info("Result written", zap.String("path", opts.output))
	}

	if opts.persist {
		return c.persist(cmd, result)
	}
	return nil
}

func (c *cli) persist(cmd *cobra.Command, result *data.ElectionResult) (err error) {
	if !c.cfg.Database.Enabled {
		return fmt.Errorf("--persist requires database.enabled in the configuration")
	}

	ctx := cmd.Context()
	a, err := newApp(c.cfg, c.logger, false)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.stop(ctx))
	}()

	run, err := database.NewElectionRun(result)
	if err != nil {
		return err
	}
	if err := a.repo.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored run %s\n", run.ID)
	return nil
}

func printSummary(w io.Writer, result *data.ElectionResult) error {
	digest, err := result.Digest()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Rank", "Validator", "Backing", "Self stake", "Nominators"})
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})
	for _, v := range result.SelectedValidators {
		table.Append([]string{
			fmt.Sprint(v.Rank),
			v.AccountID,
			v.TotalBackingStake.String(),
			v.SelfStake.String(),
			fmt.Sprint(v.NominatorCount),
		})
	}
	table.Render()

	fmt.Fprintf(w, "algorithm:   %s\n", result.AlgorithmUsed)
	fmt.Fprintf(w, "validators:  %d\n", result.ValidatorCount())
	fmt.Fprintf(w, "total stake: %s\n", result.TotalStake)
	fmt.Fprintf(w, "digest:      %s\n", digest)

	if d := result.Diagnostics; d != nil {
		fmt.Fprintf(w, "backing:     min %s / mean %s / max %s (spread %s)\n",
			d.MinBacking, d.MeanBacking, d.MaxBacking, d.BackingSpread)
		fmt.Fprintf(w, "unassigned:  %d nominators, %s stake\n",
			d.UnassignedNominators, d.UnassignedStake)
		fmt.Fprintf(w, "unelected:   %d candidates\n", len(d.Unelected))
	}
	return nil
}
