package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"npos_election/pkg/input"
)

func newSynthCmd(c *cli) *cobra.Command {
	opts := input.DefaultSyntheticConfig()
	var (
		output string
		block  uint64
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic snapshot",
		Long: `Writes a pseudo-random snapshot. The same seed and sizes always produce
the same file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := input.GenerateSynthetic(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("block") {
				d.Metadata.BlockNumber = &block
			}
			if err := input.NewJSONLoader().SaveToFile(output, d); err != nil {
				return err
			}

			c.logger.Info("Synthetic snapshot written",
				zap.String("path", output),
				zap.Int64("seed", opts.Seed))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d candidates and %d nominators to %s\n",
				len(d.Candidates), len(d.Nominators), output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "snapshot file to write")
	f.Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	f.IntVar(&opts.Candidates, "candidates", opts.Candidates, "number of validator candidates")
	f.IntVar(&opts.Nominators, "nominators", opts.Nominators, "number of nominators")
	f.IntVar(&opts.MaxTargets, "max-targets", opts.MaxTargets, "maximum targets per nominator")
	f.Uint64Var(&opts.MinStake, "min-stake", opts.MinStake, "minimum stake")
	f.Uint64Var(&opts.MaxStake, "max-stake", opts.MaxStake, "maximum stake")
	f.Uint64Var(&block, "block", 0, "block number recorded in the snapshot")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
