package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fibermap/core-go/internal/topology"
)

func newBudgetCmd(opts *options) *cobra.Command {
	var chain bool
	cmd := &cobra.Command{
		Use:   "budget <item-id>",
		Short: "Show the optical power reading of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if chain {
				hops, err := s.svc.PowerChain(args[0])
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(out, hops)
				}
				printChain(out, hops)
				return nil
			}

			reading, err := s.svc.ComputePower(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(out, reading)
			}
			it, _ := s.svc.Item(args[0])
			printReading(out, it.Name, reading)
			return nil
		},
	}
	cmd.Flags().BoolVar(&chain, "chain", false, "show every hop from the root down to the item")
	return cmd
}

func newCountsCmd(opts *options) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "counts <item-id>",
		Short: "Count ODCs, ODPs and ONUs below an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if kind != "" {
				k, ok := topology.ParseKind(kind)
				if !ok {
					return fmt.Errorf("unknown item type %q", kind)
				}
				n, err := s.svc.CountDescendants(args[0], k)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(out, map[string]any{"item_id": args[0], "item_type": k, "count": n})
				}
				fmt.Fprintf(out, "%s %d\n", boldStyle.Render(string(k)), n)
				return nil
			}

			counts, err := s.svc.GetHierarchyCounts(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(out, counts)
			}
			fmt.Fprintf(out, "%s  odc %d  odp %d  onu %d\n", boldStyle.Render(args[0]), counts.ODC, counts.ODP, counts.ONU)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "", "count a single item type")
	return cmd
}

func newPortsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports <item-id>",
		Short: "Show port occupancy of a server, ODC or ODP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ports, err := s.svc.GetPortMap(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), ports.Ports())
			}
			printPorts(cmd.OutOrStdout(), args[0], ports.Ports())
			return nil
		},
	}
}

func newCascadeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cascade <odp-id>",
		Short: "Find the ODP fed by the cascade leg of a custom splitter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			child, ok, err := s.svc.ResolveCascadeChild(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				resp := map[string]any{"item_id": args[0], "found": ok}
				if ok {
					resp["child_id"] = child
				}
				return writeJSON(out, resp)
			}
			if !ok {
				fmt.Fprintln(out, dimStyle.Render("no cascade child"))
				return nil
			}
			fmt.Fprintf(out, "%s -> %s\n", args[0], boldStyle.Render(child))
			return nil
		},
	}
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <topology.yaml>",
		Short: "Create or update items in the store from a YAML topology file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.file != "" {
				return fmt.Errorf("import writes to the store; drop --file")
			}
			f, err := readTopologyFile(args[0])
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			sum, err := s.svc.Import(cmd.Context(), f)
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if jerr := writeJSON(out, sum); jerr != nil {
					return jerr
				}
			} else {
				fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("%d created, %d updated, %d connections", sum.Created, sum.Updated, sum.Connections)))
				for _, id := range sum.Skipped {
					fmt.Fprintln(out, warnStyle.Render("Warning: skipped "+id+": parent not found"))
				}
			}
			return err
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the network as a YAML topology file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if outPath == "" || outPath == "-" {
				return topology.WriteYAML(cmd.OutOrStdout(), s.svc.Snapshot())
			}
			fh, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := topology.WriteYAML(fh, s.svc.Snapshot()); err != nil {
				fh.Close()
				return err
			}
			return fh.Close()
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: stdout)")
	return cmd
}
