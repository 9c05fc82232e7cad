package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/eshaffer321/ig-go/pkg/ig"
)

func newHierarchyCommand(opts *globalOptions) *cobra.Command {
	var (
		nodeID  string
		depth   int
		asJSON  bool
		markets bool
	)

	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Walk the market navigation tree",
		Long: `Walk the market navigation tree one request at a time, within the
non-trading quota. Nodes whose fetch failed are kept, marked in red,
and the walk continues with their siblings.

A full walk from the root issues one request per node and can take
many minutes on a live account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			nodes, err := client.Hierarchy.Build(cmd.Context(), nodeID, depth)
			if err != nil {
				return err
			}
			if err := opts.saveSession(client); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case asJSON && markets:
				return encodeJSON(out, ig.ExtractMarkets(nodes))
			case asJSON:
				return encodeJSON(out, nodes)
			case markets:
				for _, m := range ig.ExtractMarkets(nodes) {
					fmt.Fprintf(out, "%s\t%s\n", m.Epic, m.InstrumentName)
				}
			default:
				printTree(out, opts.aurora(), nodes)
			}

			degraded := ig.DegradedNodes(nodes)
			fmt.Fprintf(cmd.ErrOrStderr(), "%d nodes, %d markets, %d failed\n",
				ig.CountNodes(nodes), len(ig.ExtractMarkets(nodes)), len(degraded))
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "start below this navigation node instead of the root")
	cmd.Flags().IntVar(&depth, "start-depth", 0, "depth assigned to the start node; the walk stops below depth 7")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a tree")
	cmd.Flags().BoolVar(&markets, "markets", false, "print only the markets found")
	return cmd
}

// printTree prints one line per node, indented by depth. Failed nodes are red,
// markets green.
func printTree(w io.Writer, au aurora.Aurora, nodes []*ig.MarketNode) {
	ig.Walk(nodes, func(n *ig.MarketNode, depth int) bool {
		indent := strings.Repeat("  ", depth)
		switch {
		case n.Degraded:
			fmt.Fprintf(w, "%s%s %s\n", indent, au.Red(n.Name), au.Red("("+n.Error+")"))
		case len(n.Markets) > 0 && len(n.Children) == 0:
			fmt.Fprintf(w, "%s%s %s%s\n", indent, au.Green(n.Name), n.ID, quote(n.Markets[0]))
		default:
			fmt.Fprintf(w, "%s%s\n", indent, au.Bold(n.Name))
		}
		return true
	})
}

func quote(m ig.MarketData) string {
	if !m.Bid.Valid || !m.Offer.Valid {
		return ""
	}
	return fmt.Sprintf(" %s/%s", m.Bid.Decimal.String(), m.Offer.Decimal.String())
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
