package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourorg/erp-loader/internal/grouping"
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "List the business objects that can be submitted",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "OBJECT\tMODE\tGROUPED BY\tENTITY")
		for _, name := range grouping.Names() {
			l, _ := grouping.Lookup(name)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Name, l.Mode, strings.Join(l.KeyFields, "+"), l.Entity)
		}
		_ = tw.Flush()
	},
}
