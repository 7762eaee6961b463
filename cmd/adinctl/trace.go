package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/sim"
	"github.com/soypat/adin2111/sim/sqlitetrace"
	"github.com/soypat/adin2111/wire"
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace <file.sqlite3>",
	Short: "Print bus transactions recorded by sim --trace.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		summary, _ := cmd.Flags().GetBool("summary")
		recs, err := sqlitetrace.Load(args[0], session)
		if err != nil {
			return err
		}
		if summary {
			return printSummary(cmd.OutOrStdout(), recs)
		}
		return printRecords(cmd.OutOrStdout(), recs)
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().String("session", "", "Only print this session. All sessions by default.")
	traceCmd.Flags().Bool("summary", false, "Print per register access counts instead of every transaction.")
}

func printRecords(w io.Writer, recs []sim.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	var t0 int64
	if len(recs) > 0 {
		t0 = recs[0].Time.UnixNano()
	}
	for _, rec := range recs {
		fmt.Fprintf(tw, "%d\t+%.3fms\t%s\t%s\t", rec.Seq, float64(rec.Time.UnixNano()-t0)/1e6, rec.Dir, regs.Name(rec.Addr))
		switch {
		case rec.InReset:
			fmt.Fprint(tw, "in reset")
		case rec.Stream:
			fmt.Fprintf(tw, "len=%d", rec.Len-wire.HeaderLen)
		default:
			fmt.Fprintf(tw, "%#x", rec.Value)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, recs []sim.Record) error {
	type key struct {
		addr regs.Addr
		dir  wire.Direction
	}
	counts := make(map[key]int)
	var keys []key
	for _, rec := range recs {
		k := key{rec.Addr, rec.Dir}
		if counts[k] == 0 {
			keys = append(keys, k)
		}
		counts[k]++
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i].addr < keys[j].addr
	})
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "register\tdir\tcount\n")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", regs.Name(k.addr), k.dir, counts[k])
	}
	fmt.Fprintf(tw, "total\t\t%d\n", len(recs))
	return tw.Flush()
}
