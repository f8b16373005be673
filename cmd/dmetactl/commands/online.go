package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittometa/cmd/dmetactl/cmdutil"
	"github.com/marmos91/dittometa/internal/cli/output"
	"github.com/marmos91/dittometa/pkg/metadata/lock"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the cache occupancy of a running node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetClient()
		if err != nil {
			return err
		}
		stats, err := client.Stats(cmd.Context())
		if err != nil {
			return err
		}

		var kv output.KeyValues
		kv.Add("Referenced dirs", output.Count(int64(stats.CachedDirs)))
		kv.Add("Dir cache", output.Count(int64(stats.DirCache)))
		kv.Add("Global files", output.Count(int64(stats.GlobalFiles)))
		kv.Add("Inlined files", output.Count(int64(stats.InlinedFiles)))
		return cmdutil.PrintResource(cmd.OutOrStdout(), stats, kv)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the record store of a running node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetClient()
		if err != nil {
			return err
		}
		health, err := client.Health(cmd.Context())
		if err != nil {
			return err
		}

		var kv output.KeyValues
		kv.Add("Backend", health.Backend)
		kv.Add("Status", health.Status)
		kv.Add("Latency", health.Latency)
		return cmdutil.PrintResource(cmd.OutOrStdout(), health, kv)
	},
}

// lockTable renders every holder and waiter of a file.
type lockTable struct {
	rows [][]string
}

func (t *lockTable) Headers() []string {
	return []string{"FAMILY", "STATE", "KIND", "CLIENT", "HANDLE", "PID", "RANGE", "ACK ID"}
}

func (t *lockTable) Rows() [][]string { return t.rows }

func (t *lockTable) add(family, state string, reqs ...lock.Request) {
	for _, r := range reqs {
		span := "-"
		if family == "range" {
			span = strconv.FormatUint(r.Start, 10) + "-" + strconv.FormatUint(r.End, 10)
		}
		t.rows = append(t.rows, []string{
			family,
			state,
			r.Kind.String(),
			strconv.FormatUint(uint64(r.ClientNumID), 10),
			strconv.FormatInt(r.Handle, 10),
			strconv.FormatInt(int64(r.OwnerPID), 10),
			span,
			r.AckID,
		})
	}
}

func (t *lockTable) addQueue(family string, q lock.QueueSnapshot) {
	if q.Exclusive != nil {
		t.add(family, "granted", *q.Exclusive)
	}
	t.add(family, "granted", q.Shared...)
	t.add(family, "waiting", q.WaitersExcl...)
	t.add(family, "waiting", q.WaitersShared...)
}

var locksCmd = &cobra.Command{
	Use:   "locks <dir-id> <name>",
	Short: "Show the lock queues of a file on a running node",
	Long: `Show the entry, append and range lock holders and waiters of a file.

Examples:
  dmetactl locks root data.bin
  dmetactl locks root data.bin --server 10.0.0.5:8480 -o json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetClient()
		if err != nil {
			return err
		}
		resp, err := client.Locks(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		t := &lockTable{}
		t.addQueue("entry", resp.Locks.Entry)
		t.addQueue("append", resp.Locks.Append)
		r := resp.Locks.Range
		t.add("range", "granted", r.Exclusive...)
		t.add("range", "granted", r.Shared...)
		t.add("range", "waiting", r.WaitersExcl...)
		t.add("range", "waiting", r.WaitersShared...)
		return cmdutil.PrintOutput(cmd.OutOrStdout(), resp, len(t.rows) == 0, "No locks held.", t)
	},
}
