package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittometa/cmd/dmetactl/cmdutil"
	"github.com/marmos91/dittometa/internal/cli/output"
	"github.com/marmos91/dittometa/pkg/metadata"
)

// entryList renders dentries as a table.
type entryList []*metadata.DirEntry

func (l entryList) Headers() []string {
	return []string{"NAME", "TYPE", "ENTRY ID", "OWNER", "INLINED", "MODE", "SIZE", "LINKS"}
}

func (l entryList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		mode, size, links := "-", "-", "-"
		if e.Inode != nil {
			mode = output.Mode(e.Inode.Stat.Mode)
			size = strconv.FormatInt(e.Inode.Stat.Size, 10)
			links = strconv.FormatUint(uint64(e.Inode.Stat.NumHardlinks), 10)
		}
		rows = append(rows, []string{
			e.Name,
			e.Type.String(),
			e.EntryID,
			strconv.FormatUint(uint64(e.OwnerNodeID), 10),
			strconv.FormatBool(e.IsInlined()),
			mode,
			size,
			links,
		})
	}
	return rows
}

var lsCmd = &cobra.Command{
	Use:   "ls [dir-id]",
	Short: "List the dentries of a directory",
	Long: `List the dentries of a directory by reading the record store.

The directory is named by its entry ID; the root directory is "root".

Examples:
  dmetactl ls
  dmetactl ls 5A1-6530F2C1-1 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	dirID := metadata.RootDirID
	if len(args) == 1 {
		dirID = args[0]
	}

	off, err := cmdutil.OpenOffline(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = off.Close() }()

	entries, err := off.Dentries(dirID).Entries(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dirID, err)
	}
	return cmdutil.PrintOutput(cmd.OutOrStdout(), entries, len(entries) == 0,
		"Directory is empty.", entryList(entries))
}

var statCmd = &cobra.Command{
	Use:   "stat <dir-id> <name>",
	Short: "Show a dentry and its inode",
	Long: `Show a dentry and its inode by reading the record store.

Standalone file inodes and directory inodes are loaded from the inode hash
tree; inlined inodes come with the dentry.

Examples:
  dmetactl stat root hello.txt`,
	Args: cobra.ExactArgs(2),
	RunE: runStat,
}

// statResult is the JSON shape of stat.
type statResult struct {
	Entry    *metadata.DirEntry     `json:"entry"`
	DirInode *metadata.DirInodeData `json:"dir_inode,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dirID, name := args[0], args[1]

	off, err := cmdutil.OpenOffline(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = off.Close() }()

	e, err := off.Dentries(dirID).Lookup(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up %s in %s: %w", name, dirID, err)
	}

	res := statResult{Entry: e}
	var stat *metadata.StatData

	switch {
	case e.Type.IsDir():
		res.DirInode, err = off.Storage.LoadDirInode(ctx, e.EntryID)
		if err != nil {
			return fmt.Errorf("failed to load directory inode: %w", err)
		}
		stat = &res.DirInode.Stat
	case e.Inode == nil || !e.IsInlined():
		loaded, _, err := off.Storage.LoadFileInode(ctx, dirID, e.EntryID, false)
		if err != nil {
			return fmt.Errorf("failed to load file inode: %w", err)
		}
		e.Inode = loaded.Inode
		stat = &e.Inode.Stat
	default:
		stat = &e.Inode.Stat
	}

	var kv output.KeyValues
	kv.Add("Name", e.Name)
	kv.Add("Entry ID", e.EntryID)
	kv.Add("Type", e.Type.String())
	kv.Add("Owner node", strconv.FormatUint(uint64(e.OwnerNodeID), 10))
	kv.Add("Inlined", strconv.FormatBool(e.IsInlined()))
	kv.Add("Mirrored", strconv.FormatBool(e.IsBuddyMirrored()))
	addStat(&kv, stat)
	if res.DirInode != nil {
		kv.Add("Parent", res.DirInode.ParentDirID)
		kv.Add("Subdirs", output.Count(int64(res.DirInode.NumSubdirs)))
		kv.Add("Files", output.Count(int64(res.DirInode.NumFiles)))
		addPattern(&kv, res.DirInode.Pattern)
	} else if e.Inode != nil {
		addPattern(&kv, e.Inode.Pattern)
	}

	return cmdutil.PrintResource(cmd.OutOrStdout(), res, kv)
}

func addStat(kv *output.KeyValues, s *metadata.StatData) {
	now := time.Now()
	kv.Add("Mode", output.Mode(s.Mode))
	kv.Add("UID/GID", fmt.Sprintf("%d/%d", s.UID, s.GID))
	kv.Add("Size", output.Size(uint64(max(s.Size, 0))))
	kv.Add("Links", strconv.FormatUint(uint64(s.NumHardlinks), 10))
	kv.Add("Modified", output.Time(time.Unix(s.MTime, 0), now))
	kv.Add("Changed", output.Time(time.Unix(s.CTime, 0), now))
}

func addPattern(kv *output.KeyValues, p metadata.StripePattern) {
	if p == nil {
		return
	}
	kv.Add("Pattern", p.Type().String())
	kv.Add("Chunk size", output.Size(uint64(p.Header().ChunkSize)))
	kv.Add("Targets", fmt.Sprint(p.StripeTargets()))
}
