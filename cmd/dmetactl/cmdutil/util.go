// Package cmdutil provides shared utilities for dmetactl commands.
package cmdutil

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittometa/internal/cli/output"
	"github.com/marmos91/dittometa/pkg/apiclient"
	"github.com/marmos91/dittometa/pkg/config"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/codec"
	"github.com/marmos91/dittometa/pkg/metadata/inode"
	"github.com/marmos91/dittometa/pkg/metadata/store"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	Config string
	Server string
	Output string
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// GetClient returns an admin API client. The --server flag wins over the
// admin listen address of the configuration.
func GetClient() (*apiclient.Client, error) {
	if Flags.Server != "" {
		return apiclient.New(Flags.Server), nil
	}
	cfg, err := config.Load(Flags.Config)
	if err != nil {
		return nil, err
	}
	if !cfg.Admin.Enabled {
		return nil, fmt.Errorf("admin API is disabled in the configuration; pass --server")
	}
	return apiclient.New(cfg.Admin.Listen), nil
}

// Offline gives direct read access to the records of a stopped node.
type Offline struct {
	Storage *inode.Storage
	records store.RecordStore
}

// OpenOffline opens the record store named by the configuration.
func OpenOffline(ctx context.Context) (*Offline, error) {
	cfg, err := config.MustLoad(Flags.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Metadata.Backend == config.BackendMemory {
		return nil, fmt.Errorf("the memory backend keeps no records to inspect")
	}

	records, err := config.OpenRecordStore(ctx, cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	c := codec.New(codec.LocalContext{
		NodeID:  metadata.NodeID(cfg.Metadata.NodeID),
		GroupID: metadata.NodeID(cfg.Metadata.BuddyGroupID),
	})
	c.DentryLimit = int(cfg.Metadata.DentryBufferSize)
	c.InodeLimit = int(cfg.Metadata.InodeBufferSize)

	return &Offline{
		Storage: &inode.Storage{
			Records: records,
			Codec:   c,
			Layout:  store.NewLayout(cfg.Metadata.HashDirs),
		},
		records: records,
	}, nil
}

// Dentries returns the dentry store of dirID.
func (o *Offline) Dentries(dirID string) *inode.DentryStore {
	return inode.NewDentryStore(o.Storage, dirID, false)
}

// Close releases the record store.
func (o *Offline) Close() error {
	return o.records.Close()
}

// PrintOutput prints data in the selected format. For table format, it
// displays emptyMsg if data is empty, otherwise uses the tableRenderer.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintResource prints a single resource as key/value pairs in table
// format, or data as JSON/YAML.
func PrintResource(w io.Writer, data any, pairs output.KeyValues) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		return output.PrintKeyValues(w, pairs)
	}
}
