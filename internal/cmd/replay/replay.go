// Package replay contains the `replay` command, which reads exported
// fragments back from the Pebble store.
package replay

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/flo-dispatcher/internal/config"
	"github.com/rzbill/flo-dispatcher/internal/exporter"
	"github.com/rzbill/flo-dispatcher/internal/filter"
	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
	pebblestore "github.com/rzbill/flo-dispatcher/internal/storage/pebble"
)

const pageSize = 256

// Options select what to replay.
type Options struct {
	DataDir    string
	Dispatcher string
	Start      uint64
	Limit      int // matched records; zero means all
	Filter     string
	Text       bool
}

type line struct {
	Seq       uint64 `json:"seq"`
	StreamID  int32  `json:"stream"`
	Failed    bool   `json:"failed,omitempty"`
	Partition int32  `json:"partition"`
	Offset    int32  `json:"offset"`
	Payload   []byte `json:"payload"`
}

// Run writes matching records to w, one per line, and returns how many were
// written.
func Run(w io.Writer, opts Options) (int, error) {
	f, err := filter.Compile(opts.Filter)
	if err != nil {
		return 0, err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		return 0, err
	}
	defer db.Close()

	enc := json.NewEncoder(w)
	written := 0
	start := opts.Start
	for {
		items, next, err := exporter.Read(db, opts.Dispatcher, exporter.ReadOptions{Start: start, Limit: pageSize})
		if err != nil {
			return written, err
		}
		for _, it := range items {
			if !f.Match(it.Payload, it.StreamID, it.Failed) {
				continue
			}
			if opts.Text {
				_, err = fmt.Fprintf(w, "%d\t%d\t%d:%d\t%s\n", it.Seq, it.StreamID,
					logbuffer.PartitionID(it.Position), logbuffer.PartitionOffset(it.Position), it.Payload)
			} else {
				err = enc.Encode(line{
					Seq:       it.Seq,
					StreamID:  it.StreamID,
					Failed:    it.Failed,
					Partition: logbuffer.PartitionID(it.Position),
					Offset:    logbuffer.PartitionOffset(it.Position),
					Payload:   it.Payload,
				})
			}
			if err != nil {
				return written, err
			}
			written++
			if opts.Limit > 0 && written >= opts.Limit {
				return written, nil
			}
		}
		if next == 0 {
			return written, nil
		}
		start = next
	}
}

// NewReplayCommand constructs the `replay` command.
func NewReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print fragments exported by a dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts Options
			opts.DataDir, _ = cmd.Flags().GetString("data-dir")
			opts.Dispatcher, _ = cmd.Flags().GetString("dispatcher")
			opts.Start, _ = cmd.Flags().GetUint64("start")
			opts.Limit, _ = cmd.Flags().GetInt("limit")
			opts.Filter, _ = cmd.Flags().GetString("filter")
			opts.Text, _ = cmd.Flags().GetBool("text")
			if opts.Dispatcher == "" {
				return fmt.Errorf("--dispatcher is required")
			}
			if opts.DataDir == "" {
				opts.DataDir = cfgpkg.DefaultExportDir()
			}
			_, err := Run(cmd.OutOrStdout(), opts)
			return err
		},
	}
	cmd.Flags().String("data-dir", "", "Export store directory (default: OS data dir/export)")
	cmd.Flags().String("dispatcher", "", "Dispatcher name")
	cmd.Flags().Uint64("start", 0, "First sequence to read")
	cmd.Flags().Int("limit", 0, "Maximum records to print (0 = all)")
	cmd.Flags().String("filter", "", "CEL filter, e.g. 'stream_id == 2 && !failed'")
	cmd.Flags().Bool("text", false, "Tab-separated output with the payload as text")
	return cmd
}
