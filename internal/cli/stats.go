package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wwzcrack/functionsimsearch/pkg/index"
	"github.com/wwzcrack/functionsimsearch/pkg/models"
)

// RunStats reports index statistics as JSON.
func RunStats(indexPath string) error {
	ix, err := index.Open(indexPath, index.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer ix.Close()

	st := ix.Stat()
	usedPct := 0.0
	if st.CapacityBytes > 0 {
		usedPct = 100 * float64(st.UsedBytes) / float64(st.CapacityBytes)
	}

	return WriteJSON(models.StatsOutput{
		Index:          indexPath,
		Entries:        st.Entries,
		CapacityBytes:  st.CapacityBytes,
		UsedBytes:      st.UsedBytes,
		FreeBytes:      st.FreeBytes,
		UsedPct:        usedPct,
		DiskSpaceBytes: st.DiskSpaceUsed,
		DiskSpaceHuman: HumanizeBytes(st.DiskSpaceUsed),
	})
}

// RunDump streams every index entry to stdout as JSON lines, in insertion
// order. Streaming rather than collecting keeps dumps of large indices flat
// in memory.
func RunDump(indexPath string) error {
	ix, err := index.Open(indexPath, index.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer ix.Close()

	enc := json.NewEncoder(os.Stdout)
	var encErr error
	err = ix.Scan(func(e index.Entry) bool {
		encErr = enc.Encode(models.DumpEntry{
			Seq:         e.Seq,
			Fingerprint: e.Fingerprint.String(),
			FileID:      fmt.Sprintf("%16.16x", e.FileID),
			Address:     fmt.Sprintf("%x", e.Address),
		})
		return encErr == nil
	})
	if err != nil {
		return err
	}
	return encErr
}
