package cli

import (
	"fmt"
	"os"

	"github.com/wwzcrack/functionsimsearch/pkg/index"
	"github.com/wwzcrack/functionsimsearch/pkg/models"
)

// RunCreate initializes a new index with the given capacity ("512M", "2G",
// or a byte count; empty means the default).
func RunCreate(indexPath, capacity string) error {
	if _, err := os.Stat(indexPath); err == nil {
		return fmt.Errorf("index %q already exists", indexPath)
	}

	capBytes := int64(index.DefaultCapacity)
	if capacity != "" {
		var err error
		if capBytes, err = ParseByteSize(capacity); err != nil {
			return err
		}
	}

	ix, err := index.Open(indexPath, index.Options{Create: true, Capacity: capBytes})
	if err != nil {
		return err
	}
	if err := ix.Close(); err != nil {
		return err
	}

	return WriteJSON(models.CreateOutput{
		Index:         indexPath,
		CapacityBytes: capBytes,
	})
}

// RunGrow raises the capacity budget of an existing index.
func RunGrow(indexPath, capacity string) error {
	capBytes, err := ParseByteSize(capacity)
	if err != nil {
		return err
	}

	ix, err := index.Open(indexPath, index.Options{})
	if err != nil {
		return err
	}
	defer ix.Close()

	old := ix.Stat().CapacityBytes
	if capBytes <= old {
		return fmt.Errorf("new capacity %d does not exceed current %d", capBytes, old)
	}
	if err := ix.SetCapacity(capBytes); err != nil {
		return err
	}

	return WriteJSON(models.GrowOutput{
		Index:            indexPath,
		OldCapacityBytes: old,
		NewCapacityBytes: capBytes,
	})
}
