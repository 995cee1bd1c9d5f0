// Package models holds the JSON document types the CLI emits on stdout.
package models

// -- Ingestion --

type AddOutput struct {
	Input          string `json:"input"`
	Executable     string `json:"executable,omitempty"`
	FileID         string `json:"file_id"`
	Index          string `json:"index"`
	TotalFunctions int    `json:"total_functions"`
	Added          uint64 `json:"added"`
	SkippedTrivial uint64 `json:"skipped_trivial"`
	SkippedShared  uint64 `json:"skipped_shared_blocks,omitempty"`
	SkippedFull    uint64 `json:"skipped_index_full"`
	IndexEntries   uint64 `json:"index_entries"`
}

// -- Matching --

type MatchOutput struct {
	Input          string            `json:"input"`
	Index          string            `json:"index"`
	MaxDistance    int               `json:"max_distance"`
	TotalFunctions int               `json:"total_functions"`
	Results        []FunctionMatches `json:"results"`
}

type FunctionMatches struct {
	Address     string      `json:"address"`
	Name        string      `json:"name,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	Matches     []MatchInfo `json:"matches"`
}

type MatchInfo struct {
	FileID     string  `json:"file_id"`
	Address    string  `json:"address"`
	Distance   int     `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// -- Index administration --

type CreateOutput struct {
	Index         string `json:"index"`
	CapacityBytes int64  `json:"capacity_bytes"`
}

type GrowOutput struct {
	Index            string `json:"index"`
	OldCapacityBytes int64  `json:"old_capacity_bytes"`
	NewCapacityBytes int64  `json:"new_capacity_bytes"`
}

type StatsOutput struct {
	Index          string  `json:"index"`
	Entries        uint64  `json:"entries"`
	CapacityBytes  int64   `json:"capacity_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	FreeBytes      int64   `json:"free_bytes"`
	UsedPct        float64 `json:"used_pct"`
	DiskSpaceBytes int64   `json:"disk_space_bytes"`
	DiskSpaceHuman string  `json:"disk_space_human"`
}

type DumpEntry struct {
	Seq         uint64 `json:"seq"`
	Fingerprint string `json:"fingerprint"`
	FileID      string `json:"file_id"`
	Address     string `json:"address"`
}
