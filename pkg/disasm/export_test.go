package disasm_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
)

func sampleExport() *disasm.Export {
	return &disasm.Export{
		Executable: "/bin/sample",
		Format:     "ELF",
		FileID:     0xdeadbeefcafe,
		Functions: []disasm.Function{
			{
				Address: 0x1000,
				Name:    "main",
				Blocks: []disasm.BasicBlock{
					{Address: 0x1000, Successors: []uint64{0x1010, 0x1020}, Mnemonics: []string{"cmp", "jz"}},
					{Address: 0x1010, Successors: []uint64{0x1020}, Mnemonics: []string{"mov"}, Immediates: []uint64{0x7fffffff}},
					{Address: 0x1020, Mnemonics: []string{"ret"}},
				},
			},
		},
	}
}

func TestExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"export.msgpack", "export.json"} {
		path := filepath.Join(dir, name)
		want := sampleExport()
		if err := disasm.WriteExport(path, want); err != nil {
			t.Fatalf("%s: WriteExport: %v", name, err)
		}
		got, err := disasm.LoadExport(path)
		if err != nil {
			t.Fatalf("%s: LoadExport: %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: round trip mismatch:\n got %+v\nwant %+v", name, got, want)
		}
	}
}

func TestLoadExportErrors(t *testing.T) {
	if _, err := disasm.LoadExport(""); err == nil {
		t.Fatal("empty path: expected error")
	}
	if _, err := disasm.LoadExport(filepath.Join(t.TempDir(), "missing.msgpack")); err == nil {
		t.Fatal("missing file: expected error")
	}

	garbled := filepath.Join(t.TempDir(), "garbled.json")
	if err := os.WriteFile(garbled, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := disasm.LoadExport(garbled); err == nil {
		t.Fatal("garbled file: expected error")
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(empty, []byte(`{"executable":"x","format":"PE","file_id":1,"functions":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := disasm.LoadExport(empty); err == nil {
		t.Fatal("export without functions: expected error")
	}
}

func TestLoadExportRecomputesFileID(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "sample.bin")
	if err := os.WriteFile(bin, []byte("\x7fELF content bytes"), 0o755); err != nil {
		t.Fatal(err)
	}
	wantID, err := disasm.ExecutableID(bin)
	if err != nil {
		t.Fatal(err)
	}
	if wantID == 0 {
		t.Fatal("ExecutableID returned 0")
	}

	exp := sampleExport()
	exp.Executable = bin
	exp.FileID = 0
	path := filepath.Join(dir, "export.msgpack")
	if err := disasm.WriteExport(path, exp); err != nil {
		t.Fatal(err)
	}

	got, err := disasm.LoadExport(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.FileID != wantID {
		t.Fatalf("FileID = %#x, want recomputed %#x", got.FileID, wantID)
	}
}

func TestExecutableIDContentDerived(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "renamed.bin")
	if err := os.WriteFile(a, []byte("same bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	idA, err := disasm.ExecutableID(a)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := disasm.ExecutableID(b)
	if err != nil {
		t.Fatal(err)
	}
	if idA != idB {
		t.Fatalf("identical content produced different IDs: %#x vs %#x", idA, idB)
	}

	c := filepath.Join(dir, "c.bin")
	if err := os.WriteFile(c, []byte("other bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	idC, err := disasm.ExecutableID(c)
	if err != nil {
		t.Fatal(err)
	}
	if idC == idA {
		t.Fatal("different content produced the same ID")
	}
}
