package repo

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/starford/othala/internal/linkpath"
)

func collectGenerations(t *testing.T, item *Item) [][]string {
	t.Helper()
	var out [][]string
	it := item.Records()
	for gen := it.Next(); gen != nil; gen = it.Next() {
		names := recordNames(gen)
		sort.Strings(names)
		out = append(out, names)
	}
	return out
}

// rawRecord builds a record directory by hand with an explicit parent set,
// bypassing NewRecord's links-to-current-heads policy. Used to shape DAG
// topologies NewRecord cannot produce directly.
func rawRecord(t *testing.T, r *Repository, itemPath string, files map[string][]byte, parents []string) string {
	t.Helper()
	stage, err := os.MkdirTemp(itemPath, StagePrefix)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	for name, data := range files {
		if err := writeRecordFile(stage, name, data); err != nil {
			t.Fatalf("stage file: %v", err)
		}
	}
	for _, p := range parents {
		if err := os.MkdirAll(filepath.Join(stage, PrevDir, p), 0o755); err != nil {
			t.Fatalf("stage parent: %v", err)
		}
	}
	digest, err := r.hashRecordTree(stage)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	name := r.enc.Encode(digest)
	if err := os.Rename(stage, filepath.Join(itemPath, name)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return name
}

func TestEmptyItemNoGenerations(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	it := item.Records()
	if gen := it.Next(); gen != nil {
		t.Errorf("empty item yielded %v", recordNames(gen))
	}
	if rem := it.Remaining(); rem != nil {
		t.Errorf("empty item has remaining entries: %v", rem)
	}
}

func TestSingleRecordSingleGeneration(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	rec, err := item.NewRecord(map[string][]byte{"text": []byte("alone")}, false)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	gens := collectGenerations(t, item)
	if !reflect.DeepEqual(gens, [][]string{{rec.Name()}}) {
		t.Errorf("generations = %v, want [[%s]]", gens, rec.Name())
	}
}

func TestParentBeforeChild(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	a, err := item.NewRecord(map[string][]byte{"text": []byte("first")}, false)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	b, err := item.NewRecord(map[string][]byte{"text": []byte("second")}, true)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	gens := collectGenerations(t, item)
	want := [][]string{{a.Name()}, {b.Name()}}
	if !reflect.DeepEqual(gens, want) {
		t.Errorf("generations = %v, want %v", gens, want)
	}
}

func TestDiamondTopology(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	a := rawRecord(t, r, item.Path(), map[string][]byte{"text": []byte("a")}, nil)
	b := rawRecord(t, r, item.Path(), map[string][]byte{"text": []byte("b")}, []string{a})
	c := rawRecord(t, r, item.Path(), map[string][]byte{"text": []byte("c")}, []string{a})
	d := rawRecord(t, r, item.Path(), map[string][]byte{"text": []byte("d")}, []string{b, c})

	mid := []string{b, c}
	sort.Strings(mid)
	want := [][]string{{a}, mid, {d}}
	gens := collectGenerations(t, item)
	if !reflect.DeepEqual(gens, want) {
		t.Errorf("generations = %v, want %v", gens, want)
	}
}

func TestRelocatedRecordSingleGeneration(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	a, err := item.NewRecord(map[string][]byte{"text": []byte("movable")}, false)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	b, err := item.NewRecord(map[string][]byte{"text": []byte("stays put")}, true)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}

	archive := filepath.Join(r.Root(), "archive")
	if err := os.MkdirAll(archive, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	dest := filepath.Join(archive, a.Name())
	if err := linkpath.Relocate(a.Path(), dest); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	want := [][]string{{a.Name()}, {b.Name()}}
	gens := collectGenerations(t, item)
	if !reflect.DeepEqual(gens, want) {
		t.Errorf("generations after relocation = %v, want %v", gens, want)
	}

	got, err := item.Record(a.Name())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got.Path() != dest {
		t.Errorf("record path = %q, want %q", got.Path(), dest)
	}
	ok, err := got.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("relocation changed the record's content hash")
	}
}

func TestCorruptRecordExcludedWhenChecking(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	a, err := item.NewRecord(map[string][]byte{"text": []byte("pristine")}, false)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := os.WriteFile(filepath.Join(a.Path(), "text"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if gens := collectGenerations(t, item); len(gens) != 0 {
		t.Errorf("corrupt record yielded with integrity on: %v", gens)
	}
	relaxed := item.WithIntegrityCheck(false)
	gens := collectGenerations(t, relaxed)
	if !reflect.DeepEqual(gens, [][]string{{a.Name()}}) {
		t.Errorf("generations with integrity off = %v, want [[%s]]", gens, a.Name())
	}
}

func TestCorruptParentStillUnblocksChild(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	a, err := item.NewRecord(map[string][]byte{"text": []byte("will rot")}, false)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	b, err := item.NewRecord(map[string][]byte{"text": []byte("survivor")}, true)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := os.WriteFile(filepath.Join(a.Path(), "text"), []byte("rotted"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	// The corrupt parent is dropped, not yielded; its child still surfaces
	// once the parent has left the working set.
	gens := collectGenerations(t, item)
	if !reflect.DeepEqual(gens, [][]string{{b.Name()}}) {
		t.Errorf("generations = %v, want [[%s]]", gens, b.Name())
	}
}

func TestUnresolvableParentBlocksDescendants(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	a, err := item.NewRecord(map[string][]byte{"text": []byte("reachable")}, false)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}

	// A plausibly named entry whose redirect target does not exist: it can
	// never be yielded, and anything declaring it as a parent stays stuck
	// behind it.
	fake := make([]byte, r.Hasher().Size())
	for i := range fake {
		fake[i] = 0xaa
	}
	dangling := r.Encoding().Encode(fake)
	if err := os.WriteFile(filepath.Join(item.Path(), dangling), []byte("nowhere"), 0o644); err != nil {
		t.Fatalf("write dangling entry: %v", err)
	}
	stuck := rawRecord(t, r, item.Path(), map[string][]byte{"text": []byte("stuck")}, []string{dangling})

	it := item.Records()
	var yielded []string
	for gen := it.Next(); gen != nil; gen = it.Next() {
		yielded = append(yielded, recordNames(gen)...)
	}
	if !reflect.DeepEqual(yielded, []string{a.Name()}) {
		t.Errorf("yielded = %v, want only %s", yielded, a.Name())
	}

	rem := it.Remaining()
	sort.Strings(rem)
	want := []string{dangling, stuck}
	sort.Strings(want)
	if !reflect.DeepEqual(rem, want) {
		t.Errorf("Remaining = %v, want %v", rem, want)
	}
}

func TestAbsentParentDoesNotBlock(t *testing.T) {
	// A parent name with no entry in the item directory is treated as
	// already gone: only parents still in the working set gate a record.
	r := testRepo(t)
	item := testItem(t, r)
	fake := make([]byte, r.Hasher().Size())
	fake[0] = 0x01
	ghost := r.Encoding().Encode(fake)
	x := rawRecord(t, r, item.Path(), map[string][]byte{"text": []byte("x")}, []string{ghost})

	gens := collectGenerations(t, item)
	if !reflect.DeepEqual(gens, [][]string{{x}}) {
		t.Errorf("generations = %v, want [[%s]]", gens, x)
	}
}

func TestForeignEntriesReportedNotYielded(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	a, err := item.NewRecord(map[string][]byte{"text": []byte("real")}, false)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := os.Mkdir(filepath.Join(item.Path(), ".stage-leftover"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(item.Path(), "README"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	it := item.Records()
	var yielded []string
	for gen := it.Next(); gen != nil; gen = it.Next() {
		yielded = append(yielded, recordNames(gen)...)
	}
	if !reflect.DeepEqual(yielded, []string{a.Name()}) {
		t.Errorf("yielded = %v, want only %s", yielded, a.Name())
	}
	// The foreign file is reported; the staging leftover is construction
	// debris and skipped.
	if rem := it.Remaining(); !reflect.DeepEqual(rem, []string{"README"}) {
		t.Errorf("Remaining = %v, want [README]", rem)
	}
}

func TestIterEndsWhenItemRemoved(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	if _, err := item.NewRecord(map[string][]byte{"text": []byte("x")}, false); err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	it := item.Records()
	if err := os.RemoveAll(filepath.Join(r.ItemsPath(), item.Name())); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if gen := it.Next(); gen != nil {
		t.Errorf("removed item yielded %v", recordNames(gen))
	}
}

func TestWithIntegrityCheckCopies(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	relaxed := item.WithIntegrityCheck(false)
	if !item.IntegrityCheck() {
		t.Error("toggling the copy mutated the original")
	}
	if relaxed.IntegrityCheck() {
		t.Error("copy did not take the new flag")
	}
	if relaxed.Name() != item.Name() || relaxed.Path() != item.Path() {
		t.Error("copy changed identity or path")
	}
}

func TestRemainingNilAfterCleanWalk(t *testing.T) {
	r := testRepo(t)
	item := testItem(t, r)
	if _, err := item.NewRecord(map[string][]byte{"text": []byte("x")}, false); err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	it := item.Records()
	for gen := it.Next(); gen != nil; gen = it.Next() {
	}
	if rem := it.Remaining(); rem != nil {
		t.Errorf("clean walk left remaining entries: %v", rem)
	}
}
