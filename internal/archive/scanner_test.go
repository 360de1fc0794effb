package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wxarchive/goes-recovery/internal/query"
)

func testQuery(t *testing.T, dates map[string][]string) *query.Query {
	t.Helper()
	q := &query.Query{
		Satellite: "GOES-EAST",
		Sensor:    "abi",
		Level:     "L1b",
		Domain:    "fd",
		Dates:     dates,
	}
	if _, err := q.ExpandDates(); err != nil {
		t.Fatal(err)
	}
	return q
}

func writeBundle(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("bundle"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestWeekBucket(t *testing.T) {
	tests := []struct {
		doy  int
		want int
	}{
		{1, 1},
		{7, 1},
		{8, 2},
		{100, 15},
		{365, 53},
		{366, 53},
	}
	for _, tt := range tests {
		if got := WeekBucket(tt.doy); got != tt.want {
			t.Errorf("WeekBucket(%d) = %d, want %d", tt.doy, got, tt.want)
		}
	}
}

func TestPartitionDir(t *testing.T) {
	s := NewScanner("/data/goes")
	q := testQuery(t, map[string][]string{"2024100": {"12:00"}})

	got := s.PartitionDir(q, "2024100")
	want := filepath.Join("/data/goes", "abi", "l1b", "fd", "2024", "15")
	if got != want {
		t.Errorf("PartitionDir = %q, want %q", got, want)
	}

	// Absent components are skipped rather than leaving empty segments.
	q.Domain = ""
	got = s.PartitionDir(q, "2024100")
	want = filepath.Join("/data/goes", "abi", "l1b", "2024", "15")
	if got != want {
		t.Errorf("PartitionDir without domain = %q, want %q", got, want)
	}
}

func TestExpand(t *testing.T) {
	s := NewScanner("/data/goes")
	q := testQuery(t, map[string][]string{"2024100": {"12:00-14:30"}})

	targets, err := s.Expand(q)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 3 {
		t.Fatalf("got %d targets, want 3 (hours 12..14)", len(targets))
	}
	for i, want := range []string{"202410012", "202410013", "202410014"} {
		if targets[i].Prefix != want {
			t.Errorf("target %d prefix = %q, want %q", i, targets[i].Prefix, want)
		}
		if targets[i].Caller != "2024100" {
			t.Errorf("target %d caller = %q, want 2024100", i, targets[i].Caller)
		}
	}
}

func TestCandidatesFor(t *testing.T) {
	root := t.TempDir()
	s := NewScanner(root)
	q := testQuery(t, map[string][]string{"2024100": {"12:00-12:30"}})

	dir := s.PartitionDir(q, "2024100")
	inHour := writeBundle(t, dir, "ABI-L1B-RadF-M6_GEAST-s20241001200.tgz")
	writeBundle(t, dir, "ABI-L1B-RadF-M6_GEAST-s20241001300.tgz") // hour 13
	writeBundle(t, dir, "ABI-L1B-RadF-M6_GEAST-s20241011200.tgz") // day 101

	targets, err := s.Expand(q)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.CandidatesFor(targets[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != inHour {
		t.Fatalf("CandidatesFor = %v, want [%s]", got, inHour)
	}
}

func TestCandidatesForMissingPartition(t *testing.T) {
	s := NewScanner(t.TempDir())
	q := testQuery(t, map[string][]string{"2024100": {"12:00"}})

	targets, err := s.Expand(q)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.CandidatesFor(targets[0])
	if err != nil {
		t.Fatalf("missing partition must not be an error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("missing partition must yield no candidates, got %v", got)
	}
}

func TestDiscoverAndFilter(t *testing.T) {
	root := t.TempDir()
	s := NewScanner(root)
	q := testQuery(t, map[string][]string{"2024100": {"12:00-13:30"}})

	dir := s.PartitionDir(q, "2024100")
	a := writeBundle(t, dir, "ABI-L1B-RadF-M6_GEAST-s20241001200.tgz")
	b := writeBundle(t, dir, "ABI-L1B-RadF-M6_GEAST-s20241001300.tgz")
	writeBundle(t, dir, "ABI-L1B-RadF-M6_GEAST-s20241002000.tgz") // hour 20, outside

	got, err := s.DiscoverAndFilter(q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("DiscoverAndFilter = %v, want sorted [%s %s]", got, a, b)
	}
}

func TestScanExisting(t *testing.T) {
	destDir := t.TempDir()

	candidates := []string{
		"/archive/ABI-L1B-RadF-M6_GEAST-s20241001200.tgz",
		"/archive/ABI-L1B-RadF-M6_GEAST-s20241001300.tgz",
	}

	// Nothing recovered yet: everything is pending.
	pending, err := ScanExisting(candidates, destDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}

	// A remote-origin scene with the same content timestamp as the
	// first bundle makes that bundle a no-op on re-run.
	done := filepath.Join(destDir, "OR_ABI-L1b-RadF-M6C13_G16_s20241001200204_e1_c1.nc")
	if err := os.WriteFile(done, []byte("scene"), 0o644); err != nil {
		t.Fatal(err)
	}

	pending, err = ScanExisting(candidates, destDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != candidates[1] {
		t.Fatalf("pending = %v, want only the second candidate", pending)
	}
}

func TestExistingTimestampsMissingDir(t *testing.T) {
	got, err := ExistingTimestamps(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("absent destination must not be an error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("absent destination must be empty, got %v", got)
	}
}
