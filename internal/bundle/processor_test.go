package bundle

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func sceneName(product, band string) string {
	if band != "" {
		return "OR_ABI-L2-" + product + "-M6C" + band + "_G16_s20241001200204_e1_c1.nc"
	}
	return "OR_ABI-L2-" + product + "-M6_G16_s20241001200204_e1_c1.nc"
}

// makeBundle writes a gzip'd tar holding one small member per name.
func makeBundle(t *testing.T, dir string, members ...string) string {
	t.Helper()
	path := filepath.Join(dir, "ABI-L2-CMIPF-M6_GEAST-s20241001200.tgz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, name := range members {
		body := []byte("data for " + name)
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessNoFilterCopiesWhole(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := makeBundle(t, src, sceneName("CMIPF", "01"), sceneName("CMIPF", "02"))

	written, err := Process(context.Background(), path, dest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dest, filepath.Base(path))
	if len(written) != 1 || written[0] != want {
		t.Fatalf("written = %v, want [%s]", written, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("bundle copy missing: %v", err)
	}
}

func TestProcessContentsSubsetOfRequestCopiesWhole(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	// Bundle holds only band 13; the request covers 13 and 14, so
	// everything inside is wanted and the bundle moves verbatim.
	path := makeBundle(t, src, sceneName("CMIP", "13"))

	written, err := Process(context.Background(), path, dest, nil, []string{"13", "14"})
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != filepath.Base(path) {
		t.Fatalf("written = %v, want the whole bundle", written)
	}
}

func TestProcessRequestSubsetOfContentsCopiesWhole(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := makeBundle(t, src, sceneName("CMIP", "13"), sceneName("CMIP", "14"))

	written, err := Process(context.Background(), path, dest, nil, []string{"13", "14"})
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != filepath.Base(path) {
		t.Fatalf("written = %v, want the whole bundle", written)
	}
}

func TestProcessPartialOverlapExtractsSelectively(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := makeBundle(t, src,
		sceneName("CMIP", "01"),
		sceneName("CMIP", "13"),
	)

	// 01 is present but not wanted; 14 is wanted but absent. Neither
	// direction is a subset, so only the matching member comes out.
	written, err := Process(context.Background(), path, dest, nil, []string{"13", "14"})
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 1 {
		t.Fatalf("written = %v, want exactly the band 13 member", written)
	}
	if filepath.Base(written[0]) != sceneName("CMIP", "13") {
		t.Errorf("extracted %s, want the band 13 member", written[0])
	}
	if _, err := os.Stat(filepath.Join(dest, sceneName("CMIP", "01"))); !os.IsNotExist(err) {
		t.Error("unwanted member must not be extracted")
	}
}

func TestProcessProductFilter(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := makeBundle(t, src,
		sceneName("CMIPF", "13"),
		sceneName("ACHAC", ""),
		sceneName("ACTPC", ""),
	)

	// Requested families name no domain suffix; ACHA matches ACHAC.
	// CMIPF is present but unrequested, RGB requested but absent.
	written, err := Process(context.Background(), path, dest, []string{"ACHA", "RGB"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != sceneName("ACHAC", "") {
		t.Fatalf("written = %v, want only the ACHA member", written)
	}
}

func TestProcessNoMatchFails(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := makeBundle(t, src, sceneName("CMIP", "01"), sceneName("CMIP", "02"))

	// Neither direction is a subset, so extraction runs, and nothing
	// inside matches the request.
	_, err := Process(context.Background(), path, dest, []string{"RGB"}, []string{"13"})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestProcessCorruptBundle(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "ABI-L2-CMIPF-M6_GEAST-s20241001200.tgz")
	if err := os.WriteFile(path, []byte("this is not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Process(context.Background(), path, t.TempDir(), nil, nil); err == nil {
		t.Fatal("corrupt bundle must fail the target")
	}
}

func TestProcessCancelled(t *testing.T) {
	src := t.TempDir()
	path := makeBundle(t, src, sceneName("CMIP", "13"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Process(ctx, path, t.TempDir(), nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWriteAbortsOnCancelledContext(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.tgz")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "out.tgz")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The deadline must interrupt the byte copy itself, not just the
	// gaps between tar members.
	if err := copyFile(ctx, src, dest); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("aborted copy left a file under the final name")
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Error("aborted copy left its temp file behind")
	}
}
