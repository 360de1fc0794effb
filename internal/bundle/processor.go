// Package bundle extracts requested content from weekly archive
// bundles. Processing units are pure functions of (bundle path,
// destination, filters) so they can be dispatched to any execution
// model without captured orchestrator state.
package bundle

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/wxarchive/goes-recovery/internal/goesname"
)

// ErrNoMatch is returned when selective extraction finds no member
// matching the requested products or bands. It must propagate so the
// target lands in the failure set instead of counting as an empty
// success.
var ErrNoMatch = errors.New("no bundle member matches the requested filters")

// contents is the product/band population inferred from member names.
type contents struct {
	products map[string]struct{}
	bands    map[string]struct{}
}

// Process recovers the requested content of one bundle into destDir and
// returns the paths written. products and bands are the normalized
// filters for the bundle's processing level; a nil slice means that
// dimension imposes no filter. The caller bounds the call with a
// deadline on ctx; the function checks it between members.
func Process(ctx context.Context, bundlePath, destDir string, products, bands []string) ([]string, error) {
	members, err := listMembers(ctx, bundlePath)
	if err != nil {
		return nil, err
	}

	if copyWhole(members, products, bands) {
		dest := filepath.Join(destDir, filepath.Base(bundlePath))
		if err := copyFile(ctx, bundlePath, dest); err != nil {
			return nil, fmt.Errorf("copy bundle %s: %w", bundlePath, err)
		}
		return []string{dest}, nil
	}

	return extract(ctx, bundlePath, destDir, products, bands)
}

// copyWhole decides between a verbatim bundle copy and selective member
// extraction. The bundle is copied whole when the request imposes no
// filter, or when its contents and the request are comparable as sets
// (everything present was requested, or everything requested is
// present). Only a partial overlap triggers selective extraction, where
// the subset actually wanted can be identified member by member.
func copyWhole(members []string, products, bands []string) bool {
	if len(products) == 0 && len(bands) == 0 {
		return true
	}

	c := inferContents(members)
	sub, sup := true, true
	if len(bands) > 0 {
		sub = sub && subset(c.bands, bands)
		sup = sup && containsAll(c.bands, bands)
	}
	if len(products) > 0 {
		sub = sub && productSubset(c.products, products)
		sup = sup && productsContainAll(c.products, products)
	}
	return sub || sup
}

// inferContents derives the product/band population from member names.
func inferContents(members []string) contents {
	c := contents{
		products: make(map[string]struct{}),
		bands:    make(map[string]struct{}),
	}
	for _, m := range members {
		if b, ok := goesname.Band(m); ok {
			c.bands[b] = struct{}{}
		}
		if p, ok := goesname.Product(m); ok {
			c.products[p] = struct{}{}
		}
	}
	return c
}

// subset reports whether every element of set appears in list.
func subset(set map[string]struct{}, list []string) bool {
	for v := range set {
		if !containsToken(list, v) {
			return false
		}
	}
	return true
}

// containsAll reports whether set covers every element of list.
func containsAll(set map[string]struct{}, list []string) bool {
	for _, v := range list {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

// productSubset reports whether every contained product family matches a
// requested product. Requested products name the family without its
// domain suffix ("CMIP" matches "CMIPF").
func productSubset(set map[string]struct{}, requested []string) bool {
	for p := range set {
		if !productRequested(p, requested) {
			return false
		}
	}
	return true
}

// productsContainAll reports whether the contained families cover every
// requested product.
func productsContainAll(set map[string]struct{}, requested []string) bool {
	for _, want := range requested {
		found := false
		for p := range set {
			if strings.HasPrefix(strings.ToUpper(p), strings.ToUpper(want)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func productRequested(contained string, requested []string) bool {
	for _, want := range requested {
		if strings.HasPrefix(strings.ToUpper(contained), strings.ToUpper(want)) {
			return true
		}
	}
	return false
}

func containsToken(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// memberWanted reports whether a member matches the request on at least
// one filtered dimension.
func memberWanted(name string, products, bands []string) bool {
	if len(bands) > 0 {
		if b, ok := goesname.Band(name); ok && containsToken(bands, b) {
			return true
		}
	}
	if len(products) > 0 {
		if p, ok := goesname.Product(name); ok && productRequested(p, products) {
			return true
		}
	}
	return false
}

// listMembers enumerates the member names of a gzip'd tar bundle. Read
// or corruption errors propagate; they are fatal to the target.
func listMembers(ctx context.Context, bundlePath string) ([]string, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", bundlePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", bundlePath, err)
	}
	defer gz.Close()

	var members []string
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bundle %s: %w", bundlePath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		members = append(members, hdr.Name)
	}
	return members, nil
}

// extract writes the members matching the request into destDir. Zero
// matching members is a hard failure.
func extract(ctx context.Context, bundlePath, destDir string, products, bands []string) ([]string, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", bundlePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", bundlePath, err)
	}
	defer gz.Close()

	var written []string
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bundle %s: %w", bundlePath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !memberWanted(hdr.Name, products, bands) {
			continue
		}

		dest := filepath.Join(destDir, filepath.Base(hdr.Name))
		if err := writeMember(ctx, tr, dest); err != nil {
			return nil, fmt.Errorf("extract %s from %s: %w", hdr.Name, bundlePath, err)
		}
		written = append(written, dest)
	}

	if len(written) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, filepath.Base(bundlePath))
	}
	return written, nil
}

// ctxReader fails reads once the context is done, so a stalled copy
// cannot outlive the per-bundle deadline.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// writeMember streams one member to disk via temp file + rename so a
// partially extracted member is never observed under its final name.
// The copy observes ctx between chunks.
func writeMember(ctx context.Context, r io.Reader, dest string) error {
	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: r}); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// copyFile copies src to dest atomically within the destination
// filesystem.
func copyFile(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeMember(ctx, in, dest)
}
