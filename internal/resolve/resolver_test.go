package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolve_LocalLiterals(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", "a")
	b := writeFile(t, dir, "b.csv", "b")

	r := &Resolver{WorkDir: dir}
	files, tokErrs, err := r.Resolve(context.Background(), []string{"a.csv", b})
	require.NoError(t, err)
	require.Empty(t, tokErrs)
	require.Len(t, files, 2)
	assert.Equal(t, a, files[0].Path)
	assert.Equal(t, OriginLocal, files[0].Origin)
	assert.Equal(t, b, files[1].Path)
}

func TestResolve_MissingLiteralFailsFast(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "a")

	r := &Resolver{WorkDir: dir}
	_, _, err := r.Resolve(context.Background(), []string{"a.csv", "nope.csv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestResolve_Deduplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "a")

	r := &Resolver{WorkDir: dir}
	files, _, err := r.Resolve(context.Background(), []string{"a.csv", "a.csv", filepath.Join(dir, "a.csv")})
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestResolve_LocalWinsOverRemote(t *testing.T) {
	work := t.TempDir()
	storeRoot := t.TempDir()
	writeFile(t, work, "a.csv", "local a")
	writeFile(t, storeRoot, filepath.Join("b1", "a.csv"), "remote a")

	store := &countingStore{inner: NewDirStore(storeRoot)}
	r := &Resolver{Store: store, Bucket: "b1", WorkDir: work}

	files, tokErrs, err := r.Resolve(context.Background(), []string{"a.csv"})
	require.NoError(t, err)
	require.Empty(t, tokErrs)
	require.Len(t, files, 1)
	assert.Equal(t, OriginLocal, files[0].Origin)
	assert.Zero(t, store.fetches, "precedence law: nothing may be fetched")

	content, err := os.ReadFile(files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "local a", string(content))
}

func TestResolve_RemoteLiteralFetched(t *testing.T) {
	work := t.TempDir()
	storeRoot := t.TempDir()
	writeFile(t, storeRoot, filepath.Join("b1", "r.csv"), "remote r")

	r := &Resolver{Store: NewDirStore(storeRoot), Bucket: "b1", WorkDir: work}
	files, tokErrs, err := r.Resolve(context.Background(), []string{"r.csv"})
	require.NoError(t, err)
	require.Empty(t, tokErrs)
	require.Len(t, files, 1)
	assert.Equal(t, OriginRemote, files[0].Origin)
	assert.Equal(t, filepath.Join(work, "r.csv"), files[0].Path)
}

// Glob token matches 3 keys, one of which also names an existing local
// file: exactly 2 fetches happen and the local file rides along.
func TestResolve_GlobPrefersLocalMatches(t *testing.T) {
	work := t.TempDir()
	storeRoot := t.TempDir()
	writeFile(t, work, "c2.csv", "local c2")
	for _, k := range []string{"c1.csv", "c2.csv", "c3.csv"} {
		writeFile(t, storeRoot, filepath.Join("b1", k), "remote "+k)
	}

	store := &countingStore{inner: NewDirStore(storeRoot)}
	r := &Resolver{Store: store, Bucket: "b1", WorkDir: work}

	files, tokErrs, err := r.Resolve(context.Background(), []string{"c*.csv"})
	require.NoError(t, err)
	require.Empty(t, tokErrs)
	require.Len(t, files, 3)
	assert.Equal(t, 2, store.fetches)

	origins := map[string]Origin{}
	for _, f := range files {
		origins[filepath.Base(f.Path)] = f.Origin
	}
	assert.Equal(t, OriginLocal, origins["c2.csv"])
	assert.Equal(t, OriginRemote, origins["c1.csv"])
	assert.Equal(t, OriginRemote, origins["c3.csv"])
}

func TestResolve_UnmatchedGlobIsInvalidPath(t *testing.T) {
	work := t.TempDir()
	storeRoot := t.TempDir()
	writeFile(t, storeRoot, filepath.Join("b1", "x.csv"), "x")

	r := &Resolver{Store: NewDirStore(storeRoot), Bucket: "b1", WorkDir: work}
	_, _, err := r.Resolve(context.Background(), []string{"z*.csv"})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestResolve_FetchFailureIsolatedPerToken(t *testing.T) {
	work := t.TempDir()
	storeRoot := t.TempDir()
	writeFile(t, storeRoot, filepath.Join("b1", "ok.csv"), "ok")
	writeFile(t, storeRoot, filepath.Join("b1", "bad.csv"), "bad")

	store := &failingStore{inner: NewDirStore(storeRoot), failKey: "bad.csv"}
	r := &Resolver{Store: store, Bucket: "b1", WorkDir: work}

	files, tokErrs, err := r.Resolve(context.Background(), []string{"*.csv"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ok.csv", filepath.Base(files[0].Path))
	require.Len(t, tokErrs, 1)
	assert.Equal(t, "bad.csv", tokErrs[0].Token)
}

func TestResolve_CacheDirectory(t *testing.T) {
	work := t.TempDir()
	cache := t.TempDir()
	storeRoot := t.TempDir()
	writeFile(t, storeRoot, filepath.Join("b1", "r.csv"), "r")

	r := &Resolver{
		Store:    NewDirStore(storeRoot),
		Bucket:   "b1",
		WorkDir:  work,
		CacheDir: cache,
		UseCache: true,
	}
	files, _, err := r.Resolve(context.Background(), []string{"r.csv"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(cache, "r.csv"), files[0].Path)
}

func TestResolve_Idempotent(t *testing.T) {
	work := t.TempDir()
	storeRoot := t.TempDir()
	writeFile(t, work, "a.csv", "a")
	writeFile(t, storeRoot, filepath.Join("b1", "r1.csv"), "r1")
	writeFile(t, storeRoot, filepath.Join("b1", "r2.csv"), "r2")

	r := &Resolver{Store: NewDirStore(storeRoot), Bucket: "b1", WorkDir: work}
	tokens := []string{"a.csv", "r*.csv"}

	first, _, err := r.Resolve(context.Background(), tokens)
	require.NoError(t, err)
	second, _, err := r.Resolve(context.Background(), tokens)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.csv", "hello")

	f := ResolvedFile{Path: path, Origin: OriginLocal}
	sum, err := f.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)
}

type countingStore struct {
	inner   *DirStore
	fetches int
}

func (s *countingStore) ListObjects(ctx context.Context, bucket string) ([]Object, error) {
	return s.inner.ListObjects(ctx, bucket)
}

func (s *countingStore) Fetch(ctx context.Context, bucket, key, dest string) error {
	s.fetches++
	return s.inner.Fetch(ctx, bucket, key, dest)
}

type failingStore struct {
	inner   *DirStore
	failKey string
}

func (s *failingStore) ListObjects(ctx context.Context, bucket string) ([]Object, error) {
	return s.inner.ListObjects(ctx, bucket)
}

func (s *failingStore) Fetch(ctx context.Context, bucket, key, dest string) error {
	if key == s.failKey {
		return fmt.Errorf("simulated transfer failure for %s", key)
	}
	return s.inner.Fetch(ctx, bucket, key, dest)
}
