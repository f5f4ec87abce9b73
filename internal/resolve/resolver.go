// Package resolve turns caller-supplied input tokens into concrete local
// files, fetching remote-store matches as needed.
//
// A token is a literal path, a local glob (assumed pre-expanded by the
// caller's shell), or a remote-store key or key glob. Local files always win
// over remote keys with the same name; only tokens that still contain
// wildcard characters are matched against the remote listing.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mwaller/cellpipe/internal/runlog"
	"github.com/mwaller/cellpipe/internal/serialize"
)

// ErrFileNotFound marks a caller-mistake resolution failure: a literal
// local token that does not exist on disk. It fails the whole run.
var ErrFileNotFound = errors.New("file not found")

// Origin records where a resolved file came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ResolvedFile is an absolute local path that existed at resolution time.
type ResolvedFile struct {
	Path   string
	Origin Origin
}

// Fingerprint computes the file's MD5 content hash. It is evaluated on
// demand; the hash is audit metadata, not a processing input.
func (f ResolvedFile) Fingerprint() (string, error) {
	return serialize.MD5Sum(f.Path)
}

// TokenError records a per-token resolution failure (a failed remote
// fetch). It does not abort resolution of other tokens.
type TokenError struct {
	Token string
	Err   error
}

func (e TokenError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Token, e.Err)
}

// Resolver expands input tokens into resolved files. Store and Bucket are
// optional; without them every token is a local path.
type Resolver struct {
	Store    ObjectStore
	Bucket   string
	WorkDir  string // destination for fetched objects, and base for relative tokens
	CacheDir string // shared fetch cache, used when UseCache is set
	UseCache bool
	Log      *runlog.Logger
}

type candidate struct {
	path   string // local path (absolute after resolution)
	origin Origin
	key    string // remote key, when origin is remote
}

// Resolve expands tokens in order into a deduplicated file list. Fetch
// failures are returned per token; a missing literal local file fails the
// whole resolution with ErrFileNotFound.
func (r *Resolver) Resolve(ctx context.Context, tokens []string) ([]ResolvedFile, []TokenError, error) {
	log := r.Log
	if log == nil {
		log = runlog.Discard()
	}

	var cands []candidate
	if r.Store == nil || r.Bucket == "" {
		for _, tok := range tokens {
			cands = append(cands, candidate{path: r.abs(tok), origin: OriginLocal})
		}
	} else {
		var err error
		cands, err = r.matchRemote(ctx, tokens, log)
		if err != nil {
			return nil, nil, err
		}
	}

	var (
		files    []ResolvedFile
		tokErrs  []TokenError
		seen     = map[string]bool{}
		fetchDir = r.fetchDir()
	)
	for _, c := range cands {
		entry := ResolvedFile{Path: c.path, Origin: c.origin}
		if c.origin == OriginRemote {
			dest := filepath.Join(fetchDir, path.Base(c.key))
			log.Infof("fetching %s from bucket %s", c.key, r.Bucket)
			if err := r.Store.Fetch(ctx, r.Bucket, c.key, dest); err != nil {
				if ctx.Err() != nil {
					return nil, tokErrs, ctx.Err()
				}
				log.Errorf("fetch of %s failed: %v", c.key, err)
				tokErrs = append(tokErrs, TokenError{Token: c.key, Err: err})
				continue
			}
			log.Infof("fetched %s to %s", c.key, dest)
			entry.Path = dest
		}

		abs, err := filepath.Abs(entry.Path)
		if err != nil {
			return nil, tokErrs, fmt.Errorf("resolving path %s: %w", entry.Path, err)
		}
		entry.Path = abs

		if seen[entry.Path] {
			continue
		}
		seen[entry.Path] = true

		if _, err := os.Stat(entry.Path); err != nil {
			// A missing literal local path is a caller mistake, not a
			// data-quality issue. Fail the whole run.
			return nil, tokErrs, fmt.Errorf("%w: %s", ErrFileNotFound, entry.Path)
		}
		files = append(files, entry)
	}
	return files, tokErrs, nil
}

// matchRemote splits tokens into local candidates and remote keys to fetch.
// Literal tokens prefer an existing local file over an identical remote key.
// Wildcard tokens are matched only against the remote listing; keys that
// also name an existing local file are taken locally without a fetch.
func (r *Resolver) matchRemote(ctx context.Context, tokens []string, log *runlog.Logger) ([]candidate, error) {
	log.Infof("fetching object list from bucket %s", r.Bucket)
	objs, err := r.Store.ListObjects(ctx, r.Bucket)
	if err != nil {
		return nil, fmt.Errorf("listing bucket %s: %w", r.Bucket, err)
	}
	log.Infof("including %d available remote objects in file match", len(objs))

	keySet := make(map[string]bool, len(objs))
	for _, o := range objs {
		keySet[o.Key] = true
	}

	var cands []candidate
	for _, tok := range tokens {
		if !strings.ContainsAny(tok, "*?[") {
			if r.existsLocally(tok) {
				if keySet[tok] {
					log.Debugf("token %s matches both local file and remote key; using local", tok)
				}
				cands = append(cands, candidate{path: r.abs(tok), origin: OriginLocal})
			} else if keySet[tok] {
				cands = append(cands, candidate{origin: OriginRemote, key: tok})
			} else {
				cands = append(cands, candidate{path: r.abs(tok), origin: OriginLocal})
			}
			continue
		}

		// Real local globs were pre-expanded upstream, so a surviving
		// wildcard token can only match remote keys. No match makes it an
		// invalid local path.
		matched := 0
		for _, o := range objs {
			ok, err := path.Match(tok, o.Key)
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", tok, err)
			}
			if !ok {
				continue
			}
			matched++
			if r.existsLocally(o.Key) {
				log.Debugf("key %s exists locally; skipping fetch", o.Key)
				cands = append(cands, candidate{path: r.abs(o.Key), origin: OriginLocal})
			} else {
				cands = append(cands, candidate{origin: OriginRemote, key: o.Key})
			}
		}
		log.Infof("token %s matched %d remote keys", tok, matched)
		if matched == 0 {
			cands = append(cands, candidate{path: r.abs(tok), origin: OriginLocal})
		}
	}
	return cands, nil
}

func (r *Resolver) fetchDir() string {
	if r.UseCache && r.CacheDir != "" {
		return r.CacheDir
	}
	return r.WorkDir
}

func (r *Resolver) abs(p string) string {
	if filepath.IsAbs(p) || r.WorkDir == "" {
		return p
	}
	return filepath.Join(r.WorkDir, p)
}

func (r *Resolver) existsLocally(p string) bool {
	_, err := os.Stat(r.abs(p))
	return err == nil
}
