// Package discovery implements recursive manifest discovery honoring
// ignore rules, and the file->tool mapper used to translate an arbitrary
// filesystem path back to its owning registered tool.
package discovery

import (
	"os"
	"path/filepath"
	"sort"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/jcfischer/pai-deps/internal/manifest"
)

// DefaultSkipDirs are always skipped, regardless of .gitignore content.
var DefaultSkipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".cache":       true,
	"coverage":     true,
}

// DefaultMaxDepth bounds how deep the walk descends from each root.
const DefaultMaxDepth = 10

// DefaultMaxEntriesPerDir is the safety valve: directories with at least
// this many entries are skipped rather than enumerated.
const DefaultMaxEntriesPerDir = 1000

// Options configures a Walk.
type Options struct {
	MaxDepth         int
	MaxEntriesPerDir int
	RespectGitignore bool
}

// DefaultOptions returns the spec-mandated defaults.
func DefaultOptions() Options {
	return Options{
		MaxDepth:         DefaultMaxDepth,
		MaxEntriesPerDir: DefaultMaxEntriesPerDir,
		RespectGitignore: true,
	}
}

// Found is one discovered tool root.
type Found struct {
	Path     string
	Manifest *manifest.Manifest
}

// Warning is a non-fatal problem encountered during the walk.
type Warning struct {
	Path    string
	Message string
}

// Result is the outcome of a Walk.
type Result struct {
	Found    []Found
	Warnings []Warning
}

// ignoreFrame holds the accumulated .gitignore matcher for one directory
// level, rooted at the directory it was loaded from.
type ignoreFrame struct {
	dir     string
	matcher *gitignore.GitIgnore
}

// Walk recursively discovers pai-manifest.yaml-owning directories under
// roots. Parse and permission errors are demoted to warnings; the walk
// never aborts because of them.
func Walk(roots []string, opts Options) Result {
	var result Result
	visitedRealPaths := make(map[string]bool)

	for _, root := range roots {
		walkOne(root, opts, nil, 0, visitedRealPaths, &result)
	}

	sort.Slice(result.Found, func(i, j int) bool { return result.Found[i].Path < result.Found[j].Path })
	return result
}

func walkOne(dir string, opts Options, ignores []ignoreFrame, depth int, visited map[string]bool, result *Result) {
	if depth > opts.MaxDepth {
		return
	}

	realPath, err := filepath.EvalSymlinks(dir)
	if err != nil {
		result.Warnings = append(result.Warnings, Warning{Path: dir, Message: "resolving symlink: " + err.Error()})
		return
	}
	if visited[realPath] {
		return // symlink loop
	}
	visited[realPath] = true

	base := filepath.Base(dir)
	if DefaultSkipDirs[base] {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		result.Warnings = append(result.Warnings, Warning{Path: dir, Message: "reading directory: " + err.Error()})
		return
	}
	if len(entries) >= opts.MaxEntriesPerDir {
		result.Warnings = append(result.Warnings, Warning{Path: dir, Message: "skipped: too many entries"})
		return
	}

	if opts.RespectGitignore {
		if gi, err := gitignore.CompileIgnoreFile(filepath.Join(dir, ".gitignore")); err == nil {
			ignores = append(ignores, ignoreFrame{dir: dir, matcher: gi})
		}
	}

	for _, e := range entries {
		if e.Name() == manifest.ManifestFileName {
			m, err := manifest.Load(dir)
			if err != nil {
				result.Warnings = append(result.Warnings, Warning{Path: dir, Message: "parsing manifest: " + err.Error()})
				return
			}
			result.Found = append(result.Found, Found{Path: dir, Manifest: m})
			return // a tool root is never descended into further
		}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childPath := filepath.Join(dir, e.Name())
		if isIgnored(ignores, childPath) {
			continue
		}
		walkOne(childPath, opts, ignores, depth+1, visited, result)
	}
}

func isIgnored(ignores []ignoreFrame, path string) bool {
	for _, frame := range ignores {
		rel, err := filepath.Rel(frame.dir, path)
		if err != nil {
			continue
		}
		if frame.matcher.MatchesPath(rel) {
			return true
		}
	}
	return false
}

// Mapper resolves arbitrary filesystem paths to the registered tool (if
// any) that owns them, caching resolved manifest locations across a
// single invocation.
type Mapper struct {
	isRegistered func(toolName string) bool
	cache        map[string]string // directory -> tool name, "" = no manifest found
}

// NewMapper creates a Mapper. isRegistered reports whether a tool name
// currently exists in the registry.
func NewMapper(isRegistered func(toolName string) bool) *Mapper {
	return &Mapper{isRegistered: isRegistered, cache: make(map[string]string)}
}

// ToolFor walks parents of path until it finds a pai-manifest.yaml,
// returning the manifest's name iff that tool is registered, else "".
func (m *Mapper) ToolFor(path string) (string, bool) {
	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}

	for {
		name, cached := m.cache[dir]
		if !cached {
			name = m.resolveManifestName(dir)
			m.cache[dir] = name
		}
		if name != "" {
			if m.isRegistered(name) {
				return name, true
			}
			return "", false
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// resolveManifestName returns the manifest name owning dir, or "" if dir
// directly contains no (parseable) pai-manifest.yaml.
func (m *Mapper) resolveManifestName(dir string) string {
	manifestPath := filepath.Join(dir, manifest.ManifestFileName)
	if _, err := os.Stat(manifestPath); err != nil {
		return ""
	}
	mf, err := manifest.Load(dir)
	if err != nil {
		return ""
	}
	return mf.Name
}
