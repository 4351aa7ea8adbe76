package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "name: " + name + "\nkind: library\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pai-manifest.yaml"), []byte(content), 0o644))
}

func TestWalkFindsManifestsAndDoesNotDescend(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "tools", "email"), "email")
	// a nested manifest under a discovered tool root must not be found
	writeManifest(t, filepath.Join(root, "tools", "email", "vendor", "nested"), "nested")

	res := Walk([]string{root}, DefaultOptions())
	require.Len(t, res.Found, 1)
	require.Equal(t, filepath.Join(root, "tools", "email"), res.Found[0].Path)
	require.Equal(t, "email", res.Found[0].Manifest.Name)
}

func TestWalkSkipsDefaultSkipDirs(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "node_modules", "some-pkg"), "ignored")
	writeManifest(t, filepath.Join(root, "real-tool"), "real-tool")

	res := Walk([]string{root}, DefaultOptions())
	require.Len(t, res.Found, 1)
	require.Equal(t, "real-tool", res.Found[0].Manifest.Name)
}

func TestWalkHonorsGitignore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("ignored-dir/\n"), 0o644))
	writeManifest(t, filepath.Join(root, "ignored-dir", "tool"), "hidden")
	writeManifest(t, filepath.Join(root, "visible-dir", "tool"), "visible")

	opts := DefaultOptions()
	res := Walk([]string{root}, opts)
	require.Len(t, res.Found, 1)
	require.Equal(t, "visible", res.Found[0].Manifest.Name)
}

func TestWalkRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	deep := root
	for i := 0; i < 5; i++ {
		deep = filepath.Join(deep, "level")
	}
	writeManifest(t, deep, "too-deep")

	opts := DefaultOptions()
	opts.MaxDepth = 2
	res := Walk([]string{root}, opts)
	require.Empty(t, res.Found)
}

func TestWalkEntryCountSafetyValve(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "file"+string(rune('a'+i))), []byte("x"), 0o644))
	}

	opts := DefaultOptions()
	opts.MaxEntriesPerDir = 5
	res := Walk([]string{root}, opts)
	require.Empty(t, res.Found)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0].Message, "too many entries")
}

func TestWalkSymlinkLoopProtection(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	loopLink := filepath.Join(sub, "loop")
	if err := os.Symlink(root, loopLink); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	writeManifest(t, filepath.Join(root, "tool"), "tool")

	res := Walk([]string{root}, DefaultOptions())
	require.Len(t, res.Found, 1)
}

func TestWalkParseErrorBecomesWarning(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pai-manifest.yaml"), []byte("kind: library\n"), 0o644))

	res := Walk([]string{root}, DefaultOptions())
	require.Empty(t, res.Found)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0].Message, "parsing manifest")
}

func TestMapperToolForResolvesNearestRegisteredAncestor(t *testing.T) {
	root := t.TempDir()
	toolDir := filepath.Join(root, "tools", "email")
	writeManifest(t, toolDir, "email")
	filePath := filepath.Join(toolDir, "src", "main.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	require.NoError(t, os.WriteFile(filePath, []byte("package main"), 0o644))

	registered := map[string]bool{"email": true}
	m := NewMapper(func(name string) bool { return registered[name] })

	name, ok := m.ToolFor(filePath)
	require.True(t, ok)
	require.Equal(t, "email", name)
}

func TestMapperToolForUnregisteredReturnsFalse(t *testing.T) {
	root := t.TempDir()
	toolDir := filepath.Join(root, "tools", "ghost")
	writeManifest(t, toolDir, "ghost")

	m := NewMapper(func(name string) bool { return false })

	name, ok := m.ToolFor(toolDir)
	require.False(t, ok)
	require.Equal(t, "", name)
}

func TestMapperToolForNoManifestAnywhere(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	m := NewMapper(func(name string) bool { return true })
	_, ok := m.ToolFor(sub)
	require.False(t, ok)
}

func TestMapperToolForCachesDirectoryResolution(t *testing.T) {
	root := t.TempDir()
	toolDir := filepath.Join(root, "tools", "email")
	writeManifest(t, toolDir, "email")

	calls := 0
	m := NewMapper(func(name string) bool { calls++; return true })

	_, _ = m.ToolFor(toolDir)
	_, _ = m.ToolFor(toolDir)
	require.Equal(t, 2, calls) // isRegistered still called each time, manifest parse is cached

	require.Contains(t, m.cache, toolDir)
}
