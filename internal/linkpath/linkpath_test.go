package linkpath

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRedirect(t *testing.T, path, target string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(target), 0o644); err != nil {
		t.Fatalf("write redirect: %v", err)
	}
}

func TestResolveDirectory(t *testing.T) {
	dir := t.TempDir()
	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != dir {
		t.Errorf("Resolve(%q) = %q, want unchanged", dir, got)
	}
}

func TestResolveSingleRedirect(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(root, "link")
	writeRedirect(t, link, "real")

	got, err := Resolve(link)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != target {
		t.Errorf("Resolve = %q, want %q", got, target)
	}
}

func TestResolveChain(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeRedirect(t, filepath.Join(root, "hop2"), "real")
	writeRedirect(t, filepath.Join(root, "hop1"), "hop2")

	got, err := Resolve(filepath.Join(root, "hop1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != target {
		t.Errorf("Resolve = %q, want %q", got, target)
	}
}

func TestResolveRelativeToRedirectDir(t *testing.T) {
	// The target path is interpreted relative to the redirect file's own
	// directory, not the process working directory.
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a", "b"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeRedirect(t, filepath.Join(root, "a", "link"), "../a/b")

	got, err := Resolve(filepath.Join(root, "a", "link"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(root, "a", "b")
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveTrimsWhitespace(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(root, "link")
	writeRedirect(t, link, "  real\n")

	got, err := Resolve(link)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != target {
		t.Errorf("Resolve = %q, want %q", got, target)
	}
}

func TestResolveMissingEntry(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing entry")
	}
}

func TestResolveDanglingRedirect(t *testing.T) {
	root := t.TempDir()
	link := filepath.Join(root, "link")
	writeRedirect(t, link, "nowhere")

	if _, err := Resolve(link); err == nil {
		t.Error("expected error for dangling redirect")
	}
}

func TestResolveCycleTerminates(t *testing.T) {
	root := t.TempDir()
	writeRedirect(t, filepath.Join(root, "a"), "b")
	writeRedirect(t, filepath.Join(root, "b"), "a")

	if _, err := Resolve(filepath.Join(root, "a")); err == nil {
		t.Error("expected error for redirect cycle")
	}
}

func TestIsRedirect(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "dir")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(root, "link")
	writeRedirect(t, link, "dir")

	if IsRedirect(dir) {
		t.Error("directory reported as redirect")
	}
	if !IsRedirect(link) {
		t.Error("redirect file not reported as redirect")
	}
	if IsRedirect(filepath.Join(root, "absent")) {
		t.Error("missing entry reported as redirect")
	}
}

func TestRelocate(t *testing.T) {
	root := t.TempDir()
	orig := filepath.Join(root, "home")
	if err := os.Mkdir(orig, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(orig, "f"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dest := filepath.Join(root, "elsewhere")
	if err := Relocate(orig, dest); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	if !IsRedirect(orig) {
		t.Fatal("original path is not a redirect after relocation")
	}
	got, err := Resolve(orig)
	if err != nil {
		t.Fatalf("Resolve after relocate: %v", err)
	}
	if got != dest {
		t.Errorf("Resolve = %q, want %q", got, dest)
	}
	if _, err := os.ReadFile(filepath.Join(got, "f")); err != nil {
		t.Errorf("content not reachable after relocation: %v", err)
	}
}

func TestRelocateRejectsFile(t *testing.T) {
	root := t.TempDir()
	f := filepath.Join(root, "plain")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Relocate(f, filepath.Join(root, "dest")); err == nil {
		t.Error("expected error relocating a regular file")
	}
}
