package filter

import (
	"path/filepath"
	"testing"

	"github.com/pseudocoder/livereload/internal/config"
)

func newTestFilter(t *testing.T, running *bool) (*Filter, string) {
	t.Helper()
	root := t.TempDir()
	f := New(func() bool { return *running })

	cfg, err := config.Default().Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	f.SetRules(cfg)
	f.SetRoots(root, nil)
	return f, root
}

func TestKeep(t *testing.T) {
	running := true
	f, root := newTestFilter(t, &running)

	tests := []struct {
		name string
		rel  string
		want bool
	}{
		{"html at root", "index.html", true},
		{"css nested", "styles/app.css", true},
		{"uppercase extension", "PAGE.HTML", true},
		{"less", "theme.less", true},
		{"unwatched extension", "notes.md", false},
		{"no extension", "Makefile", false},
		{"excluded top-level", "node_modules/lib/index.js", false},
		{"excluded nested", "packages/ui/node_modules/x.js", false},
		{"excluded dot folder", ".git/hooks/x.js", false},
		{"excluded case-insensitive", "Node_Modules/x.js", false},
		{"prefix but not folder", "node_modules_backup/x.js", true},
		{"idea lookalike", "ideas/x.html", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Keep(filepath.Join(root, filepath.FromSlash(tt.rel)))
			if got != tt.want {
				t.Errorf("Keep(%q) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}

func TestKeepOutsideRoot(t *testing.T) {
	running := true
	f, root := newTestFilter(t, &running)

	outside := filepath.Join(filepath.Dir(root), "other", "index.html")
	if f.Keep(outside) {
		t.Errorf("Keep(%q) should be false for a file outside the root", outside)
	}
	if f.Keep(root) {
		t.Error("the root itself is not a file under the root")
	}
}

func TestKeepRequiresRunningAndEnabled(t *testing.T) {
	running := false
	f, root := newTestFilter(t, &running)
	path := filepath.Join(root, "index.html")

	if f.Keep(path) {
		t.Error("Keep should be false while the service is stopped")
	}

	running = true
	if !f.Keep(path) {
		t.Error("Keep should be true once running")
	}

	cfg, _ := config.Default().Snapshot()
	cfg.Enabled = false
	f.SetRules(cfg)
	if f.Keep(path) {
		t.Error("Keep should be false when live reload is disabled")
	}
}

func TestKeepOpenRootsWhenNoActiveRoot(t *testing.T) {
	running := true
	f := New(func() bool { return running })
	cfg, _ := config.Default().Snapshot()
	f.SetRules(cfg)

	a, b := t.TempDir(), t.TempDir()
	f.SetRoots("", []string{a, b})

	if !f.Keep(filepath.Join(b, "index.html")) {
		t.Error("file under a second open root should be kept")
	}

	f.SetRoots(a, []string{a, b})
	if f.Keep(filepath.Join(b, "index.html")) {
		t.Error("with an active root bound, other open roots are ignored")
	}
}

func TestRulesHotUpdate(t *testing.T) {
	running := true
	f, root := newTestFilter(t, &running)
	path := filepath.Join(root, "dist", "bundle.js")

	if !f.Keep(path) {
		t.Fatal("dist/bundle.js should be kept with defaults")
	}

	c := config.Default()
	c.ExcludedFolders = "dist"
	c.WatchedExtensions = "html"
	cfg, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	f.SetRules(cfg)

	if f.Keep(path) {
		t.Error("dist/bundle.js should be dropped after the update")
	}
	if !f.Keep(filepath.Join(root, "node_modules", "x.html")) {
		t.Error("node_modules is no longer excluded after the update")
	}
}

func TestExcludedByMultiSegment(t *testing.T) {
	excluded := config.ParseFolders("build/out")
	if _, hit := excludedBy("build/out/app.js", excluded); !hit {
		t.Error("build/out/app.js should match build/out")
	}
	if _, hit := excludedBy("build/output/app.js", excluded); hit {
		t.Error("build/output is not build/out")
	}
	if _, hit := excludedBy("web/build/out", excluded); !hit {
		t.Error("exact nested match should be excluded")
	}
}

func TestExcludedPrunesDirectories(t *testing.T) {
	excluded := config.ParseFolders(".git,node_modules")
	for rel, want := range map[string]bool{
		"node_modules":          true,
		"pkg/node_modules":      true,
		"Node_Modules/lib":      true,
		"src":                   false,
		"node_modules_cache":    false,
		"docs/.github/workflow": false,
	} {
		if got := Excluded(rel, excluded); got != want {
			t.Errorf("Excluded(%q) = %v, want %v", rel, got, want)
		}
	}
}
