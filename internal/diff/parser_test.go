package diff

import (
	"reflect"
	"testing"
)

const twoFileDiff = `diff --git a/foo.py b/foo.py
index 1111111..2222222 100644
--- a/foo.py
+++ b/foo.py
@@ -10,3 +10,3 @@
 ctx
-# old
+# new
 ctx
diff --git a/bar.go b/bar.go
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/bar.go
@@ -0,0 +1,2 @@
+package bar
+var X = 1
`

func TestParsePatchesTwoFiles(t *testing.T) {
	patches := ParsePatches(twoFileDiff)
	if len(patches) != 2 {
		t.Fatalf("patches = %d, want 2", len(patches))
	}

	p := patches[0]
	if p.NewPath != "foo.py" || p.IsNew || p.IsDelete || p.IsBinary {
		t.Errorf("foo.py patch = %+v", p)
	}
	if len(p.Hunks) != 1 {
		t.Fatalf("foo.py hunks = %d, want 1", len(p.Hunks))
	}
	h := p.Hunks[0]
	if h.OldStart != 10 || h.OldLines != 3 || h.NewStart != 10 || h.NewLines != 3 {
		t.Errorf("hunk header = %+v", h)
	}
	wantLines := []string{" ctx", "-# old", "+# new", " ctx"}
	if !reflect.DeepEqual(h.Lines, wantLines) {
		t.Errorf("hunk lines = %v, want %v", h.Lines, wantLines)
	}

	q := patches[1]
	if q.NewPath != "bar.go" || !q.IsNew {
		t.Errorf("bar.go patch = %+v", q)
	}
	if len(q.Hunks) != 1 || len(q.Hunks[0].Lines) != 2 {
		t.Errorf("bar.go hunks = %+v", q.Hunks)
	}
}

func TestParsePatchesBinary(t *testing.T) {
	diff := "diff --git a/img.png b/img.png\nindex 1111111..2222222 100644\nBinary files a/img.png and b/img.png differ\n"
	patches := ParsePatches(diff)
	if len(patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(patches))
	}
	if !patches[0].IsBinary {
		t.Errorf("IsBinary = false, want true")
	}
	if len(patches[0].Hunks) != 0 {
		t.Errorf("binary patch has hunks: %+v", patches[0].Hunks)
	}
}

func TestParsePatchesDeletedFile(t *testing.T) {
	diff := `diff --git a/gone.py b/gone.py
deleted file mode 100644
--- a/gone.py
+++ /dev/null
@@ -1,2 +0,0 @@
-a = 1
-b = 2
`
	patches := ParsePatches(diff)
	if len(patches) != 1 || !patches[0].IsDelete {
		t.Fatalf("patches = %+v, want one deleted file", patches)
	}
}

func TestParsePatchesMalformedHunkDropped(t *testing.T) {
	// First hunk claims 3 new lines but supplies 1; second hunk is fine.
	diff := `diff --git a/x.go b/x.go
--- a/x.go
+++ b/x.go
@@ -1,1 +1,3 @@
+only one line
@@ -5,1 +7,1 @@
-old
+new
`
	patches := ParsePatches(diff)
	if len(patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(patches))
	}
	if len(patches[0].Hunks) != 1 {
		t.Fatalf("hunks = %d, want 1 (malformed dropped)", len(patches[0].Hunks))
	}
	if patches[0].Hunks[0].NewStart != 7 {
		t.Errorf("surviving hunk NewStart = %d, want 7", patches[0].Hunks[0].NewStart)
	}
}

func TestParsePatchesNoGitHeader(t *testing.T) {
	diff := "--- a/plain.py\n+++ b/plain.py\n@@ -1,1 +1,1 @@\n-x\n+y\n"
	patches := ParsePatches(diff)
	if len(patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(patches))
	}
	if patches[0].NewPath != "plain.py" {
		t.Errorf("NewPath = %q, want plain.py", patches[0].NewPath)
	}
}

func TestParsePatchesEmpty(t *testing.T) {
	if got := ParsePatches("  \n "); got != nil {
		t.Errorf("ParsePatches(blank) = %v, want nil", got)
	}
}
