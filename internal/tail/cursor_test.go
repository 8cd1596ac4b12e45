package tail

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(s); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
}

func TestSplitLines(t *testing.T) {
	cases := map[string][]string{
		"":            nil,
		"a\n":         {"a"},
		"a\nb":        {"a", "b"},
		"a\r\nb\r\n":  {"a", "b"},
		"\n\n":        {"", ""},
		"one\ntwo\n3": {"one", "two", "3"},
	}
	for in, want := range cases {
		if got := splitLines([]byte(in)); !reflect.DeepEqual(got, want) {
			t.Errorf("splitLines(%q)=%q want %q", in, got, want)
		}
	}
}

func TestInitialize_ExistingContentIsConsumed(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ConanSandbox.log")
	appendFile(t, p, "old1\nold2\n")
	c := New(nil)
	c.Initialize(p)
	if pos := c.Position(); pos.Lines != 2 || pos.Size != 10 {
		t.Fatalf("unexpected position %+v", pos)
	}
	b, err := c.ReadNew()
	if err != nil || len(b.Lines) != 0 {
		t.Fatalf("expected empty batch, got %+v err=%v", b, err)
	}
	appendFile(t, p, "new\n")
	b, _ = c.ReadNew()
	if !reflect.DeepEqual(b.Lines, []string{"new"}) || b.Rotated {
		t.Fatalf("unexpected batch %+v", b)
	}
}

func TestInitialize_MissingFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "absent.log")
	c := New(nil)
	c.Initialize(p)
	if pos := c.Position(); pos.Lines != 0 || pos.Size != 0 || pos.Path != p {
		t.Fatalf("unexpected position %+v", pos)
	}
	b, err := c.ReadNew()
	if err != nil || len(b.Lines) != 0 {
		t.Fatalf("missing file should give empty batch: %+v %v", b, err)
	}
	// file shows up later and is read from the top
	appendFile(t, p, "first\n")
	b, _ = c.ReadNew()
	if !reflect.DeepEqual(b.Lines, []string{"first"}) {
		t.Fatalf("unexpected batch %+v", b)
	}
}

func TestReadNew_LineCountNeverExceedsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	c := New(nil)
	c.OnFileAppeared(p)
	appendFile(t, p, "a\nb\nc\n")
	b, _ := c.ReadNew()
	if len(b.Lines) != 3 || c.Position().Lines != 3 {
		t.Fatalf("unexpected %+v pos=%+v", b, c.Position())
	}
	b, _ = c.ReadNew()
	if len(b.Lines) != 0 {
		t.Fatalf("unchanged size must yield empty batch: %+v", b)
	}
}

func TestReadNew_PartialTrailingLineCounts(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	c := New(nil)
	c.OnFileAppeared(p)
	appendFile(t, p, "a\npart")
	b, _ := c.ReadNew()
	if !reflect.DeepEqual(b.Lines, []string{"a", "part"}) {
		t.Fatalf("unexpected %+v", b)
	}
	appendFile(t, p, "ial\nnext\n")
	b, _ = c.ReadNew()
	if !reflect.DeepEqual(b.Lines, []string{"next"}) {
		t.Fatalf("the completed partial line is already counted: %+v", b)
	}
}

func TestReadNew_RotationResets(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	c := New(nil)
	c.OnFileAppeared(p)
	appendFile(t, p, "line one\nline two\nline three\n")
	_, _ = c.ReadNew()

	if err := os.WriteFile(p, []byte("fresh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := c.ReadNew()
	if err != nil {
		t.Fatal(err)
	}
	if !b.Rotated || !reflect.DeepEqual(b.Lines, []string{"fresh"}) {
		t.Fatalf("expected rotation with new content, got %+v", b)
	}
	if pos := c.Position(); pos.Lines != 1 || pos.Size != 6 {
		t.Fatalf("unexpected position after rotation %+v", pos)
	}
}

func TestReadNew_TruncateToEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	c := New(nil)
	c.OnFileAppeared(p)
	appendFile(t, p, "a\n")
	_, _ = c.ReadNew()
	if err := os.Truncate(p, 0); err != nil {
		t.Fatal(err)
	}
	b, _ := c.ReadNew()
	if !b.Rotated || len(b.Lines) != 0 {
		t.Fatalf("unexpected %+v", b)
	}
	appendFile(t, p, "b\n")
	b, _ = c.ReadNew()
	if b.Rotated || !reflect.DeepEqual(b.Lines, []string{"b"}) {
		t.Fatalf("unexpected %+v", b)
	}
}

func TestOnFileAppeared_ResetsOffsets(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.log")
	appendFile(t, p, "a\nb\n")
	c := New(nil)
	c.Initialize(p)
	c.OnFileAppeared(p)
	b, _ := c.ReadNew()
	if !reflect.DeepEqual(b.Lines, []string{"a", "b"}) {
		t.Fatalf("new epoch should read from the top: %+v", b)
	}
}

func TestReadNew_NoPath(t *testing.T) {
	b, err := New(nil).ReadNew()
	if err != nil || len(b.Lines) != 0 || b.Rotated {
		t.Fatalf("unexpected %+v %v", b, err)
	}
}
