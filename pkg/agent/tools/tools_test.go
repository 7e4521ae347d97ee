package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

// fakeHandle is an in-memory sandbox.Handle. Run answers are scripted
// through runFunc; files live in a map.
type fakeHandle struct {
	files    map[string]string
	runs     []string
	runFunc  func(command string) (*sandbox.ExecResult, error)
	writeErr error
}

var _ sandbox.Handle = (*fakeHandle)(nil)

func newFakeHandle() *fakeHandle {
	return &fakeHandle{files: map[string]string{}}
}

func (h *fakeHandle) ID() string { return "fake-container" }

func (h *fakeHandle) Run(ctx context.Context, command, workdir string, timeout time.Duration) (*sandbox.ExecResult, error) {
	h.runs = append(h.runs, command)
	if h.runFunc != nil {
		return h.runFunc(command)
	}
	return &sandbox.ExecResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (h *fakeHandle) ReadFile(ctx context.Context, path string) (string, error) {
	content, ok := h.files[path]
	if !ok {
		return "", errors.New("no such file")
	}
	return content, nil
}

func (h *fakeHandle) WriteFile(ctx context.Context, path, content string) error {
	if h.writeErr != nil {
		return h.writeErr
	}
	h.files[path] = content
	return nil
}

func (h *fakeHandle) Running(ctx context.Context) bool { return true }

func TestBashSuccessFraming(t *testing.T) {
	h := newFakeHandle()
	h.runFunc = func(command string) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 0, Stdout: "hello", Stderr: "a warning"}, nil
	}

	res := NewBash(h).Execute(context.Background(), map[string]any{"command": "echo hello"})
	if !res.Success {
		t.Fatalf("Success = false: %s", res.Error)
	}
	if !strings.HasPrefix(res.Output, "[SUCCESS]\n") {
		t.Errorf("output missing success frame: %q", res.Output)
	}
	if !strings.Contains(res.Output, "hello") || !strings.Contains(res.Output, "a warning") {
		t.Errorf("output missing stdout/stderr: %q", res.Output)
	}
	if res.Metadata["exit_code"] != 0 {
		t.Errorf("exit_code metadata = %v", res.Metadata["exit_code"])
	}
}

func TestBashFailureFraming(t *testing.T) {
	h := newFakeHandle()
	h.runFunc = func(command string) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 2, Stderr: "boom"}, nil
	}

	res := NewBash(h).Execute(context.Background(), map[string]any{"command": "false"})
	if res.Success {
		t.Fatal("Success = true for nonzero exit")
	}
	if !strings.HasPrefix(res.Output, "[ERROR] Exit code 2") {
		t.Errorf("output missing error frame: %q", res.Output)
	}
	if res.Error != "Command exited with code 2" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestBashEmptyOutputPlaceholder(t *testing.T) {
	h := newFakeHandle()
	h.runFunc = func(command string) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}
	res := NewBash(h).Execute(context.Background(), map[string]any{"command": "true"})
	if !strings.Contains(res.Output, "(no output)") {
		t.Errorf("output = %q, want (no output) placeholder", res.Output)
	}
}

func TestBashRejectsDangerousCommand(t *testing.T) {
	h := newFakeHandle()
	res := NewBash(h).Execute(context.Background(), map[string]any{"command": "ls ;rm -rf /"})
	if res.Success {
		t.Fatal("dangerous command should not succeed")
	}
	if len(h.runs) != 0 {
		t.Error("dangerous command must never reach the sandbox")
	}
}

func TestFileReadTextAndMissing(t *testing.T) {
	h := newFakeHandle()
	h.files[sandbox.WritablePrefix+"/a.txt"] = "contents"

	res := NewFileRead(h).Execute(context.Background(), map[string]any{"path": sandbox.WritablePrefix + "/a.txt"})
	if !res.Success || res.Output != "contents" {
		t.Errorf("read = %+v, want contents", res)
	}
	if res.Metadata["is_binary"] != false {
		t.Error("text file flagged as binary")
	}

	res = NewFileRead(h).Execute(context.Background(), map[string]any{"path": sandbox.WritablePrefix + "/missing.txt"})
	if res.Success {
		t.Error("missing file read should fail")
	}
}

func TestFileReadImageProducesMetadata(t *testing.T) {
	h := newFakeHandle()
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fakepng"))
	h.files[sandbox.WritablePrefix+"/chart.png"] = uri

	res := NewFileRead(h).Execute(context.Background(), map[string]any{"path": sandbox.WritablePrefix + "/chart.png"})
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if strings.Contains(res.Output, "base64,") {
		t.Error("model-facing output must not carry the raw data URI")
	}
	if res.Metadata["type"] != "image" || res.Metadata["image_data"] != uri {
		t.Errorf("image metadata = %v", res.Metadata)
	}
	if res.Metadata["mime_type"] != "image/png" || res.Metadata["filename"] != "chart.png" {
		t.Errorf("image metadata = %v", res.Metadata)
	}
}

func TestFileReadRejectsOutsideWorkspace(t *testing.T) {
	h := newFakeHandle()
	res := NewFileRead(h).Execute(context.Background(), map[string]any{"path": "/etc/passwd"})
	if res.Success {
		t.Error("path outside workspace must be rejected")
	}
}

func TestFileWriteSimpleFilenameOnly(t *testing.T) {
	h := newFakeHandle()
	tool := NewFileWrite(h)

	res := tool.Execute(context.Background(), map[string]any{"filename": "script.py", "content": "print(1)"})
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}
	if h.files[sandbox.WritablePrefix+"/script.py"] != "print(1)" {
		t.Error("content not written under the writable prefix")
	}

	for _, bad := range []string{"../escape.py", "sub/dir.py", ".hidden", `win\path.py`} {
		res := tool.Execute(context.Background(), map[string]any{"filename": bad, "content": "x"})
		if res.Success {
			t.Errorf("filename %q accepted, want rejection", bad)
		}
	}
}

func TestFileEditReplacesExactlyOnce(t *testing.T) {
	h := newFakeHandle()
	p := sandbox.WritablePrefix + "/main.py"
	h.files[p] = "a = 1\nb = 2\na = 1\nc = 3\n"
	tool := NewFileEdit(h)

	res := tool.Execute(context.Background(), map[string]any{
		"path": p, "old_content": "a = 1", "new_content": "a = 9",
	})
	if res.Success {
		t.Fatal("ambiguous match should fail")
	}
	if !strings.Contains(res.Error, "2 times") {
		t.Errorf("Error = %q, want occurrence count", res.Error)
	}

	res = tool.Execute(context.Background(), map[string]any{
		"path": p, "old_content": "b = 2", "new_content": "b = 20",
	})
	if !res.Success {
		t.Fatalf("edit failed: %s", res.Error)
	}
	if h.files[p] != "a = 1\nb = 20\na = 1\nc = 3\n" {
		t.Errorf("file after edit = %q", h.files[p])
	}

	res = tool.Execute(context.Background(), map[string]any{
		"path": p, "old_content": "never here", "new_content": "x",
	})
	if res.Success {
		t.Error("edit with absent old_content should fail")
	}
}

func TestFileEditOnlyInWritableTree(t *testing.T) {
	h := newFakeHandle()
	res := NewFileEdit(h).Execute(context.Background(), map[string]any{
		"path": sandbox.SharedPrefix + "/data.csv", "old_content": "a", "new_content": "b",
	})
	if res.Success {
		t.Error("edit of read-only shared file must be rejected")
	}
}

func TestEditLinesReplace(t *testing.T) {
	h := newFakeHandle()
	p := sandbox.WritablePrefix + "/f.txt"
	h.files[p] = "one\ntwo\nthree\nfour"

	res := NewEditLines(h).Execute(context.Background(), map[string]any{
		"command": "replace", "path": p,
		"start_line": float64(2), "end_line": float64(3),
		"new_content": "TWO\nTHREE",
	})
	if !res.Success {
		t.Fatalf("replace failed: %s", res.Error)
	}
	if h.files[p] != "one\nTWO\nTHREE\nfour" {
		t.Errorf("file = %q", h.files[p])
	}
}

func TestEditLinesSingleLineRange(t *testing.T) {
	h := newFakeHandle()
	p := sandbox.WritablePrefix + "/f.txt"
	h.files[p] = "one\ntwo\nthree"

	res := NewEditLines(h).Execute(context.Background(), map[string]any{
		"command": "replace", "path": p,
		"start_line": float64(2), "end_line": float64(2),
		"new_content": "TWO",
	})
	if !res.Success {
		t.Fatalf("replace failed: %s", res.Error)
	}
	if h.files[p] != "one\nTWO\nthree" {
		t.Errorf("file = %q", h.files[p])
	}
}

func TestEditLinesInsert(t *testing.T) {
	h := newFakeHandle()
	p := sandbox.WritablePrefix + "/f.txt"
	h.files[p] = "one\ntwo"
	tool := NewEditLines(h)

	res := tool.Execute(context.Background(), map[string]any{
		"command": "insert", "path": p,
		"insert_line": float64(0), "new_content": "zero",
	})
	if !res.Success {
		t.Fatalf("insert at start failed: %s", res.Error)
	}
	if h.files[p] != "zero\none\ntwo" {
		t.Errorf("file = %q", h.files[p])
	}

	res = tool.Execute(context.Background(), map[string]any{
		"command": "insert", "path": p,
		"insert_line": float64(3), "new_content": "three",
	})
	if !res.Success {
		t.Fatalf("insert at end failed: %s", res.Error)
	}
	if h.files[p] != "zero\none\ntwo\nthree" {
		t.Errorf("file = %q", h.files[p])
	}
}

func TestEditLinesDelete(t *testing.T) {
	h := newFakeHandle()
	p := sandbox.WritablePrefix + "/f.txt"
	h.files[p] = "one\ntwo\nthree"

	res := NewEditLines(h).Execute(context.Background(), map[string]any{
		"command": "delete", "path": p,
		"start_line": float64(1), "end_line": float64(2),
	})
	if !res.Success {
		t.Fatalf("delete failed: %s", res.Error)
	}
	if h.files[p] != "three" {
		t.Errorf("file = %q", h.files[p])
	}
}

func TestEditLinesRejectsBadRanges(t *testing.T) {
	h := newFakeHandle()
	p := sandbox.WritablePrefix + "/f.txt"
	h.files[p] = "one\ntwo"
	tool := NewEditLines(h)

	cases := []map[string]any{
		{"command": "replace", "path": p, "start_line": float64(0), "end_line": float64(1), "new_content": "x"},
		{"command": "delete", "path": p, "start_line": float64(2), "end_line": float64(1)},
		{"command": "delete", "path": p, "start_line": float64(1), "end_line": float64(99)},
		{"command": "insert", "path": p, "insert_line": float64(5), "new_content": "x"},
		{"command": "rename", "path": p},
	}
	for i, args := range cases {
		if res := tool.Execute(context.Background(), args); res.Success {
			t.Errorf("case %d: invalid edit accepted", i)
		}
	}
}

func TestSearchModeDetection(t *testing.T) {
	cases := []struct {
		query    string
		filename bool
	}{
		{"*.py", true},
		{"**/*.go", true},
		{"config.json", true},
		{"error message", false},
		{"TODO", false},
		{"src/main.py", false},
	}
	for _, tc := range cases {
		if got := isFilenameQuery(tc.query); got != tc.filename {
			t.Errorf("isFilenameQuery(%q) = %v, want %v", tc.query, got, tc.filename)
		}
	}
}

func TestSearchFilenameMode(t *testing.T) {
	h := newFakeHandle()
	h.runFunc = func(command string) (*sandbox.ExecResult, error) {
		if strings.HasPrefix(command, "test -e") {
			return &sandbox.ExecResult{ExitCode: 0}, nil
		}
		if strings.HasPrefix(command, "find") {
			return &sandbox.ExecResult{ExitCode: 0, Stdout: "/workspace/out/a.py\n/workspace/out/b.py\n"}, nil
		}
		return &sandbox.ExecResult{ExitCode: 1}, nil
	}

	res := NewSearch(h).Execute(context.Background(), map[string]any{"query": "*.py"})
	if !res.Success {
		t.Fatalf("search failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "Found 2 file(s)") {
		t.Errorf("output = %q", res.Output)
	}
	if res.Metadata["mode"] != "filename" || res.Metadata["matches"] != 2 {
		t.Errorf("metadata = %v", res.Metadata)
	}
}

func TestSearchTextModeWithContext(t *testing.T) {
	h := newFakeHandle()
	h.runFunc = func(command string) (*sandbox.ExecResult, error) {
		switch {
		case strings.HasPrefix(command, "test -e"):
			return &sandbox.ExecResult{ExitCode: 0}, nil
		case strings.HasPrefix(command, "grep -rl"):
			return &sandbox.ExecResult{ExitCode: 0, Stdout: "/workspace/out/app.py\n"}, nil
		case strings.HasPrefix(command, "grep -n"):
			return &sandbox.ExecResult{ExitCode: 0, Stdout: "12:raise RuntimeError('kaput')\n"}, nil
		}
		return &sandbox.ExecResult{ExitCode: 1}, nil
	}

	res := NewSearch(h).Execute(context.Background(), map[string]any{"query": "kaput"})
	if !res.Success {
		t.Fatalf("search failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "/workspace/out/app.py") {
		t.Errorf("output missing file: %q", res.Output)
	}
	if !strings.Contains(res.Output, "12:raise RuntimeError") {
		t.Errorf("output missing context line: %q", res.Output)
	}
}

func TestSearchMissingPath(t *testing.T) {
	h := newFakeHandle()
	h.runFunc = func(command string) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 1}, nil
	}
	res := NewSearch(h).Execute(context.Background(), map[string]any{
		"query": "x", "path": sandbox.WritablePrefix + "/nope",
	})
	if res.Success {
		t.Error("search of a missing path should fail")
	}
	if !strings.Contains(res.Error, "Path not found") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSandboxRegistryContents(t *testing.T) {
	set := Sandbox(newFakeHandle())
	want := map[string]bool{
		"bash": false, "file_read": false, "file_write": false,
		"file_edit": false, "edit_lines": false, "search": false,
	}
	for _, tool := range set {
		if _, known := want[tool.Name()]; !known {
			t.Errorf("unexpected tool %q", tool.Name())
			continue
		}
		want[tool.Name()] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q missing from sandbox set", name)
		}
	}
}
