package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"path"
	"time"
	"unicode/utf8"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

// containerHandle implements sandbox.Handle for one Docker container.
type containerHandle struct {
	cli *client.Client
	id  string
}

var _ sandbox.Handle = (*containerHandle)(nil)

func (h *containerHandle) ID() string { return h.id }

// Running reloads live engine state; it never trusts a cached answer.
func (h *containerHandle) Running(ctx context.Context) bool {
	c, err := h.cli.ContainerInspect(ctx, h.id)
	if err != nil {
		return false
	}
	return c.State.Running
}

// Run executes the command through a single shell invocation with an
// explicit timeout. Stdout and stderr are demultiplexed from the
// attached exec stream.
func (h *containerHandle) Run(ctx context.Context, command, workdir string, timeout time.Duration) (*sandbox.ExecResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec, err := h.cli.ContainerExecCreate(execCtx, h.id, types.ExecConfig{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := h.cli.ContainerExecAttach(execCtx, exec.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("attaching exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case <-execCtx.Done():
		return nil, fmt.Errorf("command timed out after %s", timeout)
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("reading exec output: %w", err)
		}
	}

	inspect, err := h.cli.ContainerExecInspect(execCtx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}

	return &sandbox.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// WriteFile wraps the content in a single-entry tar archive and
// injects it into the container.
func (h *containerHandle) WriteFile(ctx context.Context, filePath, content string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	data := []byte(content)
	if err := tw.WriteHeader(&tar.Header{
		Name: path.Base(filePath),
		Mode: 0644,
		Size: int64(len(data)),
	}); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}

	if err := h.cli.CopyToContainer(ctx, h.id, path.Dir(filePath), &buf, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying to container: %w", err)
	}
	return nil
}

// ReadFile extracts the single entry of the archive containing the
// file. UTF-8 content comes back as text; anything else becomes a
// base64 data URI tagged with a MIME type guessed from the extension,
// so tools can return images transparently.
func (h *containerHandle) ReadFile(ctx context.Context, filePath string) (string, error) {
	rc, _, err := h.cli.CopyFromContainer(ctx, h.id, filePath)
	if err != nil {
		return "", fmt.Errorf("copying from container: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	if _, err := tr.Next(); err != nil {
		return "", fmt.Errorf("reading archive: %w", err)
	}
	raw, err := io.ReadAll(tr)
	if err != nil {
		return "", fmt.Errorf("reading archive entry: %w", err)
	}

	if utf8.Valid(raw) {
		return string(raw), nil
	}

	mimeType := mime.TypeByExtension(path.Ext(filePath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(raw)), nil
}
