// Package docker implements the sandbox pool on the Docker engine.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"

	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

// envImages maps environment types to sandbox image identifiers.
var envImages = map[string]string{
	"python3.13": "opencodex-env-python3.13:latest",
	"python3.12": "opencodex-env-python3.12:latest",
	"python3.11": "opencodex-env-python3.11:latest",
	"nodejs":     "opencodex-env-nodejs:latest",
	"java":       "opencodex-env-java:latest",
	"kotlin":     "opencodex-env-kotlin:latest",
	"scala":      "opencodex-env-scala:latest",
	"go":         "opencodex-env-go:latest",
	"rust":       "opencodex-env-rust:latest",
	"cpp":        "opencodex-env-cpp:latest",
	"ruby":       "opencodex-env-ruby:latest",
	"php":        "opencodex-env-php:latest",
	"dotnet":     "opencodex-env-dotnet:latest",
}

// EnvironmentTypes returns the supported environment identifiers.
func EnvironmentTypes() []string {
	out := make([]string, 0, len(envImages))
	for k := range envImages {
		out = append(out, k)
	}
	return out
}

// IsEnvironmentType reports whether t is a supported environment.
func IsEnvironmentType(t string) bool {
	_, ok := envImages[t]
	return ok
}

// PoolConfig carries the resource and build settings for the pool.
type PoolConfig struct {
	// MemoryLimitBytes is the per-container memory ceiling.
	MemoryLimitBytes int64
	// CPUQuota is microseconds of CPU per 100ms period.
	CPUQuota int64
	// EnvironmentsDir holds <envType>.Dockerfile definitions used to
	// build images that are absent locally.
	EnvironmentsDir string
}

// Pool implements sandbox.Pool on Docker. The handle map is the only
// mutable state and every mutation happens under the mutex.
type Pool struct {
	cli *client.Client
	cfg PoolConfig

	mu      sync.Mutex
	handles map[string]*containerHandle
}

var _ sandbox.Pool = (*Pool)(nil)

// New creates a pool. Docker connectivity failure is fatal here and
// only here; later per-operation engine errors are returned typed.
func New(cfg PoolConfig) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker engine unreachable: %w", err)
	}
	if cfg.MemoryLimitBytes == 0 {
		cfg.MemoryLimitBytes = 1 << 30
	}
	if cfg.CPUQuota == 0 {
		cfg.CPUQuota = 50000
	}
	return &Pool{
		cli:     cli,
		cfg:     cfg,
		handles: make(map[string]*containerHandle),
	}, nil
}

// Close releases the Docker client.
func (p *Pool) Close() error {
	return p.cli.Close()
}

func containerName(conversationID string) string {
	return "sandbox-" + conversationID
}

func workspaceVolume(conversationID string) string {
	return "sandbox-ws-" + conversationID
}

func projectVolume(projectID string) string {
	return "project-files-" + projectID
}

// GetOrCreate returns the live handle for the conversation, creating
// or recreating the container as needed.
func (p *Pool) GetOrCreate(ctx context.Context, conversationID, projectID, environmentType string, opts sandbox.Options) (sandbox.Handle, []string, error) {
	h, created, err := p.getOrCreateLocked(ctx, conversationID, projectID, environmentType, opts)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		return h, nil, nil
	}

	// The install step can run for minutes; it happens outside the pool
	// lock so other conversations' pool operations are not blocked.
	warnings := p.installPackages(ctx, h, environmentType, opts.Packages)
	return h, warnings, nil
}

func (p *Pool) getOrCreateLocked(ctx context.Context, conversationID, projectID, environmentType string, opts sandbox.Options) (*containerHandle, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[conversationID]; ok {
		if h.Running(ctx) {
			return h, false, nil
		}
		// Tracked handle died externally; discard and recreate.
		slog.Info("Tracked sandbox is dead, recreating", "conversationID", conversationID)
		delete(p.handles, conversationID)
		p.removeByName(ctx, containerName(conversationID))
	}

	// Crash recovery: a prior process may have left a container under
	// our deterministic name. Never collide, never leak.
	p.removeOrphan(ctx, conversationID)

	image, err := p.ensureImage(ctx, environmentType)
	if err != nil {
		return nil, false, err
	}

	if err := p.ensureVolume(ctx, workspaceVolume(conversationID)); err != nil {
		return nil, false, fmt.Errorf("creating workspace volume: %w", err)
	}
	if err := p.ensureVolume(ctx, projectVolume(projectID)); err != nil {
		return nil, false, fmt.Errorf("creating project volume: %w", err)
	}

	envVars := []string{
		"CONVERSATION_ID=" + conversationID,
		"WORKSPACE=" + sandbox.WorkspaceRoot,
	}
	for k, v := range opts.EnvVars {
		envVars = append(envVars, k+"="+v)
	}

	cfg := &container.Config{
		Image:     image,
		Tty:       true,
		OpenStdin: true,
		Env:       envVars,
		Labels: map[string]string{
			labelManager:      labelManagerValue,
			labelConversation: conversationID,
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: workspaceVolume(conversationID),
				Target: sandbox.WritablePrefix,
			},
			{
				Type:     mount.TypeVolume,
				Source:   projectVolume(projectID),
				Target:   sandbox.SharedPrefix,
				ReadOnly: true,
			},
		},
		Resources: container.Resources{
			Memory:     p.cfg.MemoryLimitBytes,
			MemorySwap: p.cfg.MemoryLimitBytes,
			CPUQuota:   p.cfg.CPUQuota,
		},
		CapDrop:     strslice.StrSlice{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		NetworkMode: "bridge",
	}

	resp, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(conversationID))
	if err != nil {
		return nil, false, fmt.Errorf("creating container: %w", err)
	}
	if err := p.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, false, fmt.Errorf("starting container: %w", err)
	}

	h := &containerHandle{cli: p.cli, id: resp.ID}
	p.handles[conversationID] = h

	slog.Info("Sandbox started", "conversationID", conversationID, "environment", environmentType, "containerID", resp.ID[:12])
	return h, true, nil
}

// Get is a non-creating lookup. It returns nil for dead handles.
func (p *Pool) Get(ctx context.Context, conversationID string) sandbox.Handle {
	p.mu.Lock()
	h, ok := p.handles[conversationID]
	p.mu.Unlock()
	if !ok || !h.Running(ctx) {
		return nil
	}
	return h
}

// Reset clears the writable workspace subtree in place.
func (p *Pool) Reset(ctx context.Context, conversationID string) error {
	h := p.Get(ctx, conversationID)
	if h == nil {
		return fmt.Errorf("no live sandbox for conversation %s", conversationID)
	}
	res, err := h.Run(ctx, "rm -rf "+sandbox.WritablePrefix+"/*", sandbox.WorkspaceRoot, 30*time.Second)
	if err != nil {
		return fmt.Errorf("resetting workspace: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("resetting workspace: exit code %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// Destroy stops and force-removes the conversation's container.
// Removing a container that no longer exists is not an error.
func (p *Pool) Destroy(ctx context.Context, conversationID string) error {
	p.mu.Lock()
	delete(p.handles, conversationID)
	p.mu.Unlock()

	name := containerName(conversationID)
	timeout := 5
	if err := p.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		slog.Warn("Failed to stop sandbox", "conversationID", conversationID, "error", err)
	}
	if err := p.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// Stats returns a one-shot resource snapshot for the conversation's
// container, or nil if no live handle is tracked.
func (p *Pool) Stats(ctx context.Context, conversationID string) (*sandbox.Stats, error) {
	h := p.Get(ctx, conversationID)
	if h == nil {
		return nil, nil
	}
	resp, err := p.cli.ContainerStatsOneShot(ctx, h.(*containerHandle).id)
	if err != nil {
		return nil, fmt.Errorf("reading container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding container stats: %w", err)
	}

	st := &sandbox.Stats{
		MemoryUsageBytes: raw.MemoryStats.Usage,
		MemoryLimitBytes: raw.MemoryStats.Limit,
	}
	sysDelta := float64(raw.CPUStats.SystemUsage - raw.PreCPUStats.SystemUsage)
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage - raw.PreCPUStats.CPUUsage.TotalUsage)
	if sysDelta > 0 && cpuDelta > 0 {
		st.CPUPercent = cpuDelta / sysDelta * float64(raw.CPUStats.OnlineCPUs) * 100.0
	}
	return st, nil
}

// --- internal helpers ---

const (
	labelManager      = "manager"
	labelManagerValue = "opencodex"
	labelConversation = "conversation-id"
)

func (p *Pool) removeOrphan(ctx context.Context, conversationID string) {
	name := containerName(conversationID)
	c, err := p.cli.ContainerInspect(ctx, name)
	if err != nil {
		if !client.IsErrNotFound(err) {
			slog.Warn("Failed to check for orphaned sandbox", "conversationID", conversationID, "error", err)
		}
		return
	}
	slog.Info("Removing orphaned sandbox", "conversationID", conversationID, "containerID", c.ID[:12])
	timeout := 2
	if err := p.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("Failed to stop orphaned sandbox", "conversationID", conversationID, "error", err)
	}
	if err := p.cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove orphaned sandbox", "conversationID", conversationID, "error", err)
	}
}

func (p *Pool) removeByName(ctx context.Context, name string) {
	if err := p.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		slog.Warn("Failed to remove dead container", "name", name, "error", err)
	}
}

func (p *Pool) ensureVolume(ctx context.Context, name string) error {
	// VolumeCreate is idempotent for an existing name.
	_, err := p.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name})
	return err
}

// ensureImage resolves an environment type to an image, building it
// from its Dockerfile definition when absent locally.
func (p *Pool) ensureImage(ctx context.Context, environmentType string) (string, error) {
	image, ok := envImages[environmentType]
	if !ok {
		return "", fmt.Errorf("unknown environment type: %s", environmentType)
	}

	_, _, err := p.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return image, nil
	}
	if !client.IsErrNotFound(err) {
		return "", fmt.Errorf("inspecting image %s: %w", image, err)
	}

	slog.Info("Sandbox image not found, building", "image", image, "environment", environmentType)
	dockerfile := environmentType + ".Dockerfile"
	buildCtx, err := tarDirectory(p.cfg.EnvironmentsDir)
	if err != nil {
		return "", fmt.Errorf("image %s not found and no build definition: %w", image, err)
	}

	resp, err := p.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{image},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return "", fmt.Errorf("building image %s: %w", image, err)
	}
	defer resp.Body.Close()
	// Drain the build output; the engine reports failures in-stream.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", fmt.Errorf("reading build output for %s: %w", image, err)
	}

	if _, _, err := p.cli.ImageInspectWithRaw(ctx, image); err != nil {
		return "", fmt.Errorf("image %s still missing after build", image)
	}
	return image, nil
}

// installPackages runs a best-effort install step after creation.
// Failure is non-fatal to handle creation and returned as warnings.
func (p *Pool) installPackages(ctx context.Context, h *containerHandle, environmentType string, packages []string) []string {
	if len(packages) == 0 {
		return nil
	}

	var cmd string
	switch {
	case strings.HasPrefix(environmentType, "python"):
		cmd = "pip install " + strings.Join(packages, " ")
	case strings.HasPrefix(environmentType, "node"):
		cmd = "npm install -g " + strings.Join(packages, " ")
	default:
		return []string{fmt.Sprintf("package install not supported for environment %s", environmentType)}
	}

	res, err := h.Run(ctx, cmd, sandbox.WritablePrefix, 120*time.Second)
	if err != nil {
		slog.Warn("Package install failed", "error", err)
		return []string{fmt.Sprintf("package install failed: %v", err)}
	}
	if res.ExitCode != 0 {
		slog.Warn("Package install exited non-zero", "exitCode", res.ExitCode)
		return []string{fmt.Sprintf("package install exited with code %d: %s", res.ExitCode, res.Stderr)}
	}
	return nil
}

// tarDirectory packs a directory into an in-memory tar stream for use
// as a docker build context.
func tarDirectory(dir string) (io.Reader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
