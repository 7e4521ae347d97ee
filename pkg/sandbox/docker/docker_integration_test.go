package docker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zysoong/open-codex-gui/pkg/sandbox"
)

const testConversationID = "integration-test-conv"

// newTestPool creates a pool against the local Docker engine, skipping
// the test when the engine is unreachable.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := New(PoolConfig{})
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		pool.Destroy(ctx, testConversationID)
		pool.Close()
	})
	return pool
}

func createTestSandbox(t *testing.T, pool *Pool) sandbox.Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()
	handle, warnings, err := pool.GetOrCreate(ctx, testConversationID, "integration-test-proj", "python3.13", sandbox.Options{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for _, w := range warnings {
		t.Logf("setup warning: %s", w)
	}
	return handle
}

func TestIntegrationRunCommand(t *testing.T) {
	pool := newTestPool(t)
	handle := createTestSandbox(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := handle.Run(ctx, "echo hello", sandbox.WritablePrefix, 10*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", res.Stdout)
	}
}

func TestIntegrationRunNonzeroExit(t *testing.T) {
	pool := newTestPool(t)
	handle := createTestSandbox(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := handle.Run(ctx, "exit 3", sandbox.WritablePrefix, 10*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestIntegrationFileRoundtrip(t *testing.T) {
	pool := newTestPool(t)
	handle := createTestSandbox(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	path := sandbox.WritablePrefix + "/roundtrip.txt"
	content := "line one\nline two\n"
	if err := handle.WriteFile(ctx, path, content); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := handle.ReadFile(ctx, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != content {
		t.Errorf("ReadFile = %q, want %q", got, content)
	}
}

func TestIntegrationBinaryReadReturnsDataURI(t *testing.T) {
	pool := newTestPool(t)
	handle := createTestSandbox(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// A 1x1 PNG generated in-container keeps the test self-contained.
	res, err := handle.Run(ctx,
		`python3 -c "import struct,zlib,sys
sig=b'\x89PNG\r\n\x1a\n'
def chunk(t,d):
  c=struct.pack('>I',len(d))+t+d
  return c+struct.pack('>I',zlib.crc32(t+d))
ihdr=chunk(b'IHDR',struct.pack('>IIBBBBB',1,1,8,2,0,0,0))
idat=chunk(b'IDAT',zlib.compress(b'\x00\x00\x00\x00'))
open('/workspace/out/dot.png','wb').write(sig+ihdr+idat+chunk(b'IEND',b''))"`,
		sandbox.WritablePrefix, 30*time.Second)
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("png generation failed: err=%v stderr=%q", err, res.Stderr)
	}

	got, err := handle.ReadFile(ctx, sandbox.WritablePrefix+"/dot.png")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Errorf("binary read = %.40q, want image data URI prefix", got)
	}
}

func TestIntegrationGetOrCreateIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	first := createTestSandbox(t, pool)
	second := createTestSandbox(t, pool)

	if first.ID() != second.ID() {
		t.Errorf("second GetOrCreate produced a new container: %s vs %s", first.ID(), second.ID())
	}
}

// The pool lock is released before the post-create package install, so
// other pool operations answer while an install is still in flight.
func TestIntegrationPoolUsableDuringPackageInstall(t *testing.T) {
	pool := newTestPool(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := pool.GetOrCreate(ctx, testConversationID, "integration-test-proj", "python3.13", sandbox.Options{
			Packages: []string{"flask"},
		})
		done <- err
	}()

	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			t.Fatal("Get never succeeded while the install was in flight")
		default:
		}
		if pool.Get(ctx, testConversationID) != nil {
			// Stats takes the lock too; it must answer mid-install.
			if _, err := pool.Stats(ctx, testConversationID); err != nil {
				t.Errorf("Stats during install: %v", err)
			}
			if err := <-done; err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIntegrationOrphanRecovery(t *testing.T) {
	pool := newTestPool(t)
	orphan := createTestSandbox(t, pool)

	// A fresh pool simulates a process restart: it tracks nothing but
	// must still adopt or replace the deterministically named container
	// instead of failing on the name collision.
	fresh, err := New(PoolConfig{})
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	defer fresh.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()
	handle, _, err := fresh.GetOrCreate(ctx, testConversationID, "integration-test-proj", "python3.13", sandbox.Options{})
	if err != nil {
		t.Fatalf("GetOrCreate after restart: %v", err)
	}
	if handle.ID() == orphan.ID() {
		t.Errorf("orphan container %s was reused instead of replaced", orphan.ID())
	}
	if !handle.Running(ctx) {
		t.Error("recovered sandbox not running")
	}

	if err := fresh.Destroy(ctx, testConversationID); err != nil {
		t.Errorf("Destroy: %v", err)
	}
}

func TestIntegrationResetClearsWorkspace(t *testing.T) {
	pool := newTestPool(t)
	handle := createTestSandbox(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := handle.WriteFile(ctx, sandbox.WritablePrefix+"/stale.txt", "x"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := pool.Reset(ctx, testConversationID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	res, err := handle.Run(ctx, "ls /workspace/out", sandbox.WritablePrefix, 10*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(res.Stdout, "stale.txt") {
		t.Errorf("workspace still holds stale file after reset: %q", res.Stdout)
	}
}

func TestIntegrationDestroyIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	createTestSandbox(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := pool.Destroy(ctx, testConversationID); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := pool.Destroy(ctx, testConversationID); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
	if h := pool.Get(ctx, testConversationID); h != nil {
		t.Error("Get returned a handle after Destroy")
	}
}
