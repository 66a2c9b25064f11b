//go:build integration

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/fetchpush/internal/testutils"
	"github.com/ligustah/fetchpush/pkg/ledger"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "fetchpush-test")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	dir := t.TempDir()
	files := map[string][]byte{}
	for i, size := range []int{100, 64 * 1024, 1024 * 1024} {
		name := fmt.Sprintf("file-%d.bin", i)
		files[name] = testutils.GenerateTestData(size)
		if err := os.WriteFile(filepath.Join(dir, name), files[name], 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	writeManifest := func(method, localDir string) string {
		var entries []string
		for name := range files {
			entries = append(entries, fmt.Sprintf("%q: %q", minio.ObjectURL("data/"+name), filepath.Join(localDir, name)))
		}
		doc := fmt.Sprintf(`{"HTTPAsyncData": {%q: {%s}}}`, method, join(entries))
		path := filepath.Join(t.TempDir(), method+".json")
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
		return path
	}

	common := []string{"-ledger", minio.BucketURL, "-limit", "4", "-cooldown", "100ms"}

	t.Run("upload", func(t *testing.T) {
		args := append([]string{"-check"}, common...)
		args = append(args, writeManifest("PUT", dir))
		if code := runTransfer(args); code != ExitSuccess {
			t.Fatalf("upload failed with exit code %d", code)
		}
	})

	t.Run("check", func(t *testing.T) {
		args := append([]string{}, common...)
		args = append(args, writeManifest("PUT", dir))
		if code := runCheck(args); code != ExitSuccess {
			t.Fatalf("check failed with exit code %d", code)
		}
	})

	t.Run("resume_skips_completed", func(t *testing.T) {
		args := append([]string{"-resume"}, common...)
		args = append(args, writeManifest("PUT", dir))
		if code := runTransfer(args); code != ExitSuccess {
			t.Fatalf("resume failed with exit code %d", code)
		}
	})

	t.Run("download", func(t *testing.T) {
		out := t.TempDir()
		args := append([]string{}, common...)
		args = append(args, writeManifest("GET", filepath.Join(out, "nested")))
		if code := runTransfer(args); code != ExitSuccess {
			t.Fatalf("download failed with exit code %d", code)
		}

		for name, want := range files {
			got, err := os.ReadFile(filepath.Join(out, "nested", name))
			if err != nil {
				t.Fatalf("read %s: %v", name, err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("%s: content mismatch", name)
			}
		}
	})

	t.Run("ledger", func(t *testing.T) {
		bucket, err := minio.OpenBucket(ctx)
		if err != nil {
			t.Fatalf("open bucket: %v", err)
		}
		defer bucket.Close()

		led, err := ledger.Load(ctx, bucket, ledger.DefaultKey, nil)
		if err != nil {
			t.Fatalf("load ledger: %v", err)
		}
		if n := len(led.Runs()); n != 3 {
			t.Errorf("expected 3 recorded runs, got %d", n)
		}
		for url, rec := range led.Latest() {
			if !rec.Completed() {
				t.Errorf("%s not completed in latest run", url)
			}
		}
	})

	t.Run("history", func(t *testing.T) {
		if code := runHistory([]string{"-ledger", minio.BucketURL, "-run", "latest"}); code != ExitSuccess {
			t.Fatalf("history failed with exit code %d", code)
		}
	})
}

func join(entries []string) string {
	var buf bytes.Buffer
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(e)
	}
	return buf.String()
}
