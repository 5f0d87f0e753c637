package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/raydet/internal/nms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_PreservesOrder(t *testing.T) {
	paths := []string{"a.png", "b.png", "c.png", "d.png"}

	res := Process(context.Background(), paths, 3, func(path string) ([]nms.Detection, error) {
		return []nms.Detection{{Score: 0.9}}, nil
	})

	require.Len(t, res.Items, 4)
	for i, item := range res.Items {
		assert.Equal(t, paths[i], item.Path)
		assert.NoError(t, item.Err)
		assert.Len(t, item.Detections, 1)
	}
	assert.Equal(t, 3, res.WorkerCount)
	assert.Zero(t, res.Failed())
}

func TestProcess_PartialFailure(t *testing.T) {
	paths := []string{"good.png", "bad.png", "good2.png"}

	res := Process(context.Background(), paths, 2, func(path string) ([]nms.Detection, error) {
		if path == "bad.png" {
			return nil, errors.New("decode failed")
		}
		return nil, nil
	})

	assert.Equal(t, 1, res.Failed())
	assert.Error(t, res.Items[1].Err)
	assert.NoError(t, res.Items[0].Err)
	assert.NoError(t, res.Items[2].Err)
}

func TestProcess_WorkerCapAndConcurrency(t *testing.T) {
	var calls atomic.Int32
	paths := []string{"a.png", "b.png"}

	res := Process(context.Background(), paths, 16, func(string) ([]nms.Detection, error) {
		calls.Add(1)
		return nil, nil
	})

	assert.Equal(t, 2, res.WorkerCount)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProcess_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	paths := []string{"a.png", "b.png", "c.png"}
	res := Process(ctx, paths, 1, func(string) ([]nms.Detection, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})

	// Every unscheduled item carries the context error.
	assert.Positive(t, res.Failed())
	for _, item := range res.Items {
		if item.Err != nil {
			assert.ErrorIs(t, item.Err, context.Canceled)
		}
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o750))

	for _, name := range []string{"a.png", "b.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.png"), []byte("x"), 0o600))

	files, err := Discover([]string{dir}, false, nil, nil)
	require.NoError(t, err)
	assert.Len(t, files, 2) // txt skipped, nested dir skipped

	files, err = Discover([]string{dir}, true, nil, nil)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = Discover([]string{dir}, true, []string{"*.png"}, nil)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = Discover([]string{dir}, true, nil, []string{"a.*"})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDiscover_MissingPath(t *testing.T) {
	_, err := Discover([]string{"/does/not/exist"}, false, nil, nil)
	require.Error(t, err)
}

func TestDiscover_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.jpeg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	files, err := Discover([]string{path}, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}
