package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/framelift/framelift/internal/infra/ziparchive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type compressHarness struct {
	uc      *CompressArchiveUseCase
	repo    *memRepo
	store   *memStore
	finals  *captureArchives
	retries *captureRetries
	dlq     *captureDeadLetters
}

func newCompressHarness(t *testing.T, maxAttempts int) *compressHarness {
	t.Helper()
	h := &compressHarness{
		repo:    newMemRepo(),
		store:   newMemStore(),
		finals:  &captureArchives{},
		retries: &captureRetries{},
		dlq:     &captureDeadLetters{},
	}
	retrier := NewRetrier(h.retries, h.dlq, nil, maxAttempts, zap.NewNop())
	h.uc = NewCompressArchiveUseCase(h.repo, h.store, ziparchive.NewArchiver(), h.finals, retrier, zap.NewNop(),
		CompressArchiveConfig{TempDir: t.TempDir()},
	)
	return h
}

func successNotification(t *testing.T, sourceKey string, frameKeys []string) []byte {
	t.Helper()
	fs := entity.NewFrameSet(sourceKey, frameKeys, 1.0)
	body, err := json.Marshal(entity.CompletionNotification{
		Status:    entity.StatusSuccess,
		SourceKey: sourceKey,
		FrameSet:  fs,
	})
	require.NoError(t, err)
	return body
}

func TestCompressSuccess(t *testing.T) {
	h := newCompressHarness(t, 3)
	frameKeys := []string{
		"frames/holiday/frame_000000.jpg",
		"frames/holiday/frame_000001.jpg",
		"frames/holiday/frame_000002.jpg",
	}
	for i, key := range frameKeys {
		h.store.frames[key] = []byte{byte('a' + i)}
	}

	err := h.uc.Execute(context.Background(), successNotification(t, "videos/holiday.mp4", frameKeys))
	require.NoError(t, err)

	archiveData, ok := h.store.archives["archives/holiday_frames.zip"]
	require.True(t, ok, "archive uploaded under its deterministic key")

	zr, err := zip.NewReader(bytes.NewReader(archiveData), int64(len(archiveData)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	for i, f := range zr.File {
		assert.Equal(t, []string{"frame_000000.jpg", "frame_000001.jpg", "frame_000002.jpg"}[i], f.Name,
			"archive preserves frame order")
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		assert.Equal(t, []byte{byte('a' + i)}, data)
	}

	require.Len(t, h.finals.notes, 1)
	n := h.finals.notes[0]
	assert.Equal(t, entity.StatusSuccess, n.Status)
	require.NotNil(t, n.Archive)
	assert.Equal(t, "archives/holiday_frames.zip", n.Archive.ArchiveKey)
	assert.Equal(t, 3, n.Archive.FrameCount)

	run, err := h.repo.FindBySource(context.Background(), "videos/holiday.mp4", entity.StageCompression)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, run.Status)
}

func TestCompressEmptyFrameSetIsPermanent(t *testing.T) {
	h := newCompressHarness(t, 5)

	err := h.uc.Execute(context.Background(), successNotification(t, "empty.mp4", nil))
	require.NoError(t, err)

	assert.Empty(t, h.retries.scheduled, "nothing to archive cannot improve on retry")
	require.Len(t, h.dlq.parked, 1)
	assert.Empty(t, h.store.archives, "no archive record created")

	require.Len(t, h.finals.notes, 1)
	assert.Equal(t, entity.StatusFailure, h.finals.notes[0].Status)
	assert.Contains(t, h.finals.notes[0].ErrorDetail, "empty")
}

func TestCompressInconsistentFrameSetIsPermanent(t *testing.T) {
	h := newCompressHarness(t, 5)

	// A notification declaring frames it does not carry must never yield a
	// success: no archive, no retry, one dead letter.
	body, err := json.Marshal(entity.CompletionNotification{
		Status:    entity.StatusSuccess,
		SourceKey: "clip.mp4",
		FrameSet:  &entity.FrameSet{SourceKey: "clip.mp4", FrameCount: 5},
	})
	require.NoError(t, err)

	require.NoError(t, h.uc.Execute(context.Background(), body))

	assert.Empty(t, h.retries.scheduled)
	require.Len(t, h.dlq.parked, 1)
	assert.Empty(t, h.store.archives, "no archive fabricated from an inconsistent frame set")

	require.Len(t, h.finals.notes, 1)
	assert.Equal(t, entity.StatusFailure, h.finals.notes[0].Status)
	assert.Contains(t, h.finals.notes[0].ErrorDetail, "declares 5 frames")
}

func TestCompressUpstreamFailureIsTerminal(t *testing.T) {
	h := newCompressHarness(t, 3)

	body, err := json.Marshal(entity.CompletionNotification{
		Status:      entity.StatusFailure,
		SourceKey:   "clip.mp4",
		ErrorDetail: "extraction dead-lettered",
	})
	require.NoError(t, err)

	require.NoError(t, h.uc.Execute(context.Background(), body))

	assert.Empty(t, h.retries.scheduled, "upstream failures are not pipeline work")
	assert.Empty(t, h.dlq.parked)
	assert.Empty(t, h.store.archives)

	require.Len(t, h.finals.notes, 1)
	assert.Equal(t, entity.StatusFailure, h.finals.notes[0].Status)
	assert.Equal(t, "extraction dead-lettered", h.finals.notes[0].ErrorDetail)
}

func TestCompressDownloadFailureRetries(t *testing.T) {
	h := newCompressHarness(t, 3)
	h.store.downloadErr = errors.New("store unavailable")

	frameKeys := []string{"frames/clip/frame_000000.jpg"}
	h.store.frames[frameKeys[0]] = []byte("f0")

	require.NoError(t, h.uc.Execute(context.Background(), successNotification(t, "clip.mp4", frameKeys)))

	require.Len(t, h.retries.scheduled, 1)
	assert.Equal(t, 2, h.retries.scheduled[0].Attempt)
	assert.Empty(t, h.dlq.parked)
	assert.Empty(t, h.finals.notes, "no terminal outcome while retries remain")

	// Store recovers; the redriven envelope completes the archive.
	h.store.downloadErr = nil
	body, err := json.Marshal(h.retries.scheduled[0])
	require.NoError(t, err)
	require.NoError(t, h.uc.Execute(context.Background(), body))

	require.Len(t, h.finals.notes, 1)
	assert.Equal(t, entity.StatusSuccess, h.finals.notes[0].Status)
	assert.Empty(t, h.dlq.parked)
}

func TestCompressIdempotentRedelivery(t *testing.T) {
	h := newCompressHarness(t, 3)

	run := entity.NewPipelineRun("clip.mp4", entity.StageCompression, 3)
	run.MarkCompleted(2, "archives/clip_frames.zip")
	require.NoError(t, h.repo.Upsert(context.Background(), run))

	frameKeys := []string{
		"frames/clip/frame_000000.jpg",
		"frames/clip/frame_000001.jpg",
	}
	require.NoError(t, h.uc.Execute(context.Background(), successNotification(t, "clip.mp4", frameKeys)))

	assert.Zero(t, h.store.frameDownloads, "completed archive is not rebuilt")
	assert.Empty(t, h.store.archives, "no re-upload")

	require.Len(t, h.finals.notes, 1)
	n := h.finals.notes[0]
	assert.Equal(t, entity.StatusSuccess, n.Status)
	assert.Equal(t, "archives/clip_frames.zip", n.Archive.ArchiveKey)
	assert.Equal(t, 2, n.Archive.FrameCount)
}

func TestCompressUndecodableBodyDeadLetters(t *testing.T) {
	h := newCompressHarness(t, 3)

	require.NoError(t, h.uc.Execute(context.Background(), []byte("{broken")))

	require.Len(t, h.dlq.parked, 1)
	assert.Empty(t, h.retries.scheduled)
}

func TestCompressBudgetExceededIsTransient(t *testing.T) {
	h := newCompressHarness(t, 3)
	h.uc.cfg.EventBudget = time.Nanosecond
	h.store.frames["frames/clip/frame_000000.jpg"] = []byte("f0")

	require.NoError(t, h.uc.Execute(context.Background(),
		successNotification(t, "clip.mp4", []string{"frames/clip/frame_000000.jpg"})))

	// An expired budget is a transient failure: the event is rescheduled,
	// never dead-lettered.
	require.Len(t, h.retries.scheduled, 1)
	assert.Equal(t, 2, h.retries.scheduled[0].Attempt)
	assert.Empty(t, h.dlq.parked)
	assert.Empty(t, h.finals.notes)
}
