package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/framelift/framelift/internal/domain/port"
)

// In-memory test doubles for the ports. They mirror the contracts the real
// adapters implement: deterministic-key blob writes, upsert-by-source run
// ledger, capture-only publishers.

type memRepo struct {
	mu   sync.Mutex
	runs map[string]*entity.PipelineRun
}

func newMemRepo() *memRepo {
	return &memRepo{runs: make(map[string]*entity.PipelineRun)}
}

func runKey(sourceKey string, stage entity.Stage) string {
	return sourceKey + "|" + string(stage)
}

func (r *memRepo) Upsert(_ context.Context, run *entity.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[runKey(run.SourceKey, run.Stage)] = &cp
	return nil
}

func (r *memRepo) FindBySource(_ context.Context, sourceKey string, stage entity.Stage) (*entity.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runKey(sourceKey, stage)]
	if !ok {
		return nil, errors.New("run not found")
	}
	cp := *run
	return &cp, nil
}

type memStore struct {
	mu             sync.Mutex
	videos         map[string][]byte // bucket/key
	frames         map[string][]byte
	archives       map[string][]byte
	frameDownloads int
	downloadErr    error
}

func newMemStore() *memStore {
	return &memStore{
		videos:   make(map[string][]byte),
		frames:   make(map[string][]byte),
		archives: make(map[string][]byte),
	}
}

func (s *memStore) putVideo(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[bucket+"/"+key] = data
}

func (s *memStore) DownloadVideo(_ context.Context, bucket, objectKey, destPath string) error {
	s.mu.Lock()
	data, ok := s.videos[bucket+"/"+objectKey]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("video %s/%s not found", bucket, objectKey)
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (s *memStore) UploadFrame(_ context.Context, objectKey string, reader io.Reader, _ int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[objectKey] = data
	return nil
}

func (s *memStore) DownloadFrame(_ context.Context, objectKey, destPath string) error {
	s.mu.Lock()
	s.frameDownloads++
	err := s.downloadErr
	data, ok := s.frames[objectKey]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("frame %s not found", objectKey)
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (s *memStore) UploadArchive(_ context.Context, objectKey string, reader io.Reader, _ int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[objectKey] = data
	return nil
}

// fakeDecoder serves canned frames. The first failures calls fail
// transiently; any video whose path contains failSubstring fails every time.
type fakeDecoder struct {
	frames        [][]byte
	failures      int
	failSubstring string
	calls         int
}

func (d *fakeDecoder) Decode(_ context.Context, videoPath string, _ float64) (port.FrameSource, error) {
	d.calls++
	if d.failSubstring != "" && strings.Contains(videoPath, d.failSubstring) {
		return nil, entity.Transientf("decode", "injected corrupt stream in %s", videoPath)
	}
	if d.failures > 0 {
		d.failures--
		return nil, entity.Transientf("decode", "injected decode failure")
	}
	return &sliceFrameSource{frames: d.frames}, nil
}

type sliceFrameSource struct {
	frames [][]byte
	next   int
}

func (s *sliceFrameSource) Next() (port.Frame, bool, error) {
	if s.next >= len(s.frames) {
		return port.Frame{}, false, nil
	}
	frame := port.Frame{Index: s.next, Data: s.frames[s.next]}
	s.next++
	return frame, true, nil
}

func (s *sliceFrameSource) Close() error { return nil }

type captureCompletions struct {
	mu    sync.Mutex
	notes []entity.CompletionNotification
}

func (p *captureCompletions) PublishCompletion(_ context.Context, n entity.CompletionNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, n)
	return nil
}

type captureArchives struct {
	mu    sync.Mutex
	notes []entity.ArchiveNotification
}

func (p *captureArchives) PublishArchive(_ context.Context, n entity.ArchiveNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, n)
	return nil
}

type captureRetries struct {
	mu        sync.Mutex
	scheduled []*entity.RetryEnvelope
}

func (p *captureRetries) ScheduleRetry(_ context.Context, env *entity.RetryEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scheduled = append(p.scheduled, env)
	return nil
}

type captureDeadLetters struct {
	mu      sync.Mutex
	parked  []*entity.RetryEnvelope
	reasons []string
}

func (p *captureDeadLetters) PublishDeadLetter(_ context.Context, env *entity.RetryEnvelope, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parked = append(p.parked, env)
	p.reasons = append(p.reasons, reason)
	return nil
}
