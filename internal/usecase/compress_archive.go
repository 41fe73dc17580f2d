package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/framelift/framelift/internal/domain/port"
	"github.com/framelift/framelift/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CompressArchiveUseCase is the second pipeline stage: it bundles the frames
// referenced by a successful completion notification into one archive blob
// and emits the final pipeline signal.
type CompressArchiveUseCase struct {
	repo     port.RunRepository
	store    port.BlobStore
	archiver port.Archiver
	finals   port.ArchivePublisher
	retrier  *Retrier
	logger   *zap.Logger
	cfg      CompressArchiveConfig
}

type CompressArchiveConfig struct {
	TempDir      string
	OutputPrefix string
	EventBudget  time.Duration
}

func NewCompressArchiveUseCase(
	repo port.RunRepository,
	store port.BlobStore,
	archiver port.Archiver,
	finals port.ArchivePublisher,
	retrier *Retrier,
	logger *zap.Logger,
	cfg CompressArchiveConfig,
) *CompressArchiveUseCase {
	return &CompressArchiveUseCase{
		repo:     repo,
		store:    store,
		archiver: archiver,
		finals:   finals,
		retrier:  retrier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Execute handles one delivery from the compression queue: either a
// completion notification straight off the notification channel or a
// RetryEnvelope redriving one.
func (uc *CompressArchiveUseCase) Execute(ctx context.Context, body []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "CompressArchiveUseCase.Execute")
	defer span.End()

	env, err := uc.decodeDelivery(body)
	if err != nil {
		uc.logger.Error("undecodable delivery, dead-lettering", zap.Error(err), zap.ByteString("body", body))
		raw := entity.WrapRaw(entity.KindCompletion, body)
		_, dlqErr := uc.retrier.HandleFailure(ctx, raw, entity.StageCompression, err)
		return dlqErr
	}

	return uc.processNotification(ctx, env)
}

func (uc *CompressArchiveUseCase) decodeDelivery(body []byte) (*entity.RetryEnvelope, error) {
	if entity.IsEnvelope(body) {
		env, err := entity.DecodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		if env.Kind != entity.KindCompletion {
			return nil, entity.Permanentf("decode delivery", "unexpected payload kind %q on compression queue", env.Kind)
		}
		return env, nil
	}

	var n entity.CompletionNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, entity.Permanent("decode delivery", fmt.Errorf("unmarshal completion notification: %w", err))
	}
	if n.Status == "" || n.SourceKey == "" {
		return nil, entity.Permanentf("decode delivery", "completion notification missing status or source key")
	}
	return entity.WrapCompletion(n)
}

func (uc *CompressArchiveUseCase) processNotification(parent context.Context, env *entity.RetryEnvelope) error {
	tracer := otel.Tracer("usecase")

	n, err := env.Completion()
	if err != nil {
		_, schedErr := uc.retrier.HandleFailure(parent, env, entity.StageCompression, entity.Permanent("decode notification", err))
		return schedErr
	}

	log := uc.logger.With(
		zap.String("source_key", n.SourceKey),
		zap.Int("attempt", env.Attempt),
	)

	// An upstream failure is terminal here: the root cause lies in the
	// extraction stage, so there is no pipeline work to retry. Forward it to
	// observers and acknowledge.
	if n.Status == entity.StatusFailure {
		log.Info("forwarding upstream failure to observers", zap.String("error_detail", n.ErrorDetail))
		metrics.EventsProcessedTotal.WithLabelValues(string(entity.StageCompression), "upstream_failure").Inc()
		return uc.publishFinal(parent, entity.ArchiveNotification{
			Status:      entity.StatusFailure,
			SourceKey:   n.SourceKey,
			ErrorDetail: n.ErrorDetail,
		}, log)
	}

	ctx := parent
	var cancel context.CancelFunc
	if uc.cfg.EventBudget > 0 {
		ctx, cancel = context.WithTimeout(parent, uc.cfg.EventBudget)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "compress_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.source_key", n.SourceKey),
		attribute.Int("event.attempt", env.Attempt),
	)

	metrics.ActiveWorkers.WithLabelValues(string(entity.StageCompression)).Inc()
	defer metrics.ActiveWorkers.WithLabelValues(string(entity.StageCompression)).Dec()
	totalTimer := time.Now()

	if err := n.FrameSet.Validate(); err != nil {
		return uc.failNotification(parent, env, n, err, log)
	}
	if n.FrameSet.Empty() {
		return uc.failNotification(parent, env, n, entity.Permanentf("compress", "frame set for %q is empty, nothing to archive", n.SourceKey), log)
	}

	run, err := uc.repo.FindBySource(ctx, n.SourceKey, entity.StageCompression)
	if err != nil {
		run = entity.NewPipelineRun(n.SourceKey, entity.StageCompression, uc.retrier.MaxAttempts())
	}
	if run.Completed() {
		log.Info("archive already produced, re-emitting notification")
		return uc.publishFinal(parent, entity.ArchiveNotification{
			Status:    entity.StatusSuccess,
			SourceKey: n.SourceKey,
			Archive: &entity.ArchiveRecord{
				ArchiveKey: run.ArchiveKey,
				SourceKey:  n.SourceKey,
				FrameCount: run.FrameCount,
				ProducedAt: run.UpdatedAt,
			},
		}, log)
	}

	run.MarkProcessing(env.Attempt)
	if err := uc.repo.Upsert(ctx, run); err != nil {
		log.Error("failed to persist run", zap.Error(err))
		return fmt.Errorf("upsert run: %w", err)
	}

	record, err := uc.compress(ctx, n, log)
	if err != nil {
		run.MarkFailed(err.Error())
		_ = uc.repo.Upsert(parent, run)
		return uc.failNotification(parent, env, n, err, log)
	}

	run.MarkCompleted(record.FrameCount, record.ArchiveKey)
	if err := uc.repo.Upsert(ctx, run); err != nil {
		log.Error("failed to persist completed run", zap.Error(err))
		return fmt.Errorf("upsert completed run: %w", err)
	}

	if err := uc.publishFinal(parent, entity.ArchiveNotification{
		Status:    entity.StatusSuccess,
		SourceKey: n.SourceKey,
		Archive:   record,
	}, log); err != nil {
		return err
	}

	metrics.EventsProcessedTotal.WithLabelValues(string(entity.StageCompression), "completed").Inc()
	metrics.StageDuration.WithLabelValues(string(entity.StageCompression), "total").Observe(time.Since(totalTimer).Seconds())
	log.Info("archive completed",
		zap.String("archive_key", record.ArchiveKey),
		zap.Int("frame_count", record.FrameCount),
	)
	return nil
}

// compress downloads every referenced frame, bundles them preserving frame
// key order and uploads the archive under its deterministic key.
func (uc *CompressArchiveUseCase) compress(ctx context.Context, n entity.CompletionNotification, log *zap.Logger) (*entity.ArchiveRecord, error) {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, entity.VideoStem(n.SourceKey)+"_archive")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, entity.Transient("create workdir", err)
	}
	defer os.RemoveAll(workDir)

	dlStart := time.Now()
	dlCtx, dlSpan := tracer.Start(ctx, "download_frames")
	entries := make([]port.ArchiveEntry, 0, len(n.FrameSet.FrameKeys))
	for _, key := range n.FrameSet.FrameKeys {
		localPath := filepath.Join(workDir, filepath.Base(key))
		if err := uc.store.DownloadFrame(dlCtx, key, localPath); err != nil {
			dlSpan.End()
			return nil, entity.Transient("download frame", fmt.Errorf("frame %q: %w", key, err))
		}
		entries = append(entries, port.ArchiveEntry{Name: filepath.Base(key), Path: localPath})

		if len(entries)%10 == 0 {
			log.Debug("frame download progress", zap.Int("downloaded", len(entries)))
		}
	}
	dlSpan.End()
	metrics.StageDuration.WithLabelValues(string(entity.StageCompression), "download").Observe(time.Since(dlStart).Seconds())

	zipStart := time.Now()
	zipCtx, zipSpan := tracer.Start(ctx, "create_archive")
	archivePath := filepath.Join(workDir, "frames.zip")
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		zipSpan.End()
		return nil, entity.Transient("create archive file", err)
	}
	if err := uc.archiver.Compress(zipCtx, entries, archiveFile); err != nil {
		archiveFile.Close()
		zipSpan.End()
		return nil, err
	}
	if err := archiveFile.Close(); err != nil {
		zipSpan.End()
		return nil, entity.Transient("close archive file", err)
	}
	zipSpan.End()
	metrics.StageDuration.WithLabelValues(string(entity.StageCompression), "compress").Observe(time.Since(zipStart).Seconds())

	upStart := time.Now()
	upCtx, upSpan := tracer.Start(ctx, "upload_archive")
	archiveKey := entity.ArchiveKey(uc.cfg.OutputPrefix, n.SourceKey)
	f, err := os.Open(archivePath)
	if err != nil {
		upSpan.End()
		return nil, entity.Transient("open archive", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		upSpan.End()
		return nil, entity.Transient("stat archive", err)
	}
	if err := uc.store.UploadArchive(upCtx, archiveKey, f, stat.Size()); err != nil {
		f.Close()
		upSpan.End()
		return nil, entity.Transient("upload archive", err)
	}
	f.Close()
	upSpan.End()
	metrics.StageDuration.WithLabelValues(string(entity.StageCompression), "upload").Observe(time.Since(upStart).Seconds())
	metrics.ArchiveBytesTotal.Add(float64(stat.Size()))

	return &entity.ArchiveRecord{
		ArchiveKey: archiveKey,
		SourceKey:  n.SourceKey,
		FrameCount: len(entries),
		ProducedAt: time.Now().UTC(),
	}, nil
}

func (uc *CompressArchiveUseCase) publishFinal(ctx context.Context, n entity.ArchiveNotification, log *zap.Logger) error {
	if err := uc.finals.PublishArchive(ctx, n); err != nil {
		log.Error("failed to publish final notification", zap.Error(err))
		return fmt.Errorf("publish final notification: %w", err)
	}
	return nil
}

func (uc *CompressArchiveUseCase) failNotification(ctx context.Context, env *entity.RetryEnvelope, n entity.CompletionNotification, cause error, log *zap.Logger) error {
	action, err := uc.retrier.HandleFailure(ctx, env, entity.StageCompression, cause)
	if err != nil {
		return err
	}
	if action != ActionDeadLetter {
		return nil
	}

	run, findErr := uc.repo.FindBySource(ctx, n.SourceKey, entity.StageCompression)
	if findErr != nil {
		run = entity.NewPipelineRun(n.SourceKey, entity.StageCompression, uc.retrier.MaxAttempts())
	}
	run.MarkDeadLettered(cause.Error())
	_ = uc.repo.Upsert(ctx, run)

	metrics.EventsProcessedTotal.WithLabelValues(string(entity.StageCompression), "dead_lettered").Inc()

	return uc.publishFinal(ctx, entity.ArchiveNotification{
		Status:      entity.StatusFailure,
		SourceKey:   n.SourceKey,
		ErrorDetail: cause.Error(),
	}, log)
}
