package usecase

import (
	"bytes"
	"context"
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

// ExtractFramesUseCase is the first pipeline stage: it turns one uploaded
// video into a set of frame blobs and signals completion. One invocation may
// carry a batch of upload events; each event succeeds or fails on its own.
type ExtractFramesUseCase struct {
	repo        port.RunRepository
	store       port.BlobStore
	decoder     port.FrameDecoder
	completions port.CompletionPublisher
	retrier     *Retrier
	logger      *zap.Logger
	cfg         ExtractFramesConfig
}

type ExtractFramesConfig struct {
	TempDir      string
	SamplingRate float64
	FrameFormat  string
	OutputPrefix string
	EventBudget  time.Duration
}

func NewExtractFramesUseCase(
	repo port.RunRepository,
	store port.BlobStore,
	decoder port.FrameDecoder,
	completions port.CompletionPublisher,
	retrier *Retrier,
	logger *zap.Logger,
	cfg ExtractFramesConfig,
) *ExtractFramesUseCase {
	return &ExtractFramesUseCase{
		repo:        repo,
		store:       store,
		decoder:     decoder,
		completions: completions,
		retrier:     retrier,
		logger:      logger,
		cfg:         cfg,
	}
}

// Execute handles one delivery from the extraction queue. The body is either
// a bucket-notification document (first delivery, possibly multiple records)
// or a RetryEnvelope (redrive of a single failed event). A non-nil return
// means the delivery itself could not be dispatched and the broker should
// redeliver it; per-event failures are fully handled here.
func (uc *ExtractFramesUseCase) Execute(ctx context.Context, body []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ExtractFramesUseCase.Execute")
	defer span.End()

	envelopes, err := uc.decodeDelivery(body)
	if err != nil {
		uc.logger.Error("undecodable delivery, dead-lettering", zap.Error(err), zap.ByteString("body", body))
		raw := entity.WrapRaw(entity.KindUploadEvent, body)
		_, dlqErr := uc.retrier.HandleFailure(ctx, raw, entity.StageExtraction, err)
		return dlqErr
	}

	// One event failing must not block its siblings: each envelope is
	// processed and reported independently, and only the failed subset is
	// redriven.
	var dispatchErr error
	for _, env := range envelopes {
		if err := uc.processEvent(ctx, env); err != nil {
			dispatchErr = err
		}
	}
	return dispatchErr
}

func (uc *ExtractFramesUseCase) decodeDelivery(body []byte) ([]*entity.RetryEnvelope, error) {
	if entity.IsEnvelope(body) {
		env, err := entity.DecodeEnvelope(body)
		if err != nil {
			return nil, err
		}
		if env.Kind != entity.KindUploadEvent {
			return nil, entity.Permanentf("decode delivery", "unexpected payload kind %q on extraction queue", env.Kind)
		}
		return []*entity.RetryEnvelope{env}, nil
	}

	events, err := entity.DecodeUploadEvents(body)
	if err != nil {
		return nil, err
	}
	envelopes := make([]*entity.RetryEnvelope, 0, len(events))
	for _, ev := range events {
		env, err := entity.WrapUploadEvent(ev)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// processEvent drives one upload event to one of its per-attempt outcomes:
// success notification, retry scheduled, or dead-lettered with a failure
// notification. The returned error only reports scheduling infrastructure
// failures.
func (uc *ExtractFramesUseCase) processEvent(parent context.Context, env *entity.RetryEnvelope) error {
	tracer := otel.Tracer("usecase")

	ev, err := env.UploadEvent()
	if err != nil {
		_, schedErr := uc.retrier.HandleFailure(parent, env, entity.StageExtraction, entity.Permanent("decode event", err))
		return schedErr
	}

	ctx := parent
	var cancel context.CancelFunc
	if uc.cfg.EventBudget > 0 {
		ctx, cancel = context.WithTimeout(parent, uc.cfg.EventBudget)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "extract_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.object_key", ev.ObjectKey),
		attribute.Int("event.attempt", env.Attempt),
	)

	log := uc.logger.With(
		zap.String("object_key", ev.ObjectKey),
		zap.String("bucket", ev.Bucket),
		zap.Int("attempt", env.Attempt),
	)

	metrics.ActiveWorkers.WithLabelValues(string(entity.StageExtraction)).Inc()
	defer metrics.ActiveWorkers.WithLabelValues(string(entity.StageExtraction)).Dec()
	totalTimer := time.Now()

	if err := entity.ValidateVideoKey(ev.ObjectKey); err != nil {
		log.Warn("unsupported upload", zap.Error(err))
		return uc.failEvent(parent, env, ev, err, log)
	}

	run, err := uc.repo.FindBySource(ctx, ev.ObjectKey, entity.StageExtraction)
	if err != nil {
		run = entity.NewPipelineRun(ev.ObjectKey, entity.StageExtraction, uc.retrier.MaxAttempts())
	}
	if run.Completed() {
		// Duplicate delivery after success: the frame blobs already exist
		// under their deterministic keys, so re-emitting the notification is
		// the only work left.
		log.Info("extraction already completed, re-emitting notification")
		return uc.publishSuccess(parent, uc.rebuildFrameSet(ev.ObjectKey, run.FrameCount), log)
	}

	run.MarkProcessing(env.Attempt)
	if err := uc.repo.Upsert(ctx, run); err != nil {
		log.Error("failed to persist run", zap.Error(err))
		return fmt.Errorf("upsert run: %w", err)
	}

	frameSet, err := uc.extract(ctx, ev, log)
	if err != nil {
		run.MarkFailed(err.Error())
		_ = uc.repo.Upsert(parent, run)
		return uc.failEvent(parent, env, ev, err, log)
	}

	run.MarkCompleted(frameSet.FrameCount, "")
	if err := uc.repo.Upsert(ctx, run); err != nil {
		log.Error("failed to persist completed run", zap.Error(err))
		return fmt.Errorf("upsert completed run: %w", err)
	}

	if err := uc.publishSuccess(parent, frameSet, log); err != nil {
		return err
	}

	metrics.EventsProcessedTotal.WithLabelValues(string(entity.StageExtraction), "completed").Inc()
	metrics.StageDuration.WithLabelValues(string(entity.StageExtraction), "total").Observe(time.Since(totalTimer).Seconds())
	log.Info("extraction completed",
		zap.Int("frame_count", frameSet.FrameCount),
		zap.Float64("sampling_rate", frameSet.SamplingRate),
	)
	return nil
}

// extract downloads the video, decodes it frame by frame and uploads each
// frame under its deterministic key. Partial uploads from a failed attempt
// are overwritten on retry.
func (uc *ExtractFramesUseCase) extract(ctx context.Context, ev entity.UploadEvent, log *zap.Logger) (*entity.FrameSet, error) {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, entity.VideoStem(ev.ObjectKey))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, entity.Transient("create workdir", err)
	}
	defer os.RemoveAll(workDir)

	dlStart := time.Now()
	dlCtx, dlSpan := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, filepath.Base(ev.ObjectKey))
	if err := uc.store.DownloadVideo(dlCtx, ev.Bucket, ev.ObjectKey, videoPath); err != nil {
		dlSpan.End()
		return nil, entity.Transient("download video", err)
	}
	dlSpan.End()
	metrics.StageDuration.WithLabelValues(string(entity.StageExtraction), "download").Observe(time.Since(dlStart).Seconds())

	decStart := time.Now()
	decCtx, decSpan := tracer.Start(ctx, "decode_frames")
	defer decSpan.End()

	source, err := uc.decoder.Decode(decCtx, videoPath, uc.cfg.SamplingRate)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	var frameKeys []string
	for {
		frame, ok, err := source.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		key := entity.FrameKey(uc.cfg.OutputPrefix, ev.ObjectKey, frame.Index, uc.cfg.FrameFormat)
		if err := uc.store.UploadFrame(decCtx, key, bytes.NewReader(frame.Data), int64(len(frame.Data))); err != nil {
			return nil, entity.Transient("upload frame", err)
		}
		frameKeys = append(frameKeys, key)

		if len(frameKeys)%10 == 0 {
			log.Debug("frame upload progress", zap.Int("uploaded", len(frameKeys)))
		}
	}
	metrics.StageDuration.WithLabelValues(string(entity.StageExtraction), "decode").Observe(time.Since(decStart).Seconds())

	if len(frameKeys) == 0 {
		return nil, entity.Permanentf("decode frames", "no frames decoded from %q", ev.ObjectKey)
	}

	metrics.FramesExtractedTotal.Add(float64(len(frameKeys)))
	return entity.NewFrameSet(ev.ObjectKey, frameKeys, uc.cfg.SamplingRate), nil
}

func (uc *ExtractFramesUseCase) publishSuccess(ctx context.Context, fs *entity.FrameSet, log *zap.Logger) error {
	n := entity.CompletionNotification{
		Status:    entity.StatusSuccess,
		SourceKey: fs.SourceKey,
		FrameSet:  fs,
	}
	if err := uc.completions.PublishCompletion(ctx, n); err != nil {
		log.Error("failed to publish completion", zap.Error(err))
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

// failEvent routes a failed attempt through the retry discipline. A failure
// completion is emitted only when the attempt is terminal (dead-lettered);
// a retry-scheduled attempt has no terminal outcome yet.
func (uc *ExtractFramesUseCase) failEvent(ctx context.Context, env *entity.RetryEnvelope, ev entity.UploadEvent, cause error, log *zap.Logger) error {
	action, err := uc.retrier.HandleFailure(ctx, env, entity.StageExtraction, cause)
	if err != nil {
		return err
	}
	if action != ActionDeadLetter {
		return nil
	}

	run, findErr := uc.repo.FindBySource(ctx, ev.ObjectKey, entity.StageExtraction)
	if findErr != nil {
		run = entity.NewPipelineRun(ev.ObjectKey, entity.StageExtraction, uc.retrier.MaxAttempts())
	}
	run.MarkDeadLettered(cause.Error())
	_ = uc.repo.Upsert(ctx, run)

	metrics.EventsProcessedTotal.WithLabelValues(string(entity.StageExtraction), "dead_lettered").Inc()

	n := entity.CompletionNotification{
		Status:      entity.StatusFailure,
		SourceKey:   ev.ObjectKey,
		ErrorDetail: cause.Error(),
	}
	if pubErr := uc.completions.PublishCompletion(ctx, n); pubErr != nil {
		log.Error("failed to publish failure completion", zap.Error(pubErr))
		return fmt.Errorf("publish failure completion: %w", pubErr)
	}
	return nil
}

// rebuildFrameSet reconstructs the frame set of a completed run from its
// frame count. Keys are deterministic, so the count alone recovers them.
func (uc *ExtractFramesUseCase) rebuildFrameSet(sourceKey string, frameCount int) *entity.FrameSet {
	keys := make([]string, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		keys = append(keys, entity.FrameKey(uc.cfg.OutputPrefix, sourceKey, i, uc.cfg.FrameFormat))
	}
	return entity.NewFrameSet(sourceKey, keys, uc.cfg.SamplingRate)
}
