package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/blob"
	"github.com/carelink/agent-portal/internal/export"
	"github.com/carelink/agent-portal/internal/mailer"
	"github.com/carelink/agent-portal/internal/notifications"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/templates"
	"github.com/google/uuid"
)

const (
	// finishTimeout bounds the terminal write after the generation context is done.
	finishTimeout = 10 * time.Second
	// maxAttachmentBytes caps files attached to recipient emails.
	maxAttachmentBytes = 10 << 20
)

// Trigger starts the generation worker for a PENDING report. The worker claims
// the report with a PENDING to GENERATING compare-and-set, so concurrent
// triggers for the same report generate it once.
func (s *Service) Trigger(id uuid.UUID) {
	s.mu.Lock()
	if _, busy := s.running[id]; busy {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	s.running[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.forget(id)
		defer cancel(nil)

		ctx, stop := context.WithTimeoutCause(ctx, s.opts.GenerationTimeout, apperr.ErrGenerationTimeout)
		defer stop()
		s.generate(ctx, id)
	}()
}

// Wait blocks until every running worker has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running workers and waits for them, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdown()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) forget(id uuid.UUID) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func (s *Service) stopWorker(id uuid.UUID, cause error) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel(cause)
	}
}

func (s *Service) generate(ctx context.Context, id uuid.UUID) {
	log := s.logger.With().Str("report_id", id.String()).Logger()
	started := s.now()

	report, err := s.store.TransitionReport(ctx, id, storage.ReportPending, storage.ReportGenerating, storage.ReportPatch{})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidTransition {
			log.Debug().Err(err).Msg("report already claimed")
			return
		}
		log.Error().Err(err).Msg("claim report")
		return
	}
	s.metrics.GenerationStarted()
	log.Info().Str("type", string(report.Type)).Msg("report generation started")

	patch, out, err := s.produce(ctx, report)
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err != nil {
		s.fail(finishCtx, report, err, context.Cause(ctx), started)
		return
	}

	done, err := s.store.TransitionReport(finishCtx, id, storage.ReportGenerating, storage.ReportCompleted, *patch)
	if err != nil {
		// A cancel may have failed the report while the file was being written.
		log.Warn().Err(err).Msg("complete report")
		s.metrics.GenerationFinished(string(report.Type), "stale", s.now().Sub(started))
		return
	}
	s.metrics.GenerationFinished(string(report.Type), string(storage.ReportCompleted), s.now().Sub(started))
	log.Info().
		Int64("size_bytes", done.FileSize).
		Int("records", done.RecordCount).
		Dur("duration", s.now().Sub(started)).
		Msg("report generation completed")

	s.afterRun(finishCtx, done, out)
}

func (s *Service) fail(ctx context.Context, report *storage.Report, err, cause error, started time.Time) {
	log := s.logger.With().Str("report_id", report.ID.String()).Logger()

	kind := apperr.KindOf(err)
	msg := err.Error()
	switch {
	case errors.Is(cause, apperr.ErrCancelledByUser):
		// Cancel already recorded the failure.
		s.metrics.GenerationFinished(string(report.Type), string(apperr.KindCancelledByUser), s.now().Sub(started))
		log.Info().Msg("report generation cancelled")
		return
	case errors.Is(cause, apperr.ErrGenerationTimeout) || errors.Is(err, context.DeadlineExceeded):
		kind = apperr.KindGenerationTimeout
		msg = fmt.Sprintf("generation exceeded %s", s.opts.GenerationTimeout)
	case errors.Is(err, context.Canceled):
		msg = "generation interrupted by shutdown"
	}

	failed, terr := s.store.TransitionReport(ctx, report.ID, storage.ReportGenerating, storage.ReportFailed, storage.ReportPatch{
		ErrorKind:    string(kind),
		ErrorMessage: &msg,
	})
	s.metrics.GenerationFinished(string(report.Type), string(storage.ReportFailed), s.now().Sub(started))
	if terr != nil {
		log.Warn().Err(terr).Msg("record report failure")
		return
	}
	log.Warn().Err(err).Str("error_kind", string(kind)).Msg("report generation failed")
	s.afterRun(ctx, failed, nil)
}

// produce aggregates, renders and stores the report file.
func (s *Service) produce(ctx context.Context, report *storage.Report) (*storage.ReportPatch, *export.Output, error) {
	params, err := aggregation.DecodeParameters(report.Type, report.Parameters, 0)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.builder.Run(ctx, params)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregate: %w", err)
	}

	opts := export.Options{
		IncludeHeaders: true,
		BaseName:       report.Title,
		Title:          report.Title,
		Subtitle:       fmt.Sprintf("%s to %s", result.Period.From, result.Period.To),
		Summary:        result.Summary,
	}
	if len(result.Charts) > 0 {
		opts.Charts = result.Charts
	}
	if report.TemplateID != nil && s.templates != nil {
		tpl, err := s.templates.Load(ctx, *report.TemplateID)
		if err != nil {
			s.logger.Warn().Err(err).Str("report_id", report.ID.String()).Msg("template unavailable, using default layout")
		} else {
			rendered := templates.Render(tpl, result)
			opts.Sections = rendered.DocumentSections()
			opts.Layout = rendered.DocumentLayout()
			opts.Columns = rendered.TableColumns()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	out, err := s.serializer.Serialize(result.Data, params.Base().Format, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize: %w", err)
	}

	patch := &storage.ReportPatch{
		FileName:    out.FileName,
		ContentType: out.ContentType,
		FileSize:    out.SizeBytes,
		RecordCount: result.RecordCount,
	}
	if s.blobStore != nil {
		key := blob.ReportKey(report.ID, out.FileName)
		if _, err := s.blobStore.PutObject(ctx, key, out.Data, out.ContentType); err != nil {
			return nil, nil, fmt.Errorf("upload report: %w", err)
		}
		patch.FilePath = &key
	} else {
		patch.Data = out.Data
	}
	return patch, out, nil
}

// afterRun records the schedule outcome and notifies the owner and the
// schedule's recipients. Every step is best effort.
func (s *Service) afterRun(ctx context.Context, report *storage.Report, out *export.Output) {
	succeeded := report.Status == storage.ReportCompleted
	var recipients []storage.Recipient

	if s.schedules != nil {
		sch, err := s.schedules.GetScheduleByReport(ctx, report.ID)
		switch {
		case err == nil:
			recipients = sch.Recipients
			if err := s.schedules.RecordRunOutcome(ctx, sch.ID, succeeded, s.now().UTC()); err != nil {
				s.logger.Warn().Err(err).Str("schedule_id", sch.ID.String()).Msg("record run outcome")
			}
		case apperr.KindOf(err) != apperr.KindNotFound:
			s.logger.Warn().Err(err).Str("report_id", report.ID.String()).Msg("load schedule")
		}
	}

	if s.notifier == nil {
		return
	}
	notice := notifications.Notice{
		Type:  notifications.TypeReportCompleted,
		Title: "Report ready: " + report.Title,
		Data:  map[string]string{"reportId": report.ID.String(), "status": string(report.Status)},
	}
	if succeeded {
		notice.Message = fmt.Sprintf("%s (%d records) is ready to download.", report.FileName, report.RecordCount)
	} else {
		notice.Type = notifications.TypeReportFailed
		notice.Title = "Report failed: " + report.Title
		if report.ErrorMessage != nil {
			notice.Message = *report.ErrorMessage
		}
	}

	ownerListed := false
	for _, r := range recipients {
		if r.UserID == report.GeneratedBy && r.DeliveryMethod != notifications.DeliveryEmail {
			ownerListed = true
		}
	}
	if !ownerListed {
		if err := s.notifier.Notify(ctx, report.GeneratedBy, notice); err != nil {
			s.logger.Warn().Err(err).Str("report_id", report.ID.String()).Msg("notify owner")
		}
	}

	var att *mailer.Attachment
	if out != nil && len(out.Data) <= maxAttachmentBytes {
		att = &mailer.Attachment{FileName: out.FileName, ContentType: out.ContentType, Data: out.Data}
	}
	s.notifier.Deliver(ctx, recipients, notice, att)
}
