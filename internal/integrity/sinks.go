package integrity

import (
	"context"
	"errors"
	"fmt"

	"claw-companion/backend/internal/models"
	"claw-companion/backend/pkg/logger"
)

// Sink receives findings that passed the cooldown gate
type Sink interface {
	Submit(ctx context.Context, f Finding) error
}

// LogSink writes findings to the structured log
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Submit(_ context.Context, f Finding) error {
	s.log.Warn("integrity finding",
		"layer", string(f.Layer),
		"check_type", string(f.CheckType),
		"fingerprint", f.Fingerprint(),
		"description", f.Description,
		"affected_ids", f.AffectedIDs,
	)
	return nil
}

// Reporter forwards a report to the remote log service
type Reporter interface {
	SubmitFinding(ctx context.Context, report models.IntegrityReport) error
}

// RemoteSink sends findings to the remote report endpoint
type RemoteSink struct {
	reporter Reporter
	meta     ReportMeta
}

func NewRemoteSink(reporter Reporter, meta ReportMeta) *RemoteSink {
	return &RemoteSink{reporter: reporter, meta: meta}
}

func (s *RemoteSink) Submit(ctx context.Context, f Finding) error {
	if err := s.reporter.SubmitFinding(ctx, f.Report(s.meta)); err != nil {
		return fmt.Errorf("remote sink: %w", err)
	}
	return nil
}

// StoreSink persists findings locally
type StoreSink struct {
	store *ReportStore
	meta  ReportMeta
}

func NewStoreSink(store *ReportStore, meta ReportMeta) *StoreSink {
	return &StoreSink{store: store, meta: meta}
}

func (s *StoreSink) Submit(ctx context.Context, f Finding) error {
	r := f.Report(s.meta)
	return s.store.Save(ctx, &r)
}

// MultiSink submits to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Submit(ctx context.Context, f Finding) error {
	var errs []error
	for _, s := range m {
		if err := s.Submit(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
