// Package scheduler drives the polling engine: a tick loop over the
// active tuple catalog, a bounded worker pool with per-tuple mutexes, and
// the pipeline that chains discovery, download, extraction, history, and
// retention for one tuple.
package scheduler

import (
	"context"
	"time"

	"wincore.dev/engine/common"
	"wincore.dev/engine/download"
	"wincore.dev/engine/errs"
	"wincore.dev/engine/model"
)

// Discoverer finds the latest build coordinate for a tuple.
type Discoverer interface {
	LatestFor(ctx context.Context, comp model.Component, branch model.Branch, hint model.BuildCoordinate, maxLookbackDays int) (model.BuildCoordinate, bool, error)
	BuildURL(comp model.Component, branch model.Branch, coord model.BuildCoordinate) (string, error)
}

// Downloader streams an artifact to disk.
type Downloader interface {
	Download(ctx context.Context, layout download.Layout, coord model.BuildCoordinate, artifactURL, checksumHeader string) (download.Result, error)
}

// Extractor unpacks a staged archive.
type Extractor interface {
	Extract(ctx context.Context, zipPath, destRoot string) error
}

// TrackingStore is the subset of tracking.Store the pipeline writes to.
type TrackingStore interface {
	Tracking(ctx context.Context, componentID, branchID int64) (model.BuildTracking, bool, error)
	UpsertTracking(ctx context.Context, t model.BuildTracking) error
	AppendHistory(ctx context.Context, h model.BuildHistoryEntry) error
}

// Pruner trims a tuple's retained build history and reports how many
// entries it removed.
type Pruner interface {
	Prune(ctx context.Context, tuple model.Tuple, keep int) (int, error)
}

// ActivityRecorder appends one structured entry to the activity log.
type ActivityRecorder interface {
	Record(ctx context.Context, entry model.ActivityLogEntry) error
}

// Pipeline runs the full probe-download-extract-retain sequence for one
// tuple at a time; Scheduler serializes calls per tuple via lockTable.
type Pipeline struct {
	discoverer Discoverer
	downloader Downloader
	extractor  Extractor
	tracking   TrackingStore
	retention  Pruner
	activity   ActivityRecorder
	baseDrive  string
}

// PipelineConfig bundles the dependencies a Pipeline needs. BaseDrive is
// the root of the on-disk layout; everything else is injected so tests can
// substitute fakes.
type PipelineConfig struct {
	Discoverer Discoverer
	Downloader Downloader
	Extractor  Extractor
	Tracking   TrackingStore
	Retention  Pruner
	Activity   ActivityRecorder
	BaseDrive  string
}

// NewPipeline builds a Pipeline from its dependencies.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		discoverer: cfg.Discoverer,
		downloader: cfg.Downloader,
		extractor:  cfg.Extractor,
		tracking:   cfg.Tracking,
		retention:  cfg.Retention,
		activity:   cfg.Activity,
		baseDrive:  cfg.BaseDrive,
	}
}

// defaultTransferTimeout is the last-resort bound applied when neither the
// tuple's own policy nor the caller supplies a positive timeout.
const defaultTransferTimeout = 300 * time.Second

// Outcome summarizes what one pipeline run did, so RunOnce can aggregate
// per-cycle counts across tuples.
type Outcome struct {
	NewBuild   bool
	Downloaded bool
	Extracted  bool
	Pruned     int
}

// Run executes one poll cycle for a tuple: discover the latest build, and
// if it is newer than what's already tracked, download, extract, record
// history, and prune. It is a no-op (beyond updating LastCheckAt) when the
// latest coordinate is unchanged.
//
// downloadTimeout and extractionTimeout are the operator-wide defaults
// (config.Provider.DownloadTimeout/ExtractionTimeout); tuple.Policy's own
// DownloadTimeoutS/ExtractTimeoutS take precedence when set, since they let
// a single huge nightly component or a tiny hotfix branch carry its own
// transfer budget instead of sharing the fleet-wide default.
func (p *Pipeline) Run(ctx context.Context, tuple model.Tuple, checksumHeader string, maxLookbackDays, maxBuildsToKeep int, downloadTimeout, extractionTimeout time.Duration) (Outcome, error) {
	logger := common.TupleLogger(tuple.Component.Name, tuple.Branch.Name)
	var out Outcome

	prior, _, err := p.tracking.Tracking(ctx, tuple.Component.ID, tuple.Branch.ID)
	if err != nil {
		return out, err
	}

	probeStart := time.Now()
	latest, found, err := p.discoverer.LatestFor(ctx, tuple.Component, tuple.Branch, prior.Latest, maxLookbackDays)
	probeDur := time.Since(probeStart)
	if err != nil {
		p.logFailure(ctx, tuple, model.OpPoll, probeDur, err)
		return out, err
	}
	if !found {
		logger.Debug("no builds found within lookback window")
		p.record(ctx, tuple, model.LevelDebug, model.OpPoll, "", probeDur, "no builds found within lookback window")
		prior.LastCheckAt = time.Now().UTC()
		prior.LastPollAt = prior.LastCheckAt
		return out, p.tracking.UpsertTracking(ctx, prior)
	}

	// Tracked coordinates are monotonic: anything at or below the tracked
	// build is skipped, except a re-attempt of the tracked build itself
	// when its download never completed.
	if !prior.Latest.IsZero() && !prior.Latest.Less(latest) {
		if latest.Less(prior.Latest) || prior.DownloadStatus == model.StatusCompleted {
			logger.Debug("latest build already downloaded")
			p.record(ctx, tuple, model.LevelDebug, model.OpPoll, latest.String(), probeDur, "no new build")
			prior.LastCheckAt = time.Now().UTC()
			prior.LastPollAt = prior.LastCheckAt
			return out, p.tracking.UpsertTracking(ctx, prior)
		}
	}
	out.NewBuild = true
	p.record(ctx, tuple, model.LevelInfo, model.OpPoll, latest.String(), probeDur, "new build discovered")

	artifactURL, err := p.discoverer.BuildURL(tuple.Component, tuple.Branch, latest)
	if err != nil {
		p.logFailure(ctx, tuple, model.OpPoll, probeDur, err)
		return out, err
	}

	tracking := model.BuildTracking{
		ComponentID:    tuple.Component.ID,
		BranchID:       tuple.Branch.ID,
		Latest:         latest,
		ArtifactURL:    artifactURL,
		LastCheckAt:    time.Now().UTC(),
		LastPollAt:     time.Now().UTC(),
		DownloadStatus: model.StatusDownloading,
	}
	if err := p.tracking.UpsertTracking(ctx, tracking); err != nil {
		return out, err
	}

	layout := download.Layout{
		BaseDrive:     p.baseDrive,
		ComponentGUID: tuple.Component.GUID,
		ComponentName: tuple.Component.Name,
	}

	dlStart := time.Now()
	dlCtx, dlCancel := context.WithTimeout(ctx, effectiveTimeout(tuple.Policy.DownloadTimeoutS, downloadTimeout))
	result, err := p.downloader.Download(dlCtx, layout, latest, artifactURL, checksumHeader)
	dlCancel()
	dlDur := time.Since(dlStart)
	if err != nil {
		tracking.DownloadStatus = model.StatusFailed
		tracking.LastError = err.Error()
		p.tracking.UpsertTracking(ctx, tracking)
		p.logFailure(ctx, tuple, model.OpDownload, dlDur, err)
		return out, err
	}
	out.Downloaded = true
	p.record(ctx, tuple, model.LevelInfo, model.OpDownload, latest.String(), dlDur, "archive downloaded")
	tracking.DownloadStatus = model.StatusCompleted
	tracking.DownloadPath = result.CurrentPath
	tracking.SizeBytes = result.SizeBytes
	tracking.Checksum = result.Checksum
	tracking.LastDownloadAt = time.Now().UTC()
	tracking.ExtractionStatus = model.StatusPending

	extractRoot := layout.ExtractionRoot(latest.String())
	exStart := time.Now()
	exCtx, exCancel := context.WithTimeout(ctx, effectiveTimeout(tuple.Policy.ExtractTimeoutS, extractionTimeout))
	err = p.extractor.Extract(exCtx, result.HistoryPath, extractRoot)
	exCancel()
	exDur := time.Since(exStart)
	if err != nil {
		tracking.ExtractionStatus = model.StatusFailed
		tracking.LastError = err.Error()
		p.tracking.UpsertTracking(ctx, tracking)
		p.logFailure(ctx, tuple, model.OpExtraction, exDur, err)
		return out, err
	}
	out.Extracted = true
	p.record(ctx, tuple, model.LevelInfo, model.OpExtraction, latest.String(), exDur, "archive extracted")
	tracking.ExtractionStatus = model.StatusCompleted
	tracking.ExtractionPath = extractRoot

	if err := p.tracking.UpsertTracking(ctx, tracking); err != nil {
		return out, err
	}

	if err := p.tracking.AppendHistory(ctx, model.BuildHistoryEntry{
		ComponentID:    tuple.Component.ID,
		BranchID:       tuple.Branch.ID,
		Coordinate:     latest,
		ArtifactURL:    artifactURL,
		DownloadPath:   result.HistoryPath,
		ExtractionPath: extractRoot,
		SizeBytes:      result.SizeBytes,
		Checksum:       result.Checksum,
		DownloadedAt:   tracking.LastDownloadAt,
	}); err != nil {
		return out, err
	}

	pruned, err := p.retention.Prune(ctx, tuple, maxBuildsToKeep)
	if err != nil {
		logger.WithError(err).Warn("retention sweep failed")
	}
	out.Pruned = pruned

	return out, nil
}

// effectiveTimeout returns policySeconds (as a duration) when positive,
// otherwise falls back to fallback, and finally to defaultTransferTimeout
// if both are unset.
func effectiveTimeout(policySeconds int, fallback time.Duration) time.Duration {
	if policySeconds > 0 {
		return time.Duration(policySeconds) * time.Second
	}
	if fallback > 0 {
		return fallback
	}
	return defaultTransferTimeout
}

// record appends one structured activity entry for a pipeline stage.
func (p *Pipeline) record(ctx context.Context, tuple model.Tuple, level model.LogLevel, op model.Operation, coord string, dur time.Duration, msg string) {
	if p.activity == nil {
		return
	}
	p.activity.Record(ctx, model.ActivityLogEntry{
		Level:         level,
		Operation:     op,
		ComponentName: tuple.Component.Name,
		BranchName:    tuple.Branch.Name,
		Coordinate:    coord,
		DurationMS:    dur.Milliseconds(),
		Message:       msg,
	})
}

func (p *Pipeline) logFailure(ctx context.Context, tuple model.Tuple, op model.Operation, dur time.Duration, err error) {
	level := model.LevelError
	if errs.As(err).Retryable() {
		level = model.LevelWarning
	}
	p.record(ctx, tuple, level, op, "", dur, err.Error())
}
