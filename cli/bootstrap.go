package cli

import (
	"context"
	"fmt"
	"net/http"

	"wincore.dev/engine/activitylog"
	"wincore.dev/engine/catalog"
	"wincore.dev/engine/common"
	"wincore.dev/engine/config"
	"wincore.dev/engine/db"
	"wincore.dev/engine/download"
	"wincore.dev/engine/extract"
	"wincore.dev/engine/jfrogclient"
	"wincore.dev/engine/retention"
	"wincore.dev/engine/scheduler"
	"wincore.dev/engine/tracking"
)

// Exit codes shared by the subcommands.
const (
	ExitOK               = 0
	ExitTupleFailure     = 1
	ExitDBFailure        = 2
	ExitJFrogAuthFailure = 3
	ExitJFrogUnreachable = 4
)

// engine bundles every dependency a subcommand needs, built once from the
// resolved configuration.
type engine struct {
	conn     *db.DB
	catalog  *catalog.Store
	provider *config.Provider
	jfrog    *jfrogclient.Client
	activity *activitylog.Log
	tracking *tracking.Store
	pipeline *scheduler.Pipeline
}

func newEngine(ctx context.Context) (*engine, error) {
	conn, err := db.Open(ctx, dbDSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	catalogStore := catalog.New(conn)
	provider := config.New(catalogStore, 0)
	if err := provider.Reload(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("load system config: %w", err)
	}

	baseURL, _ := provider.Get(ctx, config.KeyJFrogBaseURL)
	user, _ := provider.Get(ctx, config.KeyJFrogUser)
	pass, _ := provider.Get(ctx, config.KeyJFrogPass)

	v := config.NewValidator()
	v.RequireURL(config.KeyJFrogBaseURL, baseURL)
	v.RequireString(config.KeyJFrogUser, user)
	v.RequireString(config.KeyJFrogPass, pass)
	if err := v.Validate(); err != nil {
		conn.Close()
		return nil, err
	}

	jfrog := jfrogclient.New(jfrogclient.Config{
		BaseURL:           baseURL,
		Username:          user,
		Password:          pass,
		RetryAttempts:     provider.RetryAttempts(ctx),
		RequestsPerSecond: 10,
	}, &http.Client{})

	trackingStore := tracking.New(conn)
	activityLog := activitylog.New(conn, activitylog.Options{
		FilePath:  common.GetEnv("WINCORE_ACTIVITY_LOG_FILE", ""),
		MaxSizeMB: common.GetEnvInt("WINCORE_ACTIVITY_LOG_MAX_MB", 0),
	})
	retentionMgr := retention.New(trackingStore, activityLog, nil)

	pipeline := scheduler.NewPipeline(scheduler.PipelineConfig{
		Discoverer: jfrog,
		Downloader: download.New(jfrog),
		Extractor:  extract.New(),
		Tracking:   trackingStore,
		Retention:  retentionMgr,
		Activity:   activityLog,
		BaseDrive:  mustBaseDrive(ctx, provider),
	})

	return &engine{
		conn:     conn,
		catalog:  catalogStore,
		provider: provider,
		jfrog:    jfrog,
		activity: activityLog,
		tracking: trackingStore,
		pipeline: pipeline,
	}, nil
}

func mustBaseDrive(ctx context.Context, provider *config.Provider) string {
	v, _ := provider.Get(ctx, config.KeyBaseDrive)
	return v
}

func (e *engine) Close() {
	if e.activity != nil {
		e.activity.Close()
	}
	if e.conn != nil {
		e.conn.Close()
	}
}
