// Copyright 2025 The Jobexec Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/jobexec/internal/config"
	"github.com/tombee/jobexec/internal/executor"
	"github.com/tombee/jobexec/internal/executor/cluster"
	"github.com/tombee/jobexec/internal/stats"
	"github.com/tombee/jobexec/pkg/job"
)

// runDemo builds a two-job pipeline (a producer and a consumer) and
// drives it through the backend named by cfg.Backend, printing each
// job's terminal outcome as it completes.
func runDemo(ctx context.Context, cfg *config.Daemon, workdir string, logger *slog.Logger) error {
	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	defer meterProvider.Shutdown(ctx)

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	defer tracerProvider.Shutdown(ctx)

	if listen := cfg.Metrics.PrometheusListen; listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("prometheus listener stopped", slog.Any("error", err))
			}
		}()
		defer srv.Close()
	}

	collector, err := stats.NewCollector(meterProvider, tracerProvider)
	if err != nil {
		return fmt.Errorf("failed to create stats collector: %w", err)
	}

	wf := &job.Workflow{
		EnginePath:  cfg.EnginePath,
		Snakefile:   cfg.Snakefile,
		WorkdirInit: cfg.WorkdirInit,
		Persistence: job.NewMemPersistence(),
	}
	dag := job.NewSimpleDAG()
	base := executor.NewBase(wf, dag, time.Duration(cfg.LatencyWaitSecs)*time.Second, logger, collector)

	exec, err := buildExecutor(cfg, base)
	if err != nil {
		return err
	}
	defer exec.Shutdown()

	produced := filepath.Join(workdir, "a.txt")
	consumed := filepath.Join(workdir, "b.txt")

	jobA := &job.StaticJob{
		IDValue:     uuid.NewString(),
		Rule:        "produce",
		OutputPaths: []string{produced},
		Shell:       fmt.Sprintf("echo hello > %q", produced),
		ThreadsValue: 1,
	}
	jobB := &job.StaticJob{
		IDValue:      uuid.NewString(),
		Rule:         "consume",
		InputPaths:   []string{produced},
		OutputPaths:  []string{consumed},
		Shell:        fmt.Sprintf("cat %q > %q", produced, consumed),
		ThreadsValue: 1,
	}

	var wg sync.WaitGroup
	run := func(j job.Job) {
		wg.Add(1)
		onSuccess := func(done job.Job) {
			logger.Info("job succeeded", slog.String("rule", done.RuleName()))
			wg.Done()
		}
		onSubmit := func(submitted job.Job) {
			logger.Info("job submitted", slog.String("rule", submitted.RuleName()))
		}
		onError := func(failed job.Job) {
			logger.Error("job failed", slog.String("rule", failed.RuleName()))
			wg.Done()
		}
		if err := exec.Run(ctx, j, onSuccess, onSubmit, onError); err != nil {
			logger.Error("job rejected", slog.String("rule", j.RuleName()), slog.Any("error", err))
			wg.Done()
		}
	}

	run(jobA)
	wg.Wait()
	run(jobB)
	wg.Wait()

	return nil
}

func buildExecutor(cfg *config.Daemon, base executor.Base) (executor.Executor, error) {
	switch cfg.Backend {
	case "", "cpu":
		workers := cfg.Cores
		if workers < 1 {
			workers = 1
		}
		return executor.NewCPU(base, workers, cfg.UseThreads, cfg.BenchmarkRepeats), nil
	case "dryrun":
		return executor.NewDryRun(base), nil
	case "touch":
		return executor.NewTouch(base), nil
	case "generic":
		ccfg := clusterConfig(cfg)
		return cluster.NewGeneric(base, ccfg, cfg.SubmitCmd)
	case "synchronous":
		ccfg := clusterConfig(cfg)
		return cluster.NewSynchronous(base, ccfg, cfg.SubmitCmd)
	case "drmaa":
		ccfg := clusterConfig(cfg)
		return cluster.NewDRMAA(base, ccfg, cfg.DrmaaArgs)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func clusterConfig(cfg *config.Daemon) cluster.Config {
	return cluster.Config{
		Cores:            cfg.Cores,
		Jobname:          cfg.Jobname,
		JobscriptPath:    cfg.JobscriptPath,
		PrintShellCmds:   cfg.PrintShellCmds,
		ClusterConfig:    cfg.ClusterConfig,
		BenchmarkRepeats: cfg.BenchmarkRepeats,
	}
}
