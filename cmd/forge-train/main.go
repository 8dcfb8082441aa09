package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forge-adapter/internal/adapter"
	"forge-adapter/internal/checkpoint"
	"forge-adapter/internal/config"
	"forge-adapter/internal/dataset"
	"forge-adapter/internal/export"
	"forge-adapter/internal/logger"
	"forge-adapter/internal/metrics"
	"forge-adapter/internal/model"
	"forge-adapter/internal/trainer"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config (empty to use flags only)")
	modelName := flag.String("model", "", "Registered model name")
	lr := flag.Float64("lr", 0, "Learning rate")
	trainData := flag.String("train", "", "Training data: CSV file or comma separated shard roots")
	valData := flag.String("val", "", "Validation data")
	testData := flag.String("test", "", "Test data")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	maxSteps := flag.Int("max-steps", 0, "Stop after N optimizer steps")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	progress := flag.Bool("progress", false, "Render a progress bar")
	checkpointDir := flag.String("checkpoint-dir", "", "Write a checkpoint per epoch under this directory")
	initFrom := flag.String("init-from", "", "Load parameters from this checkpoint before training")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	predictionsDir := flag.String("predictions-dir", "", "Write test predictions CSV into this directory")
	testInfo := flag.String("test-info", "", "CSV whose columns are copied next to the predictions")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	logFormat := flag.String("log-format", "", "console or json")
	listModels := flag.Bool("list-models", false, "Print the registered models and exit")

	flag.Parse()

	if *listModels {
		for _, name := range model.Default.Names() {
			os.Stdout.WriteString(name + "\n")
		}
		return
	}

	bootLog := logger.L()
	cfg := &config.Config{}
	if *cfgPath != "" {
		var err error
		cfg, err = config.Read(*cfgPath)
		if err != nil {
			bootLog.Fatal().Err(err).Str("path", *cfgPath).Msg("failed to load config")
		}
	}

	cfg.ApplyOverrides(config.Overrides{
		ModelName:      *modelName,
		LR:             *lr,
		TrainData:      *trainData,
		ValData:        *valData,
		TestData:       *testData,
		Epochs:         *epochs,
		MaxSteps:       *maxSteps,
		BatchSize:      *batchSize,
		NumWorkers:     *numWorkers,
		Seed:           *seed,
		LogEvery:       *logEvery,
		Progress:       *progress,
		CheckpointDir:  *checkpointDir,
		MetricsAddr:    *metricsAddr,
		PredictionsDir: *predictionsDir,
		TestInfo:       *testInfo,
		LogLevel:       *logLevel,
		LogFormat:      *logFormat,
	})

	if err := cfg.Validate(); err != nil {
		bootLog.Fatal().Err(err).Msg("invalid config")
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logger.L()

	hp, err := cfg.HParams()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid hyperparameters")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink metrics.Sink = metrics.LogSink{Logger: log}
	if cfg.MetricsAddr != "" {
		srv, prom := serveMetrics(cfg.MetricsAddr, log)
		defer shutdown(srv)
		sink = metrics.Multi(sink, prom)
	}

	module, err := adapter.New(hp, model.Default, adapter.WithSink(sink))
	if err != nil {
		log.Fatal().Err(err).Str("model", hp.ModelName).Strs("registered", model.Default.Names()).Msg("failed to build adapter")
	}
	if *initFrom != "" {
		if err := checkpoint.Load(*initFrom, module.Model()); err != nil {
			log.Fatal().Err(err).Str("dir", *initFrom).Msg("failed to load checkpoint")
		}
		log.Info().Str("dir", *initFrom).Msg("parameters restored")
	}

	train, err := openSource(cfg, cfg.TrainData, sourceOptions{labeled: true, shuffle: cfg.Shuffle, repeat: cfg.Repeat}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open training data")
	}
	var val dataset.Source
	if cfg.ValData != "" {
		val, err = openSource(cfg, cfg.ValData, sourceOptions{labeled: true}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open validation data")
		}
	}

	runCfg := trainer.RunConfig{
		Epochs:        cfg.Epochs,
		MaxSteps:      cfg.MaxSteps,
		LogEvery:      cfg.LogEvery,
		CheckpointDir: cfg.CheckpointDir,
		Sink:          sink,
		Progress:      cfg.Progress,
		Logger:        log,
	}
	if _, err := trainer.Fit(ctx, module, train, val, runCfg); err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}

	if cfg.TestData == "" {
		return
	}
	test, err := openSource(cfg, cfg.TestData, sourceOptions{}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open test data")
	}
	collected, err := trainer.Test(ctx, module, test)
	if err != nil {
		log.Fatal().Err(err).Msg("test failed")
	}
	preds, err := collected.ByRow()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to order predictions")
	}
	log.Info().Int("predictions", len(preds)).Msg("test finished")

	if cfg.PredictionsDir == "" {
		return
	}
	var info *dataframe.DataFrame
	if cfg.TestInfo != "" {
		info, err = export.LoadInfo(cfg.TestInfo)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load test info")
		}
	}
	path, err := export.WritePredictions(cfg.PredictionsDir, hp.ModelName, time.Now(), preds, info)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write predictions")
	}
	log.Info().Str("path", path).Msg("predictions written")
}

type sourceOptions struct {
	labeled bool
	shuffle bool
	repeat  bool
}

// openSource opens a CSV table, or discovers shards under the comma
// separated roots in path. repeat only applies to shards.
func openSource(cfg *config.Config, path string, opts sourceOptions, log zerolog.Logger) (dataset.Source, error) {
	if config.IsCSV(path) {
		table, err := dataset.LoadCSVFile(path, dataset.CSVOptions{LabelColumn: cfg.LabelColumn, KeyColumn: cfg.KeyColumn})
		if err != nil {
			return nil, err
		}
		if opts.labeled && !table.Labeled() {
			return nil, errors.Errorf("%s: no %q column", path, cfg.LabelColumn)
		}
		log.Info().Str("path", path).Int("rows", len(table.Samples)).Strs("features", table.FeatureNames).Msg("table loaded")
		return table.Source(cfg.BatchSize, opts.shuffle, cfg.Seed), nil
	}

	roots := strings.Split(path, ",")
	byRoot, err := dataset.DiscoverByRoot(roots)
	if err != nil {
		return nil, err
	}
	for root, shards := range byRoot {
		log.Info().Str("root", root).Int("shards", len(shards)).Msg("shards discovered")
	}
	return &dataset.ShardSource{
		Roots:      byRoot,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Seed:       cfg.Seed,
		Repeat:     opts.repeat,
		Shard:      dataset.ShardOptions{Labeled: opts.labeled},
	}, nil
}

func serveMetrics(addr string, log zerolog.Logger) (*http.Server, *metrics.PromSink) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom, err := metrics.NewPromSink(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv, prom
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
