package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/ralphloop/agentloop"
	"github.com/martinemde/ralphloop/history"
	"github.com/martinemde/ralphloop/llm"
	"github.com/martinemde/ralphloop/loop"
	"github.com/martinemde/ralphloop/taskrun"
	"github.com/martinemde/ralphloop/workspace"
)

// app holds everything one loop run needs.
type app struct {
	ctrl    *loop.Controller
	emitter *agentloop.EventEmitter
	runner  *taskrun.ShellRunner
	store   *history.Store
	client  *llm.Client
}

func newLLMClient() (*llm.Client, string, error) {
	model := cfg.Model.Name
	if model == "" {
		model = llm.DefaultModel(cfg.Model.Provider)
	}
	adapter, err := llm.NewGollmAdapter(cfg.Model.Provider, cfg.Model.APIKey,
		llm.WithModel(model),
		llm.WithMaxTokens(cfg.Model.MaxTokens),
		llm.WithTemperature(cfg.Model.Temperature))
	if err != nil {
		return nil, "", err
	}

	retry := llm.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Model.MaxRetries
	retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model request", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	client := llm.NewClient(
		llm.WithProvider(adapter.Name(), adapter),
		llm.WithMiddleware(llm.LoggingMiddleware(logger)),
		llm.WithStreamMiddleware(llm.StreamLoggingMiddleware(logger)),
		llm.WithRetryPolicy(retry))
	return client, model, nil
}

func newApp() (*app, error) {
	fs, err := workspace.NewLocalFS(workDir)
	if err != nil {
		return nil, err
	}
	client, model, err := newLLMClient()
	if err != nil {
		return nil, err
	}

	a := &app{
		emitter: agentloop.NewEventEmitter("", 1024),
		runner:  taskrun.NewShellRunner(workDir, cfg.Tasks, taskrun.WithLogger(logger)),
		client:  client,
	}

	var prompt workspace.HumanPrompt = workspace.NewTerminalPrompt()
	if autoYes {
		prompt = &workspace.AutoPrompt{Answer: true}
	}

	deps := loop.Deps{
		Client:      client,
		Model:       model,
		FS:          fs,
		Search:      workspace.NewLocalSearch(workDir),
		Diagnostics: workspace.NewCommandDiagnostics(workDir, cfg.Diagnostics.Commands, cfg.Diagnostics.Timeout, logger),
		Runner:      a.runner,
		Prompt:      prompt,
		Emitter:     a.emitter,
		Logger:      logger,
	}

	store, err := history.Open(filepath.Join(workDir, cfg.Loop.HistoryPath))
	if err != nil {
		logger.Warn("run history disabled", zap.Error(err))
	} else {
		a.store = store
		deps.Recorder = store
	}

	a.ctrl = loop.NewController(deps,
		loop.WithScratchPath(cfg.Loop.ScratchPath),
		loop.WithMaxToolRounds(cfg.Loop.MaxToolRounds),
		loop.WithCacheSize(cfg.Loop.CacheSize))
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("close history", zap.Error(err))
		}
	}
	if err := a.client.Close(); err != nil {
		logger.Warn("close model client", zap.Error(err))
	}
}

// execute runs one loop, rendering events as they arrive. The first
// interrupt stops the loop at the next iteration boundary; a second one
// aborts in-flight work.
func (a *app) execute(parent context.Context, lc loop.Config) (*loop.RunResult, error) {
	ctx, hardCancel := context.WithCancel(parent)
	defer hardCancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		soft := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if !soft {
					soft = true
					printLine(yellow("stopping after this iteration (interrupt again to abort)"))
					a.ctrl.Cancel()
					continue
				}
				printLine(red("aborting"))
				hardCancel()
				return
			}
		}
	}()

	unsubscribe := a.runner.Bus().Subscribe(renderTaskNotification)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range a.emitter.Events() {
			renderEvent(ev)
		}
	}()

	res, err := a.ctrl.Run(ctx, lc)
	a.emitter.Close()
	<-done
	return res, err
}
