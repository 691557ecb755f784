package main

import (
	"errors"
	"flag"
	"log"

	"github.com/neurlang/deepseries/config"
	"github.com/neurlang/deepseries/datasets"
	"github.com/neurlang/deepseries/loss"
	"github.com/neurlang/deepseries/model/linear"
	"github.com/neurlang/deepseries/optim"
	"github.com/neurlang/deepseries/trainer"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	root := flag.String("root", "", "run directory, overrides root_dir")
	resume := flag.String("resume", "", "checkpoint to resume from, or \"latest\"")
	epochs := flag.Int("epochs", 0, "maximum epochs, overrides fit.max_epochs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *root != "" {
		cfg.RootDir = *root
	}
	if *epochs > 0 {
		cfg.Fit.MaxEpochs = *epochs
	}
	if err := run(cfg, *resume); err != nil {
		log.Fatal(err)
	}
}

// errFailed is returned once the cause is already in the run log.
var errFailed = errors.New("training failed")

func run(cfg *config.Config, resume string) error {
	values, err := datasets.Source(cfg.Data.CSV, cfg.Data.Column, cfg.Data.Synthetic, cfg.Data.Period, cfg.Data.Noise, cfg.Seed)
	if err != nil {
		return err
	}
	if cfg.Data.Standardize {
		values, _, _ = datasets.Standardize(values)
	}
	trainValues, validValues, err := datasets.Split(values, cfg.Data.ValidFraction, cfg.Model.Lookback)
	if err != nil {
		return err
	}
	train, err := datasets.NewWindows(trainValues, cfg.Model.Lookback, cfg.Model.Horizon, cfg.Data.BatchSize)
	if err != nil {
		return err
	}
	if cfg.Data.Shuffle {
		train.Shuffle(cfg.Seed)
	}
	valid, err := datasets.NewWindows(validValues, cfg.Model.Lookback, cfg.Model.Horizon, cfg.Data.BatchSize)
	if err != nil {
		return err
	}

	model, err := linear.New(cfg.Model.Lookback, cfg.Model.Horizon, cfg.Seed)
	if err != nil {
		return err
	}
	lossFn, err := loss.New(cfg.Model.Loss)
	if err != nil {
		return err
	}
	opt, err := optim.New(cfg.Optim.Name, model.Parameters(), optim.Config{
		LR:          cfg.Optim.LR,
		Momentum:    cfg.Optim.Momentum,
		WeightDecay: cfg.Optim.WeightDecay,
	})
	if err != nil {
		return err
	}
	sched, err := optim.NewScheduler(cfg.Optim.Scheduler, opt, optim.SchedulerConfig{
		StepSize: cfg.Optim.StepSize,
		Gamma:    cfg.Optim.Gamma,
	})
	if err != nil {
		return err
	}

	learner, err := trainer.New(model, opt, lossFn, trainer.HyperParameters{
		RootDir:     cfg.RootDir,
		LogInterval: cfg.Fit.LogInterval,
		GradClip:    cfg.Fit.GradClip,
		EMADecay:    cfg.Fit.EMADecay,
		Scheduler:   sched,
	})
	if err != nil {
		return err
	}
	defer learner.Close()

	if err := learner.Resume(resume); err != nil {
		learner.Logger().Println(err)
		return errFailed
	}
	learner.Logger().Printf("%d training and %d validation windows", train.Samples(), valid.Samples())

	_, err = learner.Fit(cfg.Fit.MaxEpochs, train, valid, trainer.FitOptions{
		EarlyStopping: cfg.Fit.EarlyStopping,
		Patience:      cfg.Fit.Patience,
		StartSave:     cfg.Fit.StartSave,
	})
	if err != nil {
		learner.Logger().Println(err)
		return errFailed
	}
	return nil
}
