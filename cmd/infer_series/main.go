package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/neurlang/deepseries/checkpoint"
	"github.com/neurlang/deepseries/config"
	"github.com/neurlang/deepseries/datasets"
	"github.com/neurlang/deepseries/model/linear"
	"github.com/neurlang/deepseries/param"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	ckpt := flag.String("checkpoint", "", "checkpoint file; default is the newest in <root_dir>/checkpoints")
	useEMA := flag.Bool("ema", true, "use the moving-average weights when the checkpoint has them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	path := *ckpt
	if path == "" {
		if path, err = checkpoint.Latest(filepath.Join(cfg.RootDir, "checkpoints")); err != nil {
			log.Fatal(err)
		}
	}
	c, err := checkpoint.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}

	model, err := linear.New(cfg.Model.Lookback, cfg.Model.Horizon, cfg.Seed)
	if err != nil {
		log.Fatal(err)
	}
	weights := c.Model
	if *useEMA && c.EMA != nil {
		weights = c.EMA
	}
	if err := param.Load(model, weights); err != nil {
		log.Fatal(err)
	}
	model.Train(false)

	values, err := datasets.Source(cfg.Data.CSV, cfg.Data.Column, cfg.Data.Synthetic, cfg.Data.Period, cfg.Data.Noise, cfg.Seed)
	if err != nil {
		log.Fatal(err)
	}
	mean, std := 0.0, 1.0
	if cfg.Data.Standardize {
		values, mean, std = datasets.Standardize(values)
	}
	windows, err := datasets.NewWindows(values, cfg.Model.Lookback, cfg.Model.Horizon, 1)
	if err != nil {
		log.Fatal(err)
	}
	out, err := model.Forward([][]float64{windows.Last()})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("checkpoint %s, epoch %d\n", path, c.Epochs)
	for i, v := range out[0] {
		fmt.Printf("t+%d\t%.6f\n", i+1, v*std+mean)
	}
}
