// Command housestack trains the above-median stacking classifier, prints the
// batch report, serves the dashboard API and answers predictions.
//
// Usage:
//
//	housestack train   [-data kc_house_data.csv] [-synthetic N] [-out bundle.gob]
//	housestack serve   [-addr :8080] [-bundle bundle.gob]
//	housestack predict [-bundle bundle.gob | -remote http://host:8080] [-input house.json]
//	housestack predict [-bundle bundle.gob] -csv houses.csv [-chunk 512]
//	housestack runs
//
// Settings come from the YAML file named by HOUSESTACK_CONFIG, a .env file and
// HOUSESTACK_* variables; flags override them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/housestack/config"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.SetProvider(log.NewZerologProvider(level))
	logger := log.GetLoggerWithName("housestack")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "train":
		err = runTrain(ctx, cfg, args)
	case "serve":
		err = runServe(ctx, cfg, args)
	case "predict":
		err = runPredict(ctx, cfg, args)
	case "runs":
		err = runRuns(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", err, "command", cmd)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: housestack <train|serve|predict|runs> [flags]")
}
