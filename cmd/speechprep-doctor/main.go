package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/doctor"
)

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	offline := flag.Bool("offline", false, "Only check configuration, skip network probes")
	timeout := flag.Duration("timeout", 45*time.Second, "Overall time limit for the network probes")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[FAIL] config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report := doctor.Run(ctx, doctor.Options{Config: cfg, Offline: *offline})
	fmt.Println(report.String())
	if !report.OK() {
		os.Exit(1)
	}
}
