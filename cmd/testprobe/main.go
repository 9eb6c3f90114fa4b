package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"gopkg.in/yaml.v3"

	"github.com/testprobe/testprobe/cmd/testprobe/build"
	"github.com/testprobe/testprobe/internal/assembly"
	"github.com/testprobe/testprobe/internal/config"
	"github.com/testprobe/testprobe/internal/modules"
	pkglog "github.com/testprobe/testprobe/pkg/log"
)

const appName = "testprobe"

// Version/Branch/Revision are set via -ldflags -X main.Version=... at
// link time, matching the teacher's own version-stamping convention.
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision
	prometheus.MustRegister(version.NewCollector(appName))
}

func main() {
	printVersion := flag.Bool("version", false, "Print this build's version information and exit.")

	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Println(version.Print(appName))
		os.Exit(0)
	}

	if err := pkglog.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log configuration: %v\n", err)
		os.Exit(1)
	}

	if configVerify {
		if err := cfg.Validate(); err != nil {
			level.Error(pkglog.Logger).Log("msg", "configuration is invalid", "err", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	level.Info(pkglog.Logger).Log("msg", "starting testprobe", "version", version.Info())

	registry := assembly.NewRegistry()
	registry.Add(modules.NewConfigModule(cfg))
	registry.Add(modules.NewObjectStorageModule(cfg.ObjectStorage))
	registry.Add(modules.NewSecretVaultModule(cfg.Vault))
	registry.Add(modules.NewActorRuntimeModule(cfg, cfg.CucumberWorkers, pkglog.Logger))
	registry.Add(modules.NewIngressModule(*cfg, build.Info()))

	if _, err := registry.Build(assembly.NewContext()); err != nil {
		level.Error(pkglog.Logger).Log("msg", "assembly failed", "err", err)
		os.Exit(1)
	}

	level.Info(pkglog.Logger).Log("msg", "testprobe ready", "host", cfg.Ingress.Host, "port", cfg.Ingress.Port)

	waitForShutdown()
	level.Info(pkglog.Logger).Log("msg", "shutdown signal received, exiting")
}

// waitForShutdown blocks until SIGINT or SIGTERM, the exit path the
// process's "exit code is 0 on clean shutdown" contract relies on.
func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func loadConfig() (*config.Config, bool, error) {
	const (
		configFileOption   = "config.file"
		configVerifyOption = "config.verify"
	)

	var (
		configFile   string
		configVerify bool
	)

	args := os.Args[1:]
	cfg := &config.Config{}

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	cfg.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flag.String(configFileOption, "", "Configuration file to load")
	flag.Bool(configVerifyOption, false, "Verify configuration and exit")
	flag.Parse()

	return cfg, configVerify, nil
}
