package main

import (
	"flag"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/vpuc/compiler"
)

// options are the flags shared by the commands that compile.
type options struct {
	configPath    string
	logLevel      string
	customLayers  string
	ignoreUnknown bool
	skipTypes     string
}

func (o *options) setFlags(f *flag.FlagSet) {
	f.StringVar(&o.configPath, "config", "", "YAML configuration file")
	f.StringVar(&o.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides the configuration")
	f.StringVar(&o.customLayers, "custom-layers", "", "custom layer YAML file; overrides the configuration")
	f.BoolVar(&o.ignoreUnknown, "ignore-unknown", false, "lower layers without a rule to None stages")
	f.StringVar(&o.skipTypes, "skip-types", "", "comma separated layer types to lower to None stages")
}

// load builds the compilation options and the logger from the configuration file and
// the flags. Flags win over the file.
func (o *options) load() (compiler.Config, *logrus.Entry, error) {
	cfg := compiler.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = compiler.LoadConfig(o.configPath); err != nil {
			return cfg, nil, err
		}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.customLayers != "" {
		cfg.CustomLayers = o.customLayers
	}
	if o.ignoreUnknown {
		cfg.IgnoreUnknownLayers = true
	}
	for _, typ := range strings.Split(o.skipTypes, ",") {
		if typ = strings.TrimSpace(typ); typ != "" {
			cfg.SkipLayerTypes = append(cfg.SkipLayerTypes, typ)
		}
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return cfg, logrus.NewEntry(log), nil
}
