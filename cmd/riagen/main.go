// Package main generates the Go client package for the domain services
// hosted by riaserver.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/codegen"
	"github.com/pitabwire/ria/internal/codegen/gogen"
	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/internal/sample"
	"github.com/pitabwire/ria/internal/share"
	"github.com/pitabwire/ria/internal/typesys"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (defaults apply when empty)")
	output := flag.String("out", "", "output file, overriding codegen.output; - writes to stdout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	if *output != "" {
		cfg.Codegen.Output = *output
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	metrics := observability.InitMetrics(prometheus.NewRegistry())

	cat := catalog.New(typesys.NewUniverse())
	descs, err := describe(cat, sample.NewCatalogService(nil), sample.NewOrderService(nil))
	if err != nil {
		logger.Error("describing services failed", zap.Error(err))
		return 1
	}

	src, err := generate(cfg.Codegen, descs, logger, metrics)
	if err != nil {
		logger.Error("code generation failed", zap.Error(err))
		return 1
	}

	if cfg.Codegen.Output == "-" {
		fmt.Print(src)
		return 0
	}
	if dir := filepath.Dir(cfg.Codegen.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("creating output directory failed", zap.Error(err))
			return 1
		}
	}
	if err := os.WriteFile(cfg.Codegen.Output, []byte(src), 0o644); err != nil {
		logger.Error("writing client failed", zap.Error(err))
		return 1
	}
	logger.Info("client generated",
		zap.String("output", cfg.Codegen.Output),
		zap.Int("services", len(descs)),
	)
	return 0
}

// describe collects the descriptions of services, reporting every failure.
func describe(cat *catalog.Catalog, services ...any) ([]*catalog.Description, error) {
	var (
		descs []*catalog.Description
		errs  []error
	)
	for _, svc := range services {
		d, err := cat.Describe(svc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", svc, err))
			continue
		}
		descs = append(descs, d)
	}
	return descs, errors.Join(errs...)
}

// generate runs one Go generation pass for descs and records its outcome.
func generate(cfg config.CodegenConfig, descs []*catalog.Description, logger *zap.Logger, metrics *observability.Metrics) (string, error) {
	shares, err := buildResolver(cfg, logger)
	if err != nil {
		return "", err
	}

	host := codegen.NewLoggingHost(logger)
	gen := gogen.New()
	gen.Shares = shares
	src, err := gen.Generate(host, descs, codegen.Options{
		Package:                    cfg.Package,
		GenerateApplicationContext: cfg.GenerateWebContext,
		ApplicationName:            cfg.ApplicationName,
		Header:                     cfg.Header,
	})

	status := "ok"
	if err != nil {
		status = "failed"
	}
	if metrics != nil {
		metrics.RecordCodegen(status, len(host.Errors()), len(host.Warnings()))
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.Join(host.Errors(), "; "))
	}
	return src, nil
}

// buildResolver indexes the reference manifests and source roots of cfg.
func buildResolver(cfg config.CodegenConfig, logger *zap.Logger) (*share.Resolver, error) {
	index := share.NewReferenceIndex()
	for _, p := range cfg.ReferenceManifests {
		m, err := typesys.LoadManifestFile(p)
		if err != nil {
			return nil, err
		}
		if err := index.AddManifest(m); err != nil {
			return nil, fmt.Errorf("reference manifest %s: %w", p, err)
		}
	}

	var locators share.Locators
	for _, root := range cfg.SourceRoots {
		modulePath, dir, ok := strings.Cut(root, "=")
		if !ok || modulePath == "" || dir == "" {
			return nil, fmt.Errorf("source root %q must be written as module/path=dir", root)
		}
		l, err := share.NewGoSourceLocator(modulePath, dir)
		if err != nil {
			return nil, fmt.Errorf("source root %s: %w", root, err)
		}
		locators = append(locators, l)
	}

	opts := []share.Option{
		share.WithReferenceIndex(index),
		share.WithSharedFiles(cfg.SharedSources...),
		share.WithLogger(logger),
	}
	if len(locators) > 0 {
		opts = append(opts, share.WithSourceLocator(locators))
	}
	return share.NewResolver(opts...), nil
}
