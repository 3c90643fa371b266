package main

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/internal/sample"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

func sampleDescriptions(t *testing.T) []*catalog.Description {
	t.Helper()
	descs, err := describe(catalog.New(typesys.NewUniverse()), sample.NewCatalogService(nil), sample.NewOrderService(nil))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	return descs
}

func TestGenerate_sampleServices(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	cfg := config.Defaults().Codegen
	cfg.Package = "shopclient"
	cfg.ApplicationName = "Shop"

	src, err := generate(cfg, sampleDescriptions(t), zap.NewNop(), metrics)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	for _, want := range []string{
		"package shopclient",
		"type Product struct",
		"type OrderLine struct",
		"type CatalogServiceContext struct",
		"func (e *Product) Discontinue() error",
		"func (e *Product) AdjustPrice(percent float64) error",
		"func (c *OrderServiceContext) OrderTotal(ctx context.Context, number string) (float64, error)",
		"ProductStatusDiscontinued",
		"func NewWebContext(transport client.Transport) *WebContext",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("generated client is missing %q", want)
		}
	}

	if got := testutil.ToFloat64(metrics.CodegenRunsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("codegen ok runs = %v, want 1", got)
	}
}

func TestGenerate_badSourceRoot(t *testing.T) {
	cfg := config.Defaults().Codegen
	cfg.SourceRoots = []string{"no-separator"}
	if _, err := generate(cfg, sampleDescriptions(t), zap.NewNop(), nil); err == nil {
		t.Error("generate should reject a source root without a module path")
	}
}

type missingOpService struct{}

func (missingOpService) Operations() model.OperationMetadata {
	return model.OperationMetadata{"Missing": {model.Invoke{}}}
}

type badInsertService struct{}

func (badInsertService) Operations() model.OperationMetadata {
	return model.OperationMetadata{"InsertValue": {model.Insert{}}}
}

func (badInsertService) InsertValue(v int) {}

func TestDescribe_reportsEveryFailure(t *testing.T) {
	_, err := describe(catalog.New(typesys.NewUniverse()), missingOpService{}, badInsertService{})
	if err == nil {
		t.Fatal("describe should fail for invalid services")
	}
	if !strings.Contains(err.Error(), "missingOpService") || !strings.Contains(err.Error(), "badInsertService") {
		t.Errorf("error = %v, want both failures reported", err)
	}
}
