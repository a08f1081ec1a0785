package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/entities"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/exporter"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/gateways/suncloud"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/gateways/suncloud/network"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/logging"
	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	defaultConfigPath = "suncloud_config.yaml"
	defaultPort       = "9090"
	shutdownTimeout   = 5 * time.Second
)

type refresher interface {
	Refresh(ctx context.Context) (entities.Snapshot, error)
}

type pointSource interface {
	Points() entities.PointCatalog
}

func newMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func pollOnce(ctx context.Context, integration refresher, points pointSource, collector *exporter.Collector, log *logrus.Entry) {
	snapshot, err := integration.Refresh(ctx)
	if err != nil {
		collector.MarkFailure()
		log.Errorf("poll failed: %v", err)
		return
	}
	collector.Update(points.Points(), snapshot.Readings, time.Now())
}

// monitor polls immediately and then on every tick until ctx is done.
func monitor(ctx context.Context, interval time.Duration, integration refresher, points pointSource, collector *exporter.Collector, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollOnce(ctx, integration, points, collector, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollOnce(ctx, integration, points, collector, log)
		}
	}
}

func main() {
	loggerFactory := logging.NewLogrus(os.Getenv("LOG_LEVEL"), os.Stdout)
	log := loggerFactory.Get("main")

	configPath := utils.GetValueFromEnvironmentVariable("SUNCLOUD_CONFIG_FILEPATH", defaultConfigPath)
	conf, err := utils.ConfigurationParser(configPath, entities.SunCloudConfig{})
	if err != nil {
		log.Fatalf("failed to read configuration %s: %v", configPath, err)
	}
	if err := conf.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	client, err := suncloud.NewClient(conf, loggerFactory.Get("suncloud"))
	if err != nil {
		log.Fatalln(err)
	}

	filter, err := suncloud.FilterConfigFromEnvironment()
	if err != nil {
		log.Fatalln(err)
	}

	var publisher network.Publisher
	var broker *network.AMQP
	if url := os.Getenv("AMQP_URL"); url != "" {
		broker = network.NewAMQP(url, loggerFactory.Get("amqp"))
		if err := broker.Start(); err != nil {
			log.Fatalf("failed to connect to the broker: %v", err)
		}
		publisher = network.NewMsgPublisher(broker)
	}
	integration := suncloud.NewSunCloudIntegration(client, publisher, filter, loggerFactory.Get("integration"))

	collector := exporter.NewCollector(loggerFactory.Get("exporter"))
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	port := utils.GetValueFromEnvironmentVariable("EXPORTER_PORT", defaultPort)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(registry),
		ReadHeaderTimeout: shutdownTimeout,
	}
	go func() {
		log.Infof("serving metrics on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("polling every %s", conf.PollInterval())
	monitor(ctx, conf.PollInterval(), integration, client, collector, log)

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("failed to stop metrics server: %v", err)
	}
	if err := integration.Close(); err != nil {
		log.Errorf("failed to close client: %v", err)
	}
	if broker != nil {
		if err := broker.Stop(); err != nil {
			log.Errorf("failed to close broker connection: %v", err)
		}
	}
}
