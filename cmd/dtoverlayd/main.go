// Command dtoverlayd runs the devicetree overlay engine as a standalone
// process: it loads the live base tree, wires up the Manager, and serves
// the overlay HTTP front door until signaled to stop.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/nirmata/dtoverlay/pkg/config"
	"github.com/nirmata/dtoverlay/pkg/dtree"
	"github.com/nirmata/dtoverlay/pkg/fdt"
	"github.com/nirmata/dtoverlay/pkg/metrics"
	"github.com/nirmata/dtoverlay/pkg/overlay"
	"github.com/nirmata/dtoverlay/pkg/phandle"
	"github.com/nirmata/dtoverlay/pkg/server"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	v := viper.New()
	v.SetEnvPrefix("DTOVERLAYD")
	v.AutomaticEnv()
	v.SetDefault("listen", ":8443")
	v.SetDefault("metrics_listen", ":9090")
	v.SetDefault("base_tree", "")
	v.SetDefault("config_manifest", "")
	v.BindEnv("listen")
	v.BindEnv("metrics_listen")
	v.BindEnv("base_tree")
	v.BindEnv("config_manifest")

	if cfgFile := os.Getenv("DTOVERLAYD_CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			glog.Fatalf("dtoverlayd: reading config file %s: %v", cfgFile, err)
		}
	}

	basePath := v.GetString("base_tree")
	if basePath == "" {
		glog.Fatalf("dtoverlayd: base_tree is required (set DTOVERLAYD_BASE_TREE or base_tree in the DTOVERLAYD_CONFIG_FILE file)")
	}
	baseData, err := os.ReadFile(basePath)
	if err != nil {
		glog.Fatalf("dtoverlayd: reading base tree %s: %v", basePath, err)
	}
	baseRoot, err := fdt.Decode(baseData)
	if err != nil {
		glog.Fatalf("dtoverlayd: decoding base tree %s: %v", basePath, err)
	}

	live := dtree.NewTree()
	live.Load(baseRoot)

	cfgPath := v.GetString("config_manifest")
	var overlayCfg *config.OverlayConfig
	if cfgPath != "" {
		overlayCfg, err = config.NewOverlayConfig(cfgPath)
		if err != nil {
			glog.Fatalf("dtoverlayd: loading configuration manifest: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	alloc := phandle.NewAllocator(live)
	decode := overlay.NewFDTDecoder(alloc)

	mgr := overlay.NewManager(live, decode, overlayCfg, m)

	srv := server.New(v.GetString("listen"), mgr)
	srv.RunAsync()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: v.GetString("metrics_listen"), Handler: metricsMux}
	go func() {
		glog.Infof("dtoverlayd: serving metrics on %s", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("dtoverlayd: metrics server error: %v", err)
		}
	}()

	glog.Infof("dtoverlayd: ready, serving overlay requests on %s", v.GetString("listen"))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	glog.Info("dtoverlayd: shutting down")
	srv.Stop()
	_ = metricsServer.Close()
}
