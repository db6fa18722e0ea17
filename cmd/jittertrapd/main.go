package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jittertrap/jittertrap/internal/bus"
	"github.com/jittertrap/jittertrap/internal/capture"
	"github.com/jittertrap/jittertrap/internal/compute"
	"github.com/jittertrap/jittertrap/internal/config"
	"github.com/jittertrap/jittertrap/internal/flowtrack"
	"github.com/jittertrap/jittertrap/internal/logging"
	"github.com/jittertrap/jittertrap/internal/metrics"
	"github.com/jittertrap/jittertrap/internal/netem"
	"github.com/jittertrap/jittertrap/internal/pcapbuffer"
	"github.com/jittertrap/jittertrap/internal/ring"
	"github.com/jittertrap/jittertrap/internal/sampler"
	"github.com/jittertrap/jittertrap/internal/server"
	"github.com/jittertrap/jittertrap/internal/webrtcbridge"
)

var (
	version = "0.1.0"

	cfgFile      string
	port         int
	iface        string
	daemonize    bool
	resourcePath string
	debugLevel   string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "jittertrapd",
	Short: "JitterTrap live network telemetry appliance",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDaemon())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/jittertrap/jittertrapd.yaml)")
	rootCmd.Flags().IntVar(&port, "port", 0, "web server port (overrides config)")
	rootCmd.Flags().StringVar(&iface, "interface", "", "initially monitored interface (overrides config)")
	rootCmd.Flags().BoolVar(&daemonize, "daemonize", false, "detach and run in the background")
	rootCmd.Flags().StringVar(&resourcePath, "resource_path", "", "static asset directory served at /")
	rootCmd.Flags().StringVar(&debugLevel, "debug", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

// daemonizedEnvVar marks the re-exec'd child so it doesn't daemonize again.
const daemonizedEnvVar = "JITTERTRAPD_DAEMONIZED"

// daemonizeIntoBackground detaches the process into the background: a Go
// process can't safely fork() once it has spawned threads, so rather than
// forking in-place this re-execs itself with the same arguments in a new
// session (Setsid), redirects its standard file descriptors to /dev/null,
// and exits the parent once the child has started. The child recognises
// daemonizedEnvVar and skips this step on its own run.
func daemonizeIntoBackground() error {
	if os.Getenv(daemonizedEnvVar) == "1" {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	child := exec.Command(exe, os.Args[1:]...)
	child.Env = append(os.Environ(), daemonizedEnvVar+"=1")
	child.Stdin = devnull
	child.Stdout = devnull
	child.Stderr = devnull
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("start detached child: %w", err)
	}
	fmt.Fprintf(os.Stderr, "daemonized as pid %d\n", child.Process.Pid)
	os.Exit(0)
	return nil
}

// runDaemon wires every component per spec.md §4.9's STARTING sequence
// and blocks until a shutdown signal arrives. Returns the process exit
// status (0 clean, non-zero on initialisation failure, per spec.md §6).
func runDaemon() int {
	if daemonize {
		if err := daemonizeIntoBackground(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to daemonize: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if port != 0 {
		cfg.WebServerPort = port
	}
	if iface != "" {
		cfg.InitialIface = iface
	}
	if resourcePath != "" {
		cfg.ResourcePath = resourcePath
	}
	if debugLevel != "" {
		cfg.LogLevel = debugLevel
	}

	initLogging(cfg)
	log.Info("starting jittertrapd", "version", version, "port", cfg.WebServerPort)

	frames := ring.New[sampler.SampleFrame]()
	b := bus.New(64, 256)

	smp := sampler.New(sampler.Config{
		SamplePeriodUs:    cfg.SamplePeriodUs,
		MessagesPerSecond: cfg.MessagesPerSecond,
		CPU:               cfg.SamplerCPU,
		Iface:             cfg.InitialIface,
	}, sampler.GopsutilCounters{}, frames)

	var reg *metrics.Registry
	if cfg.MetricsEnabled {
		reg = metrics.NewRegistry()
		smp.OnSample(func(whooshNs int64) {
			reg.SamplerWhoosh.Observe(float64(whooshNs))
		})
	}

	engine := compute.New(frames, b)
	tracker := flowtrack.New(b)
	webrtcBridge := webrtcbridge.New()
	tracker.OnRTP(webrtcBridge.ForwardRTP)
	pcapBuf := pcapbuffer.New(pcapbuffer.Config{
		MaxMemoryBytes: cfg.PcapMaxMemoryBytes,
		DurationSec:    cfg.PcapDurationSec,
		PreTriggerSec:  cfg.PcapPreTriggerSec,
		PostTriggerSec: cfg.PcapPostTriggerSec,
	})

	var netemCtrl netem.Controller = netem.TCController{}

	srv := server.New(server.Config{
		AllowedIfaces:  cfg.AllowedIfaces,
		InitialIface:   cfg.InitialIface,
		SamplePeriodUs: cfg.SamplePeriodUs,
		PcapDir:        cfg.PcapDir,
		MaxJSONMsgLen:  cfg.MaxJSONMsgLen,
	}, b, smp, pcapBuf, netemCtrl, reg, webrtcBridge)

	var capMu sync.Mutex
	var capSession *capture.Capture
	captureStop := make(chan struct{})
	startCapture := func(ifaceName string) {
		capMu.Lock()
		defer capMu.Unlock()
		if capSession != nil {
			capSession.Close()
			capSession = nil
		}
		if ifaceName == "" {
			return
		}
		c, err := capture.Open(capture.Config{Iface: ifaceName}, tracker, pcapBuf)
		if err != nil {
			log.Error("capture open failed", "iface", ifaceName, "error", err)
			return
		}
		capSession = c
		go func() {
			if err := capSession.Run(captureStop); err != nil {
				log.Warn("capture stopped", "iface", ifaceName, "error", err)
			}
		}()
	}
	srv.OnIfaceSelect = startCapture

	stop := make(chan struct{})
	var wg sync.WaitGroup
	run := func(fn func(stop <-chan struct{})) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(stop)
		}()
	}
	run(func(s <-chan struct{}) { _ = smp.Run(s) })
	run(engine.Run)
	run(tracker.Run)

	if cfg.InitialIface != "" {
		startCapture(cfg.InitialIface)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: srv.Mux(cfg.ResourcePath),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()
	go srv.Run()

	log.Info("jittertrapd running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down jittertrapd")

	srv.Shutdown()
	close(stop)
	close(captureStop)
	capMu.Lock()
	if capSession != nil {
		capSession.Close()
	}
	capMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	wg.Wait()
	log.Info("jittertrapd stopped")
	return 0
}
