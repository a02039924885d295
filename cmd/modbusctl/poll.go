package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/commatea/modbus-engine/pkg/bridge"
	"github.com/commatea/modbus-engine/pkg/client"
	"github.com/commatea/modbus-engine/pkg/config"
	"github.com/commatea/modbus-engine/pkg/logger"
	"github.com/commatea/modbus-engine/pkg/modbus"
	"github.com/commatea/modbus-engine/pkg/transport/serial"
)

func newPollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the configured poll jobs until interrupted, optionally republishing to MQTT",
		Long: "poll connects to the configured serial device and, for each poll job in the " +
			"config file, periodically reads the configured registers/coils. When metrics are " +
			"enabled it also serves /metrics and /healthz; when mqtt is configured it republishes " +
			"every decoded response as JSON.",
		RunE: runPoll,
	}
	return cmd
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	proto, err := protocolFromConfig(cfg)
	if err != nil {
		return err
	}
	if len(cfg.Polls) == 0 {
		return fmt.Errorf("no poll jobs configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newSerialTransport(cfg)
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()
	if err := tr.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer tr.Disconnect(context.Background())

	var opsServer *http.Server
	if cfg.Metrics.Enabled {
		opsServer = startOpsServer(cfg.Metrics.Address, log)
		defer opsServer.Shutdown(context.Background())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("poll: shutdown signal received")
		cancel()
	}()

	if cfg.MQTT != nil {
		br := bridge.New(*cfg.MQTT, log)
		if err := br.Connect(ctx); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		defer br.Close()
		log.Info("poll: starting with MQTT republishing", "jobs", len(cfg.Polls))
		return br.Run(ctx, tr, proto, cfg.Device.SlaveID, cfg.Polls)
	}

	log.Info("poll: starting without MQTT republishing", "jobs", len(cfg.Polls))
	return runLocalPolls(ctx, tr, proto, cfg, log)
}

// runLocalPolls starts one Client per poll job (each Client enforces its
// own Busy rule independently) sharing the single serial transport, and
// prints every decoded response/error to stdout until ctx is cancelled.
func runLocalPolls(ctx context.Context, tr *serial.Transport, proto modbus.Protocol, cfg *config.Config, log *logger.Logger) error {
	var wg sync.WaitGroup
	for _, p := range cfg.Polls {
		p := p
		c := client.New(tr, proto, fmt.Sprintf("%s/%s", cfg.Device.Port, p.Name))
		req := modbus.ReadRequest{
			SlaveID:  cfg.Device.SlaveID,
			Function: modbus.FunctionCode(p.Function),
			Address:  p.Address,
			Quantity: p.Quantity,
		}
		c.StartMonitoring(ctx, req, p.Interval())

		wg.Add(1)
		go func(job config.PollConfig, cl *client.Client) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case resp, ok := <-cl.Responses():
					if !ok {
						return
					}
					fmt.Printf("[%s] ", job.Name)
					printResponse(resp)
				case err, ok := <-cl.Errors():
					if !ok {
						return
					}
					log.Error("poll job failed", "job", job.Name, "error", err)
				}
			}
		}(p, c)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// startOpsServer serves /metrics (Prometheus) and /healthz on addr in a
// background goroutine. The caller shuts it down via the returned server's
// Shutdown method.
func startOpsServer(addr string, log *logger.Logger) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}
	go func() {
		log.Info("poll: ops server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("poll: ops server error", "error", err)
		}
	}()
	return srv
}
