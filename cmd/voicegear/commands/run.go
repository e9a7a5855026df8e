package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitony/voicegear/pkg/audiopipe"
	"github.com/hitony/voicegear/pkg/cli"
	"github.com/hitony/voicegear/pkg/conversation"
	"github.com/hitony/voicegear/pkg/gateway"
	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/mempool"
	"github.com/hitony/voicegear/pkg/metrics"
	"github.com/hitony/voicegear/pkg/pipe"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the voice data plane",
	RunE:  runPlane,
}

var styles = cli.NewStyles(cli.DefaultTheme)

func runPlane(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Built-in server when none is configured.
	serverURL := cfg.Server.URL
	if serverURL == "" {
		lb, err := newLoopbackServer(log)
		if err != nil {
			return fmt.Errorf("loopback server: %w", err)
		}
		defer lb.Close()
		serverURL = lb.URL()
	}

	// The shared substrate: one arena, the bounded queues, the flag set.
	arena := mempool.MustNew(mempool.DefaultClasses())
	raw := pipe.NewQueue[gateway.RawMsg](48, pipe.WithRelease(gateway.RawMsg.Release))
	playback := pipe.NewQueue[media.Packet](24, pipe.WithRelease(media.Packet.Release))
	encoded := pipe.NewQueue[media.Packet](8, pipe.WithRelease(media.Packet.Release))
	cmds := pipe.NewQueue[audiopipe.Command](4)
	events := new(pipe.Flags)

	// SIGUSR1 stands in for the touch sensor on a development host:
	// kill -USR1 <pid> wakes the device without the wake word.
	touch := make(chan os.Signal, 1)
	signal.Notify(touch, syscall.SIGUSR1)
	defer signal.Stop(touch)
	go func() {
		for range touch {
			log.Info("touch wake")
			events.Set(audiopipe.EventTouchWake)
		}
	}()

	gwCfg := gateway.Config{URL: serverURL}
	if cfg.Server.Token != "" {
		gwCfg.Header = http.Header{"Authorization": []string{"Bearer " + cfg.Server.Token}}
	}
	client := gateway.NewClient(gwCfg, arena, raw, log)

	device := &simDevice{seed: 0x1234}
	frontend := newSimFrontend(cfg.Device.WakeWord)
	pipeline, err := audiopipe.New(cfg.pipelineConfig(), frontend, device, pcmCodec{}, arena,
		audiopipe.Links{Commands: cmds, Encoded: encoded, Playback: playback, Events: events}, log)
	if err != nil {
		return err
	}

	convCfg := conversation.DefaultConfig()
	convCfg.DeviceID = cfg.Device.ID
	convCfg.Firmware = cfg.Device.Firmware
	hooks := conversation.Hooks{
		Expression: func(expr string, d time.Duration) {
			log.Info("expression", "expr", expr, "for", d)
		},
		Transcript: func(text string) {
			fmt.Println(styles.Label.Render("heard:"), text)
		},
		OTA: func(version, url string) {
			log.Info("firmware offered", "version", version, "url", url)
		},
	}
	loop := conversation.New(convCfg, client, arena,
		conversation.Links{Raw: raw, Playback: playback, Encoded: encoded, Commands: cmds, Events: events},
		nil, hooks, log)

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		msrv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server", "err", err)
			}
		}()
		defer msrv.Close()
	}

	banner(cfg, serverURL)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := pipeline.Run(ctx); err != nil {
			log.Error("audio pipeline stopped", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			log.Error("conversation loop stopped", "err", err)
		}
	}()

	// Sample the lock-free counters into the exposition once a second.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info("shut down", "played_samples", device.playedSamples())
			return nil
		case <-ticker.C:
			ticks++
			if ticks%5 == 0 {
				fmt.Println(styles.StatusLine(loop.Snapshot()))
			}
			m.ObservePool(arena.Stats())
			m.ObservePipeline(pipeline.Stats())
			m.ObserveSession(loop.Snapshot())
			m.ObserveQueue("transport_raw", raw.Len(), raw.Dropped())
			m.ObserveQueue("playback", playback.Len(), playback.Dropped())
			m.ObserveQueue("encoded", encoded.Len(), encoded.Dropped())
			m.ObserveQueue("commands", cmds.Len(), cmds.Dropped())
		}
	}
}

func banner(cfg Config, serverURL string) {
	rows := [][2]string{
		{"device", cfg.Device.ID},
		{"server", serverURL},
		{"wake", cfg.Device.WakeWord},
	}
	if cfg.Metrics.Listen != "" {
		rows = append(rows, [2]string{"metrics", "http://" + cfg.Metrics.Listen + "/metrics"})
	}
	fmt.Print(styles.Banner("voicegear "+version, rows))
}
