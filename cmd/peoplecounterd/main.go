// Command peoplecounterd is the composition root for the people-counting
// pipeline: it loads the channel configuration, wires the shared KV store,
// identity manager and event sink, and starts one Worker per configured
// channel alongside the metrics and dashboard HTTP servers.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/peoplecounter/internal/config"
	"github.com/technosupport/peoplecounter/internal/dashboardfeed"
	"github.com/technosupport/peoplecounter/internal/eventsink"
	"github.com/technosupport/peoplecounter/internal/identity"
	"github.com/technosupport/peoplecounter/internal/kv"
	"github.com/technosupport/peoplecounter/internal/metrics"
	"github.com/technosupport/peoplecounter/internal/peoplecounter"
	"github.com/technosupport/peoplecounter/internal/pipeline"
	"github.com/technosupport/peoplecounter/internal/staffvote"
	"github.com/technosupport/peoplecounter/internal/tokens"
	"github.com/technosupport/peoplecounter/internal/zonecounter"
)

const serviceName = "peoplecounterd"

func main() {
	configPath := os.Getenv("COUNTER_CONFIG_PATH")
	if configPath == "" {
		configPath = "config/channels.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("postgres ping error: %v", err)
	}

	store := kv.NewRedisStore(cfg.KVAddr, cfg.KVPassword, cfg.KVDB)
	defer store.Close()

	identityMgr := identity.New(store, identity.WithTimezone(cfg.Location()))

	sinkOpts := []eventsink.Option{
		eventsink.WithFlushErrorHook(func(err error) {
			metrics.RecordSinkError()
			log.Printf("[ERROR] peoplecounterd: event sink flush failed: %v", err)
		}),
		eventsink.WithOverflowHook(func() {
			metrics.RecordEventsLost(1)
		}),
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			log.Printf("[WARN] peoplecounterd: nats connect failed, fan-out disabled: %v", err)
		} else {
			defer nc.Close()
			subject := cfg.NATSSubject
			if subject == "" {
				subject = "counter.events"
			}
			sinkOpts = append(sinkOpts, eventsink.WithPublisher(eventsink.NewNATSPublisher(nc, subject, 3)))
		}
	}
	sink := eventsink.New(eventsink.NewPostgresWriter(db), sinkOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.RunFlushLoop(ctx)

	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
	}
	hub := dashboardfeed.NewHub(tokens.NewManager(jwtKey))

	watcher := config.NewWatcher(configPath, func(*config.Config) {
		log.Printf("[INFO] peoplecounterd: channel configuration reloaded from %s", configPath)
	})
	go watcher.Start(ctx)

	workers := make([]*pipeline.Worker, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		w, err := buildWorker(ch, identityMgr, sink)
		if err != nil {
			log.Fatalf("channel %d: %v", ch.ChannelID, err)
		}
		workers = append(workers, w)
		go runWorker(ctx, w)
	}

	go publishSnapshots(ctx, workers, hub)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws/dashboard", hub.ServeWS)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("peoplecounterd listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Print("peoplecounterd shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] peoplecounterd: http shutdown: %v", err)
	}
	sink.Flush(shutdownCtx)
}

func buildWorker(ch config.ChannelConfig, identityMgr *identity.Manager, sink *eventsink.Sink) (*pipeline.Worker, error) {
	zones := make([]zonecounter.Zone, 0, len(ch.Zones))
	for _, z := range ch.Zones {
		zones = append(zones, toZone(z))
	}

	counter, err := peoplecounter.New(ch.ChannelID, zones, identityMgr)
	if err != nil {
		return nil, fmt.Errorf("build zone counter: %w", err)
	}

	votes := staffvote.New(
		staffvote.WithVoteThreshold(ch.Thresholds.StaffVoteThreshold),
		staffvote.WithVoteWindow(ch.Thresholds.StaffVoteWindow),
	)

	return &pipeline.Worker{
		ChannelID:       ch.ChannelID,
		ConfidenceFloor: ch.Thresholds.DetectionConfidenceFloor,
		ReID:            ch.Features.ReID,
		StaffFilter:     ch.Features.StaffFilter,
		Counter:         counter,
		Votes:           votes,
		Sink:            sink,
	}, nil
}

func toZone(z config.ZoneConfig) zonecounter.Zone {
	zone := zonecounter.Zone{
		ZoneID:         z.ZoneID,
		Name:           z.Name,
		Type:           zonecounter.ZoneType(z.Type),
		CoordinateType: zonecounter.CoordinateType(z.CoordinateType),
		Side:           zonecounter.LineSide(z.Side),
		Direction:      zonecounter.Direction(z.Direction),
		EnterThreshold: z.EnterThreshold,
		ExitThreshold:  z.ExitThreshold,
		Active:         z.Active,
	}
	for _, p := range z.Points {
		zone.Points = append(zone.Points, zonecounter.Point{X: p.X, Y: p.Y})
	}
	if z.Start != nil {
		zone.Start = zonecounter.Point{X: z.Start.X, Y: z.Start.Y}
	}
	if z.End != nil {
		zone.End = zonecounter.Point{X: z.End.X, Y: z.End.Y}
	}
	return zone
}

// runWorker drives one channel's Worker for the process lifetime,
// restarting it on error with a short backoff rather than letting one
// flaky camera take the whole daemon down.
func runWorker(ctx context.Context, w *pipeline.Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := w.Run(ctx); err != nil {
			log.Printf("[ERROR] peoplecounterd: channel %d worker exited: %v", w.ChannelID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		return
	}
}

// publishSnapshots polls each worker's counter on a fixed cadence and
// pushes the aggregated per-zone counts to every connected dashboard
// client.
func publishSnapshots(ctx context.Context, workers []*pipeline.Worker, hub *dashboardfeed.Hub) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var snap dashboardfeed.Snapshot
			for _, w := range workers {
				for zoneID, counts := range w.Counter.Counts() {
					snap.Zones = append(snap.Zones, dashboardfeed.ZoneSnapshot{
						ChannelID: w.ChannelID,
						ZoneID:    zoneID,
						Enter:     counts.Enter,
						Exit:      counts.Exit,
						Total:     counts.Total,
						Current:   counts.Current,
					})
				}
			}
			hub.Broadcast(snap)
		}
	}
}
