// Command evencrop runs the irrigation brain: it turns momentary switch
// presses into planned valve cycles, drives the valves with timed or
// flow-metered delivery, and publishes events to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/evencrop/brain/internal/actuate"
	"github.com/evencrop/brain/internal/config"
	"github.com/evencrop/brain/internal/gpio"
	"github.com/evencrop/brain/internal/logic"
	"github.com/evencrop/brain/internal/mqtt"
	"github.com/evencrop/brain/internal/state"
	"github.com/evencrop/brain/internal/status"
	"github.com/evencrop/brain/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (empty for defaults)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP status address (overrides config)")
	statePath := flag.String("state", "", "state file path (overrides config)")
	heartbeat := flag.Duration("heartbeat", -1, "heartbeat interval, 0 disables (overrides config when >= 0)")
	mock := flag.Bool("mock", false, "use fake hardware (development off the Pi)")
	printState := flag.Bool("print-state", false, "print persisted state and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *broker != "" {
		cfg.Broker = *broker
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *heartbeat >= 0 {
		cfg.Heartbeat = *heartbeat
	}

	if err := run(cfg, *mock, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, mock, printState bool) error {
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	if printState {
		data, err := os.ReadFile(store.Path())
		if err != nil {
			return fmt.Errorf("read state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	var hw gpio.Hardware
	if mock {
		hw = gpio.NewFakeHardware()
		log.Printf("using fake hardware")
	} else {
		hw, err = gpio.NewRealHardware(gpio.Pins{
			Chip:     cfg.Hardware.Chip,
			Units:    cfg.Hardware.Units,
			Buzzer:   cfg.Hardware.Buzzer,
			Switches: cfg.Hardware.Switches,
			Flow:     cfg.Hardware.Flow,
			Debounce: cfg.Timing.Debounce,
		})
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
	}
	defer hw.Close()

	publisher, err := mqtt.NewRealPublisher(cfg.Broker)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		DelayTickMs: cfg.Timing.DelayTick.Milliseconds(),
		DebounceMs:  cfg.Timing.Debounce.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan doneEvent, 2*logic.MaxUnits)
	manager := actuate.New(hw, actuate.Config{
		FlowPoll:           cfg.Timing.FlowPoll,
		CeilingMult:        cfg.Timing.CeilingMult,
		WorstPulseInterval: cfg.Timing.WorstPulseInterval,
		Tramlined:          store.Tramlined,
		Mutes:              store.BuzzerMutes,
		OnDone: func(unit int, outcome actuate.Outcome) {
			select {
			case done <- doneEvent{unit: unit, outcome: outcome}:
			default:
				log.Printf("unit %d: done event dropped (%s)", unit, outcome)
			}
		},
	})

	d := &daemon{
		cfg:        cfg,
		store:      store,
		hw:         hw,
		manager:    manager,
		publisher:  publisher,
		connStat:   publisher,
		tracker:    tracker,
		presses:    logic.NewTracker(cfg.Timing.PressWindow, cfg.Timing.PressCap, cfg.Timing.Debounce),
		done:       done,
		lastTarget: make(map[int]int),
		ctx:        ctx,
		now:        time.Now,
	}
	d.seedUnits()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, d.tramline)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: broker=%s state=%s heartbeat=%v", cfg.Broker, store.Path(), cfg.Heartbeat)

	delayTick := time.NewTicker(cfg.Timing.DelayTick)
	defer delayTick.Stop()

	var hb <-chan time.Time
	if cfg.Heartbeat > 0 {
		t := time.NewTicker(cfg.Heartbeat)
		defer t.Stop()
		hb = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.loop(sigCh, delayTick.C, hb)
}

// doneEvent crosses from task goroutines into the daemon loop.
type doneEvent struct {
	unit    int
	outcome actuate.Outcome
}

// daemon owns the single-writer control loop. The press tracker and
// counters are touched only from loop's goroutine; everything else is
// internally synchronized.
type daemon struct {
	cfg        config.Config
	store      *state.Store
	hw         gpio.Hardware
	manager    *actuate.Manager
	publisher  mqtt.Publisher
	connStat   mqtt.ConnectionStatus
	tracker    *status.Tracker
	presses    *logic.Tracker
	done       chan doneEvent
	counts     status.Counters
	lastTarget map[int]int
	ctx        context.Context
	now        func() time.Time
}

// seedUnits populates the status tracker from persisted state so the web
// page shows every configured unit before the first cycle.
func (d *daemon) seedUnits() {
	snap := d.store.Snapshot()
	for _, u := range snap.Units {
		d.tracker.SetUnit(u.ID, status.UnitStatus{
			State:     "IDLE",
			Tramlined: snap.Tramline[u.ID],
		})
	}
	d.tracker.UpdatePlan(snap.AutoDelay.CurrentMs, snap.TargetMl, string(snap.Pattern), string(snap.DeliveryMode))
}

func (d *daemon) loop(sig <-chan os.Signal, delayTick, heartbeat <-chan time.Time) error {
	for {
		select {
		case s := <-sig:
			return d.shutdown(s)

		case p := <-d.hw.Presses():
			d.handlePress(p)

		case <-delayTick:
			d.handleDelayTick(d.now())

		case <-heartbeat:
			d.handleHeartbeat()

		case ev := <-d.done:
			d.handleDone(ev)
		}
	}
}

func (d *daemon) handlePress(p gpio.Press) {
	if !d.presses.Press(p.Switch, p.Time) {
		return
	}
	d.counts.Presses++

	snap := d.store.Snapshot()
	entries := logic.PlanCycle(snap, p.Time.UnixMilli())
	n := d.manager.Schedule(d.ctx, entries)
	if n > 0 {
		d.counts.Cycles++
	}
	d.counts.Conflicts = d.manager.Conflicts()
	log.Printf("press %s: scheduled %d/%d units", p.Switch, n, len(entries))

	for _, e := range entries {
		d.lastTarget[e.UnitID] = e.TargetMl
		d.tracker.SetUnit(e.UnitID, status.UnitStatus{
			State:     strings.ToUpper(d.manager.State(e.UnitID).String()),
			Tramlined: snap.Tramline[e.UnitID],
		})
	}
	d.tracker.UpdatePlan(snap.AutoDelay.CurrentMs, snap.TargetMl, string(snap.Pattern), string(snap.DeliveryMode))
	d.tracker.SetCounts(d.counts)

	if err := d.publisher.PublishCycle(entries, p.Time); err != nil {
		log.Printf("cycle publish error: %v", err)
	}

	if d.cfg.Timing.CycleBeep > 0 {
		go d.manager.Beep(d.ctx, d.cfg.Timing.CycleBeep, false)
	}
}

func (d *daemon) handleDelayTick(now time.Time) {
	snap := d.store.Snapshot()
	ms, changed := logic.EstimateDelay(snap.AutoDelay, d.presses.History(now), now)
	if changed {
		if _, err := d.store.SetCurrentDelay(ms); err != nil {
			log.Printf("persist delay error: %v", err)
		}
		if err := d.publisher.PublishDelay(ms, now); err != nil {
			log.Printf("delay publish error: %v", err)
		}
		log.Printf("auto-delay: %dms", ms)
	}

	d.tracker.UpdatePlan(ms, snap.TargetMl, string(snap.Pattern), string(snap.DeliveryMode))
	if d.connStat != nil {
		d.tracker.SetMQTTConnected(d.connStat.IsConnected())
	}
}

func (d *daemon) handleDone(ev doneEvent) {
	now := d.now()
	if err := d.publisher.PublishActuation(ev.unit, string(ev.outcome), now); err != nil {
		log.Printf("actuation publish error: %v", err)
	}

	us := status.UnitStatus{
		State:       "IDLE",
		LastOutcome: string(ev.outcome),
		Tramlined:   d.store.Tramlined(ev.unit),
	}
	switch ev.outcome {
	case actuate.OutcomeCompleted:
		ml := d.lastTarget[ev.unit]
		us.DeliveredMl = ml
		if err := d.store.SetUnitStatus(ev.unit, "OK", &ml); err != nil {
			log.Printf("persist unit status error: %v", err)
		}
	case actuate.OutcomeFault, actuate.OutcomeCeiling:
		d.counts.Faults++
		if err := d.store.SetUnitStatus(ev.unit, "FAULT", nil); err != nil {
			log.Printf("persist unit status error: %v", err)
		}
		d.store.LogEvent(now, fmt.Sprintf("unit %d: %s", ev.unit, ev.outcome))
		log.Printf("unit %d: %s", ev.unit, ev.outcome)
	}
	d.tracker.SetUnit(ev.unit, us)
	d.tracker.SetCounts(d.counts)
}

func (d *daemon) handleHeartbeat() {
	if d.connStat != nil {
		d.tracker.SetMQTTConnected(d.connStat.IsConnected())
	}
	d.counts.Conflicts = d.manager.Conflicts()
	d.tracker.SetCounts(d.counts)

	snap := d.tracker.Snapshot()
	log.Printf("heartbeat: uptime=%v presses=%d cycles=%d conflicts=%d faults=%d",
		snap.Uptime().Truncate(time.Second), d.counts.Presses, d.counts.Cycles, d.counts.Conflicts, d.counts.Faults)

	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}

func (d *daemon) shutdown(s os.Signal) error {
	log.Printf("received %v, shutting down", s)
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}

	// Release every valve before announcing the stop.
	d.manager.CancelAll()

	if d.connStat != nil {
		d.tracker.SetMQTTConnected(d.connStat.IsConnected())
	}
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
	return nil
}

// tramline applies a web toggle: persist, then cancel any in-flight
// actuation when a unit is suppressed mid-cycle.
func (d *daemon) tramline(unit int, off bool) error {
	changed, err := d.store.SetTramline(unit, off)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if off {
		d.manager.Cancel(unit)
	}
	d.tracker.SetUnitTramlined(unit, off)

	verb := "restored"
	if off {
		verb = "suppressed"
	}
	log.Printf("tramline: unit %d %s", unit, verb)
	d.store.LogEvent(d.now(), fmt.Sprintf("tramline: unit %d %s", unit, verb))
	return nil
}
