package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/soypat/adin2111"
	"github.com/soypat/adin2111/sim"
	"github.com/soypat/adin2111/sim/sqlitetrace"
	"github.com/soypat/adin2111/telemetry"
	"github.com/soypat/lneto/ethernet"
	"github.com/spf13/cobra"
)

type simConfig struct {
	Frames   int
	Interval time.Duration
	Mode     adin2111.ForwardingMode
	// FlapPort has its link dropped and restored halfway through the run. -1 disables.
	FlapPort int
	Trace    string
	Redis    string
	MQTT     string
	Logger   *slog.Logger
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the driver against the device model with synthetic traffic.",
	Long: `sim probes a modeled ADIN2111, injects traffic on both ports, submits
frames from the host and prints driver and hardware counters. Link events are
published to redis and MQTT brokers when configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var cfg simConfig
		cfg.Frames, _ = flags.GetInt("frames")
		cfg.Interval, _ = flags.GetDuration("interval")
		cfg.FlapPort, _ = flags.GetInt("flap")
		cfg.Trace, _ = flags.GetString("trace")
		cfg.Redis, _ = flags.GetString("redis")
		cfg.MQTT, _ = flags.GetString("mqtt")
		mode, _ := flags.GetString("mode")
		switch mode {
		case "switch":
			cfg.Mode = adin2111.Switch
		case "host":
			cfg.Mode = adin2111.HostRouted
		default:
			return fmt.Errorf("invalid mode %q, want switch or host", mode)
		}
		cfg.Logger = logger
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runSim(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(simCmd)
	flags := simCmd.Flags()
	flags.Int("frames", 64, "Number of frames injected and submitted.")
	flags.Duration("interval", time.Millisecond, "Delay between frames.")
	flags.String("mode", "switch", "Forwarding mode: switch or host.")
	flags.Int("flap", 1, "Port whose link is flapped mid run. -1 disables.")
	flags.String("trace", "", "Record bus transactions to this sqlite3 file. \"auto\" generates a name.")
	flags.String("redis", "", "Publish link events to the redis server at this address.")
	flags.String("mqtt", "", "Publish link events to the MQTT broker at this address.")
}

var (
	hostAddr = [6]byte{0x02, 0xad, 0x11, 0x00, 0x00, 0x01}
	// One station behind each port.
	stations = [adin2111.NumPorts][6]byte{
		{0x02, 0x00, 0x00, 0x00, 0x01, 0x01},
		{0x02, 0x00, 0x00, 0x00, 0x02, 0x01},
	}
)

func runSim(ctx context.Context, cfg simConfig, out io.Writer) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	mopts := []sim.Option{sim.WithLogger(cfg.Logger), sim.WithResetDuration(5 * time.Millisecond)}
	if cfg.Trace != "" {
		path := cfg.Trace
		if path == "auto" {
			path = ""
		}
		tw, err := sqlitetrace.Open(sqlitetrace.Config{Path: path, Logger: cfg.Logger})
		if err != nil {
			return err
		}
		defer tw.Close()
		fmt.Fprintf(out, "tracing to %s session %s\n", tw.Path(), tw.Session())
		mopts = append(mopts, sim.WithTracer(tw))
	}
	m := sim.New(sim.ADIN2111{}, mopts...)
	m.SetLink(0, true)
	m.SetLink(1, true)

	var pubs telemetry.Multi
	if cfg.Redis != "" {
		r, err := telemetry.DialRedis("tcp", cfg.Redis, telemetry.RedisConfig{})
		if err != nil {
			return err
		}
		pubs = append(pubs, r)
	}
	if cfg.MQTT != "" {
		mq, err := telemetry.DialMQTT(ctx, cfg.MQTT, telemetry.MQTTConfig{})
		if err != nil {
			pubs.Close()
			return err
		}
		pubs = append(pubs, mq)
	}
	var links atomic.Int64
	onLink := func(port int, up bool) { links.Add(1) }
	fwdDone := make(chan struct{})
	fwdCtx, stopFwd := context.WithCancel(context.Background())
	if len(pubs) > 0 {
		fwd := telemetry.NewForwarder(pubs, "adin2111", 64, cfg.Logger)
		onLink = func(port int, up bool) {
			links.Add(1)
			fwd.OnLinkChange(port, up)
		}
		go func() {
			fwd.Run(fwdCtx)
			pubs.Close()
			close(fwdDone)
		}()
	} else {
		close(fwdDone)
	}
	defer func() {
		stopFwd()
		<-fwdDone
	}()

	var received atomic.Int64
	opts := adin2111.DefaultOptions()
	opts.Forwarding = cfg.Mode
	opts.HardwareAddr = hostAddr
	d := adin2111.New(m)
	err := d.Probe(ctx, adin2111.Config{
		Options:         &opts,
		Logger:          cfg.Logger,
		Notifier:        m,
		ResetPin:        m.ResetPin,
		SettleTime:      10 * time.Millisecond,
		OnFrameReceived: func(port int, frame []byte) { received.Add(1) },
		OnLinkChange:    onLink,
	})
	if err != nil {
		return err
	}

	var rejected, dropped int
	for i := 0; i < cfg.Frames && ctx.Err() == nil; i++ {
		port := i % adin2111.NumPorts
		if cfg.FlapPort >= 0 && i == cfg.Frames/2 {
			m.SetLink(cfg.FlapPort, false)
		} else if cfg.FlapPort >= 0 && i == cfg.Frames/2+2 {
			m.SetLink(cfg.FlapPort, true)
		}
		dst := hostAddr
		if i%4 == 3 {
			dst = ethernet.BroadcastAddr()
		}
		if !m.Inject(port, simFrame(dst, stations[port], i)) {
			rejected++
		}
		err = d.Submit(adin2111.PortAuto, simFrame(stations[1-port], hostAddr, i))
		if err != nil {
			dropped++
			cfg.Logger.Debug("sim:submit", slog.Int("seq", i), slog.String("err", err.Error()))
		}
		time.Sleep(cfg.Interval)
	}
	// Let the dispatcher flush what is queued.
	time.Sleep(10 * cfg.Interval)
	stats := d.Stats()
	var counters [adin2111.NumPorts]adin2111.Counters
	for port := range counters {
		counters[port], err = d.ReadCounters(port)
		if err != nil {
			return err
		}
	}
	if err = d.Remove(); err != nil {
		return err
	}

	fmt.Fprintf(out, "host %s mode %s: %d frames received, %d link events, %d cycles\n",
		ethernet.AppendAddr(nil, hostAddr), cfg.Mode, received.Load(), links.Load(), stats.Cycles)
	fmt.Fprintf(out, "%d injected frames rejected, %d submissions refused\n", rejected, dropped)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "port\tstation\trx pkts\trx bytes\ttx pkts\ttx bytes\ttx dropped\thw rx\thw tx\thw rx drop\thw tx err")
	for port, ps := range stats.Ports {
		c := counters[port]
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n", port, ethernet.AppendAddr(nil, stations[port]),
			ps.RxPackets, ps.RxBytes, ps.TxPackets, ps.TxBytes, ps.TxDropped,
			c.RxFrames, c.TxFrames, c.RxDropped, c.TxErrors)
	}
	return tw.Flush()
}

// simFrame returns an IPv4 typed frame whose payload carries seq.
func simFrame(dst, src [6]byte, seq int) []byte {
	frame := make([]byte, 64)
	efrm, _ := ethernet.NewFrame(frame)
	*efrm.DestinationHardwareAddr() = dst
	*efrm.SourceHardwareAddr() = src
	efrm.SetEtherType(ethernet.TypeIPv4)
	binary.BigEndian.PutUint32(frame[14:], uint32(seq))
	return frame
}
