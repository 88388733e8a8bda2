// Package agent is the host-side orchestrator. It owns the link to the
// controller and a mirror of the controller's framebuffer, and serialises
// every command from the WebSocket server, MQTT, the scheduler and Lua
// patterns onto the link.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ledstrip-controller/internal/ble"
	"ledstrip-controller/internal/config"
	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/dispatch"
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/link"
	"ledstrip-controller/internal/lua"
	"ledstrip-controller/internal/mqtt"
	"ledstrip-controller/internal/profile"
	"ledstrip-controller/internal/protocol"
	"ledstrip-controller/internal/scheduler"
	"ledstrip-controller/internal/serial"
	"ledstrip-controller/internal/server"
)

// ErrNotConnected is returned for strip commands while no controller is
// linked.
var ErrNotConnected = errors.New("controller not connected")

// Dialer opens the byte transport to the controller.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// TransportDialer returns the dialer for the configured transport.
func TransportDialer(cfg config.LinkConfig) Dialer {
	if cfg.Transport == "ble" {
		return func(ctx context.Context) (io.ReadWriteCloser, error) {
			return ble.Dial(ctx, ble.Config{
				DeviceNames:    cfg.BLE.DeviceNames,
				ScanTimeout:    cfg.BLE.ScanTimeout,
				ConnectTimeout: cfg.BLE.ConnectTimeout,
				ChunkSize:      cfg.BLE.ChunkSize,
				Rate:           cfg.RateLimit,
				Burst:          cfg.RateBurst,
			})
		}
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		return serial.Open(serial.PortConfig{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout})
	}
}

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup

	state          *core.State
	eventBus       *core.EventBus
	commandChannel core.CommandChannel

	profile  *profile.Profile
	dial     Dialer
	linkMu   sync.RWMutex
	link     *link.Link
	mirrorMu sync.RWMutex
	mirror   *dispatch.Dispatcher

	luaEngine  *lua.Engine
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client
}

// NewAgent wires the agent for cfg. A nil dial uses the configured
// transport.
func NewAgent(cfg *config.Config, dial Dialer) (*Agent, error) {
	p, err := cfg.Device.BuildProfile()
	if err != nil {
		return nil, err
	}

	// The mirror runs the controller's dispatcher with the controller's
	// options, so it accepts and rejects exactly what the controller does.
	opts := append(cfg.Device.DispatchOptions(), dispatch.WithDiagnostics(dispatch.DiagnosticsFunc(func(string) {})))
	mirror, err := dispatch.New(p, framebuffer.New(p.Addressable()), opts...)
	if err != nil {
		return nil, err
	}

	if dial == nil {
		dial = TransportDialer(cfg.Link)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		state:          core.NewState(),
		eventBus:       core.NewEventBus(),
		commandChannel: make(core.CommandChannel, 20),
		profile:        p,
		dial:           dial,
		mirror:         mirror,
	}

	a.luaEngine = lua.NewEngine(a.commandChannel, p.Addressable(), cfg.PatternsDir, a.eventBus)
	a.scheduler = scheduler.NewScheduler(a.commandChannel, cfg.SchedulesFile)

	a.server = server.NewServer(cfg.Server, a.commandChannel, a.eventBus, server.Sources{
		Profile:   p,
		State:     a.state.Clone,
		Frame:     a.Frame,
		Patterns:  a.luaEngine.GetPatternList,
		Schedules: a.scheduler.GetAll,
	})

	a.mqttClient = mqtt.NewClient(cfg.MQTT, a.commandChannel, a.eventBus, a.luaEngine)

	return a, nil
}

// Commands is the channel every ingress feeds.
func (a *Agent) Commands() core.CommandChannel { return a.commandChannel }

// Events is the agent's event bus.
func (a *Agent) Events() *core.EventBus { return a.eventBus }

// State returns a snapshot of the agent state.
func (a *Agent) State() core.State { return a.state.Clone() }

// Frame returns a copy of the mirrored framebuffer.
func (a *Agent) Frame() []framebuffer.Color {
	a.mirrorMu.RLock()
	defer a.mirrorMu.RUnlock()
	return a.mirror.Framebuffer().Snapshot()
}

// Run starts every service and the orchestration loop. It returns after
// Shutdown.
func (a *Agent) Run() {
	go a.listenEvents()

	if a.mqttClient != nil {
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				log.Error().Str("component", "agent").Err(err).Msg("MQTT setup error")
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.maintainLink()
	}()

	a.scheduler.Start()

	log.Info().Str("component", "agent").Str("port", a.config.Server.Port).Msg("Agent serving HTTP")
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("component", "agent").Err(err).Msg("Server error")
		}
	}()

	a.loop()
}

// loop is the orchestrator: commands are handled one at a time.
func (a *Agent) loop() {
	log.Info().Str("component", "agent").Str("profile", a.profile.String()).Msg("Agent orchestrator ready")
	for {
		select {
		case <-a.ctx.Done():
			log.Info().Str("component", "agent").Msg("Agent orchestrator shutting down")
			return
		case cmd := <-a.commandChannel:
			cmd.Finish(a.handleCommand(cmd))
		}
	}
}

// maintainLink dials the controller, handshakes and keeps the link until
// it fails, then retries after the configured delay.
func (a *Agent) maintainLink() {
	logger := log.With().Str("component", "link").Logger()

	for a.ctx.Err() == nil {
		l, err := a.connect()
		if err != nil {
			logger.Warn().Err(err).Dur("retry", a.config.Link.RetryDelay).Msg("Controller connection failed")
			a.sleep(a.config.Link.RetryDelay)
			continue
		}

		// Resync before publishing the link so no command can slip in
		// between the snapshot and the LA message.
		if err := a.resync(l); err != nil {
			logger.Warn().Err(err).Msg("Resync after connect failed")
		}

		logger.Info().Str("device", l.Name()).Msg("Controller connected")
		a.setLink(l)

		select {
		case <-l.Done():
			logger.Warn().Err(l.Err()).Msg("Controller link lost")
		case <-a.ctx.Done():
		}

		a.setLink(nil)
		l.Close()
		a.sleep(a.config.Link.RetryDelay)
	}
}

func (a *Agent) connect() (*link.Link, error) {
	rwc, err := a.dial(a.ctx)
	if err != nil {
		return nil, err
	}

	l := link.New(rwc, link.Config{
		HostName:     a.config.Link.HostName,
		AckTimeout:   a.config.Link.AckTimeout,
		HelloTimeout: a.config.Link.HelloTimeout,
		Rate:         a.config.Link.RateLimit,
		Burst:        a.config.Link.RateBurst,
		OnDebug:      a.onDeviceLog,
	})

	if _, err := l.Handshake(a.ctx); err != nil {
		l.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return l, nil
}

func (a *Agent) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-a.ctx.Done():
	}
}

func (a *Agent) setLink(l *link.Link) {
	a.linkMu.Lock()
	a.link = l
	a.linkMu.Unlock()

	status := core.LinkStatus{}
	if l != nil {
		status = core.LinkStatus{Connected: true, Device: l.Name()}
	}
	a.state.SetConnection(status.Connected, status.Device)
	a.eventBus.Publish(core.Event{Type: core.LinkStatusEvent, Payload: status})
}

func (a *Agent) currentLink() *link.Link {
	a.linkMu.RLock()
	defer a.linkMu.RUnlock()
	return a.link
}

// resync pushes the mirror to a freshly connected controller, which may
// have restarted with a black framebuffer.
func (a *Agent) resync(l *link.Link) error {
	msg, err := protocol.BuildSetAll(a.Frame())
	if err != nil {
		return err
	}
	for _, m := range [][]byte{msg, protocol.BuildShow()} {
		if _, err := l.Send(a.ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) onDeviceLog(line string) {
	log.Debug().Str("component", "device").Msg(line)
	a.eventBus.Publish(core.Event{Type: core.DeviceLogEvent, Payload: line})
}

func (a *Agent) listenEvents() {
	sub := a.eventBus.Subscribe(core.PatternChangedEvent)
	defer a.eventBus.Unsubscribe(sub, core.PatternChangedEvent)

	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-sub:
			if pattern, ok := event.Payload.(string); ok {
				a.state.SetRunningPattern(pattern)
			}
		}
	}
}

// handleCommand executes one command and returns its outcome.
func (a *Agent) handleCommand(cmd core.Command) error {
	logger := log.With().Str("component", "agent").Str("command", string(cmd.Type)).Str("source", cmd.Source).Logger()
	logger.Debug().Interface("payload", cmd.Payload).Msg("Handling command")

	var err error
	if isStripCommand(cmd.Type) {
		err = a.sendStrip(cmd)
	} else {
		err = a.handleHostCommand(cmd)
	}

	if err != nil && cmd.Source != "lua" {
		logger.Warn().Err(err).Msg("Command failed")
		if cmd.Source == "ws" {
			a.server.Hub.Broadcast(server.NewMessage(server.MsgError, map[string]string{
				"command": string(cmd.Type),
				"error":   err.Error(),
			}))
		}
	}
	return err
}

// sendStrip sends the command's messages in order, stopping at the first
// failure. Each acknowledged message is applied to the mirror.
func (a *Agent) sendStrip(cmd core.Command) error {
	msgs, err := buildMessages(cmd, a.profile.Addressable())
	if err != nil {
		return err
	}

	l := a.currentLink()
	if l == nil {
		return ErrNotConnected
	}

	var cmdErr error
	for _, msg := range msgs {
		ack, err := l.Send(a.ctx, msg)
		a.state.RecordAck(ack, err)

		info := core.AckInfo{Opcode: protocol.Tag(msg), Length: ack.Length, Checksum: ack.Checksum}
		if err != nil {
			info.Error = err.Error()
			a.eventBus.Publish(core.Event{Type: core.AckEvent, Payload: info})
			return err
		}

		res := a.apply(msg)
		if res.Err != nil {
			info.Error = res.Err.Error()
			if cmdErr == nil {
				cmdErr = res.Err
			}
		}
		a.eventBus.Publish(core.Event{Type: core.AckEvent, Payload: info})

		if res.Refresh {
			a.eventBus.Publish(core.Event{Type: core.FrameShownEvent, Payload: a.frameInfo()})
		}
	}
	return cmdErr
}

func (a *Agent) apply(msg []byte) dispatch.Result {
	a.mirrorMu.Lock()
	defer a.mirrorMu.Unlock()
	return a.mirror.Dispatch(msg)
}

func (a *Agent) frameInfo() core.FrameInfo {
	pixels := a.Frame()
	hex := make([]string, len(pixels))
	for i, c := range pixels {
		hex[i] = c.Hex()
	}
	return core.FrameInfo{Seq: a.state.RecordFrame(), Pixels: hex}
}

func (a *Agent) handleHostCommand(cmd core.Command) error {
	switch cmd.Type {
	case core.CmdHandshake:
		l := a.currentLink()
		if l == nil {
			return ErrNotConnected
		}
		name, err := l.Handshake(a.ctx)
		if err != nil {
			return err
		}
		a.setLink(l)
		log.Info().Str("component", "agent").Str("device", name).Msg("Handshake renewed")

	case core.CmdRunPattern:
		name, err := cmd.String("name")
		if err != nil {
			return err
		}
		return a.luaEngine.RunPattern(name)

	case core.CmdStopPattern:
		a.luaEngine.StopCurrentPattern()

	case core.CmdExecuteLua:
		code, err := cmd.String("code")
		if err != nil {
			return err
		}
		a.luaEngine.ExecuteString(code)

	case core.CmdAddSchedule:
		spec, err := cmd.String("spec")
		if err != nil {
			return err
		}
		command, err := cmd.String("command")
		if err != nil {
			return err
		}
		if _, err := a.scheduler.Add(spec, command); err != nil {
			return err
		}
		a.server.Hub.Broadcast(server.NewMessage(server.MsgScheduleList, a.scheduler.GetAll()))

	case core.CmdRemoveSchedule:
		id, err := scheduleID(cmd.Payload["id"])
		if err != nil {
			return err
		}
		a.scheduler.Remove(id)
		a.server.Hub.Broadcast(server.NewMessage(server.MsgScheduleList, a.scheduler.GetAll()))

	case core.CmdGetPatternCode:
		name, err := cmd.String("name")
		if err != nil {
			return err
		}
		content, err := a.luaEngine.GetPatternCode(name)
		if err != nil {
			return err
		}
		a.server.Hub.Broadcast(server.NewMessage(server.MsgPatternCode, map[string]string{"name": name, "code": content}))

	case core.CmdSavePatternCode:
		name, err := cmd.String("name")
		if err != nil {
			return err
		}
		code, err := cmd.String("code")
		if err != nil {
			return err
		}
		if err := a.luaEngine.SavePatternCode(name, code); err != nil {
			return err
		}
		a.broadcastPatterns()

	case core.CmdDeletePattern:
		name, err := cmd.String("name")
		if err != nil {
			return err
		}
		if err := a.luaEngine.DeletePattern(name); err != nil {
			return err
		}
		a.broadcastPatterns()

	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
	return nil
}

func (a *Agent) broadcastPatterns() {
	patterns, err := a.luaEngine.GetPatternList()
	if err != nil {
		log.Warn().Str("component", "agent").Err(err).Msg("Listing patterns failed")
		return
	}
	a.server.Hub.Broadcast(server.NewMessage(server.MsgPatternList, patterns))
}

// scheduleID accepts the id as a JSON number or a string.
func scheduleID(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		return strconv.Atoi(s)
	}
	return core.ToInt(v, "id")
}

// Shutdown stops every service and waits for the link to close.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		log.Warn().Str("component", "agent").Err(err).Msg("Server shutdown")
	}

	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	a.cancel()
	a.wg.Wait()
	a.luaEngine.Close()
}
