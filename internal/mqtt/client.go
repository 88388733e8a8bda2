// Package mqtt bridges an MQTT broker to the agent: command topics become
// core commands and bus events are published as state topics.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"ledstrip-controller/internal/config"
	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/framebuffer"
)

// PatternLister supplies the effect list for Home Assistant discovery.
type PatternLister interface {
	GetPatternList() ([]string, error)
}

// light is the whole-strip colour that the Home Assistant light entity
// controls.
type light struct {
	on         bool
	color      framebuffer.Color
	brightness int // percent
}

func (l light) scaled() framebuffer.Color {
	if !l.on {
		return framebuffer.Black
	}
	scale := func(v uint8) uint8 { return uint8(int(v) * l.brightness / 100) }
	return framebuffer.Color{R: scale(l.color.R), G: scale(l.color.G), B: scale(l.color.B)}
}

type Client struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	commands core.CommandChannel
	eventBus *core.EventBus
	patterns PatternLister
	prefix   string

	mu    sync.Mutex
	light light

	events core.Subscriber
	quit   chan struct{}
}

var stateEvents = []core.EventType{core.LinkStatusEvent, core.AckEvent, core.FrameShownEvent, core.PatternChangedEvent}

// NewClient builds a client with reconnect handling. It returns nil when
// MQTT is disabled.
func NewClient(cfg config.MQTTConfig, commands core.CommandChannel, eb *core.EventBus, patterns PatternLister) *Client {
	if !cfg.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Keep retrying at startup so a broker that boots later is picked up.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	// LED writes must reach the controller in the order they were published.
	opts.SetOrderMatters(true)

	opts.SetWill(prefix+"/availability", "offline", 1, true)

	c := newClient(cfg, commands, eb, patterns)
	opts.SetOnConnectHandler(c.onConnect)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Str("component", "mqtt").Err(err).Msg("Connection lost, retrying in background")
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		log.Info().Str("component", "mqtt").Msg("Attempting to reconnect")
	})

	c.client = mqtt.NewClient(opts)

	return c
}

func newClient(cfg config.MQTTConfig, commands core.CommandChannel, eb *core.EventBus, patterns PatternLister) *Client {
	return &Client{
		cfg:      cfg,
		commands: commands,
		eventBus: eb,
		patterns: patterns,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		light:    light{color: framebuffer.Color{R: 255, G: 255, B: 255}, brightness: 100},
		quit:     make(chan struct{}),
	}
}

// Connect starts the connection loop and the state publisher.
func (c *Client) Connect() error {
	if c.client == nil {
		return nil
	}
	log.Info().Str("component", "mqtt").Str("broker", c.cfg.Broker).Msg("Starting connection loop")

	token := c.client.Connect()
	// With ConnectRetry an error here means a configuration problem, not an
	// unreachable broker.
	if token.Wait() && token.Error() != nil {
		log.Error().Str("component", "mqtt").Err(token.Error()).Msg("Initial connection error")
		return token.Error()
	}

	if c.eventBus != nil {
		c.events = c.eventBus.Subscribe(stateEvents...)
		go c.publishEvents()
	}
	return nil
}

// Disconnect publishes the offline status, then closes the socket.
func (c *Client) Disconnect() {
	if c.events != nil {
		c.eventBus.Unsubscribe(c.events, stateEvents...)
		close(c.quit)
		c.events = nil
	}

	if c.client != nil && c.client.IsConnected() {
		log.Info().Str("component", "mqtt").Msg("Disconnecting")

		token := c.client.Publish(c.prefix+"/availability", 0, true, "offline")
		if token.WaitTimeout(2 * time.Second) {
			if token.Error() != nil {
				log.Warn().Str("component", "mqtt").Err(token.Error()).Msg("Failed to publish offline status")
			}
		} else {
			log.Warn().Str("component", "mqtt").Msg("Timed out publishing offline status")
		}

		c.client.Disconnect(250)
		log.Info().Str("component", "mqtt").Msg("Disconnected")
	}
}

func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/%s", c.prefix, subtopic)
	msg := fmt.Sprintf("%v", payload)

	token := c.client.Publish(topic, 0, retained, msg)

	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				log.Error().Str("component", "mqtt").Str("topic", topic).Err(token.Error()).Msg("Publish error")
			}
		} else {
			log.Warn().Str("component", "mqtt").Str("topic", topic).Msg("Timeout publishing")
		}
	}()
}

// commandTopics are the subscribed subtopics.
var commandTopics = []string{
	"power/set",
	"brightness/set",
	"color/set",
	"led/set",
	"clear",
	"show",
	"pattern/run",
	"pattern/stop",
}

// onConnect runs on a paho goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	log.Info().Str("component", "mqtt").Msg("Connected to broker")

	for _, sub := range commandTopics {
		topic := fmt.Sprintf("%s/%s", c.prefix, sub)
		if token := client.Subscribe(topic, 1, c.handle(sub)); token.Wait() && token.Error() != nil {
			log.Error().Str("component", "mqtt").Str("topic", topic).Err(token.Error()).Msg("Error subscribing")
		} else {
			log.Debug().Str("component", "mqtt").Str("topic", topic).Msg("Subscribed")
		}
	}

	// Discovery sleeps, so it must not hold up the callback.
	go func() {
		c.Publish("availability", "online", true)
		if c.cfg.HADiscoveryEnabled {
			c.PublishHADiscovery()
		}
	}()
}

func (c *Client) handle(sub string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := strings.TrimSpace(string(msg.Payload()))
		cmds, err := c.commandsFor(sub, payload)
		if err != nil {
			log.Warn().Str("component", "mqtt").Str("topic", msg.Topic()).Str("payload", payload).Err(err).Msg("Ignoring message")
			return
		}
		for _, cmd := range cmds {
			c.commands <- cmd
		}
		c.publishLight(sub)
	}
}

// commandsFor translates one message on a command subtopic. Light topics
// also update the tracked light state.
func (c *Client) commandsFor(sub, payload string) ([]core.Command, error) {
	switch sub {
	case "power/set":
		on, err := parsePower(payload)
		if err != nil {
			return nil, err
		}
		return c.updateLight(func(l *light) { l.on = on }), nil

	case "brightness/set":
		val, err := strconv.Atoi(payload)
		if err != nil || val < 0 || val > 100 {
			return nil, fmt.Errorf("brightness must be 0-100")
		}
		return c.updateLight(func(l *light) { l.brightness = val }), nil

	case "color/set":
		color, err := ParseColor(payload)
		if err != nil {
			return nil, err
		}
		return c.updateLight(func(l *light) {
			l.on = true
			l.color = color
		}), nil

	case "led/set":
		// index,r,g,b
		parts := strings.Split(payload, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("want index,r,g,b")
		}
		index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || index < 0 {
			return nil, fmt.Errorf("invalid index %q", parts[0])
		}
		color, err := ParseColor(strings.Join(parts[1:], ","))
		if err != nil {
			return nil, err
		}
		cmd := core.NewCommand(core.CmdSetLed, "mqtt").
			With("index", index).With("r", int(color.R)).With("g", int(color.G)).With("b", int(color.B))
		return []core.Command{cmd, core.NewCommand(core.CmdShow, "mqtt")}, nil

	case "clear":
		return []core.Command{core.NewCommand(core.CmdClear, "mqtt"), core.NewCommand(core.CmdShow, "mqtt")}, nil

	case "show":
		return []core.Command{core.NewCommand(core.CmdShow, "mqtt")}, nil

	case "pattern/run":
		if payload == "" {
			return nil, fmt.Errorf("empty pattern name")
		}
		return []core.Command{core.NewCommand(core.CmdRunPattern, "mqtt").With("name", payload)}, nil

	case "pattern/stop":
		return []core.Command{core.NewCommand(core.CmdStopPattern, "mqtt")}, nil
	}
	return nil, fmt.Errorf("unknown topic %q", sub)
}

// updateLight applies fn and returns the commands that put the light's
// colour on the whole strip. A running pattern would overwrite it, so it
// is stopped first.
func (c *Client) updateLight(fn func(*light)) []core.Command {
	c.mu.Lock()
	fn(&c.light)
	color := c.light.scaled()
	c.mu.Unlock()

	return []core.Command{
		core.NewCommand(core.CmdStopPattern, "mqtt"),
		core.NewCommand(core.CmdFill, "mqtt").With("r", int(color.R)).With("g", int(color.G)).With("b", int(color.B)),
		core.NewCommand(core.CmdShow, "mqtt"),
	}
}

func (c *Client) publishLight(sub string) {
	switch sub {
	case "power/set", "brightness/set", "color/set":
	default:
		return
	}

	c.mu.Lock()
	l := c.light
	c.mu.Unlock()

	power := "OFF"
	if l.on {
		power = "ON"
	}
	c.Publish("power/state", power, true)
	c.Publish("brightness/state", l.brightness, true)
	c.Publish("color/state", fmt.Sprintf("%d,%d,%d", l.color.R, l.color.G, l.color.B), true)
}

func parsePower(payload string) (bool, error) {
	switch strings.ToLower(payload) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid power value %q", payload)
}

// ParseColor accepts "#RRGGBB", "RRGGBB" or "r,g,b".
func ParseColor(payload string) (framebuffer.Color, error) {
	if strings.Contains(payload, ",") {
		parts := strings.Split(payload, ",")
		if len(parts) != 3 {
			return framebuffer.Color{}, fmt.Errorf("want r,g,b")
		}
		var rgb [3]uint8
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || v < 0 || v > 255 {
				return framebuffer.Color{}, fmt.Errorf("invalid color component %q", p)
			}
			rgb[i] = uint8(v)
		}
		return framebuffer.Color{R: rgb[0], G: rgb[1], B: rgb[2]}, nil
	}

	hex := strings.TrimPrefix(payload, "#")
	if len(hex) != 6 {
		return framebuffer.Color{}, fmt.Errorf("invalid color %q", payload)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return framebuffer.Color{}, fmt.Errorf("invalid color %q", payload)
	}
	return framebuffer.Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// publishEvents mirrors bus events to state topics until Disconnect.
func (c *Client) publishEvents() {
	for {
		select {
		case <-c.quit:
			return
		case ev := <-c.events:
			for _, m := range stateMessages(ev) {
				c.Publish(m.subtopic, m.payload, m.retained)
			}
		}
	}
}

type stateMessage struct {
	subtopic string
	payload  string
	retained bool
}

func stateMessages(ev core.Event) []stateMessage {
	switch p := ev.Payload.(type) {
	case core.LinkStatus:
		state := "disconnected"
		if p.Connected {
			state = "connected"
		}
		return []stateMessage{
			{"connection", state, true},
			{"device", p.Device, true},
		}
	case core.AckInfo:
		b, err := json.Marshal(p)
		if err != nil {
			return nil
		}
		return []stateMessage{{"ack", string(b), false}}
	case core.FrameInfo:
		return []stateMessage{{"frame/seq", strconv.Itoa(p.Seq), false}}
	case string:
		if ev.Type == core.PatternChangedEvent {
			return []stateMessage{{"pattern/state", p, true}}
		}
	}
	return nil
}

// PublishHADiscovery sends the Home Assistant light configuration.
func (c *Client) PublishHADiscovery() {
	// Give the subscriptions a moment to settle.
	time.Sleep(1 * time.Second)

	topic, payload := c.discovery()
	c.client.Publish(topic, 0, true, payload)
	log.Info().Str("component", "mqtt").Str("topic", topic).Msg("HA Discovery sent")
}

func (c *Client) discovery() (string, []byte) {
	patterns := []string{}
	if c.patterns != nil {
		list, err := c.patterns.GetPatternList()
		if err != nil {
			log.Warn().Str("component", "mqtt").Err(err).Msg("Could not get patterns for HA discovery")
		} else if list != nil {
			patterns = list
		}
	}

	safeID := strings.ReplaceAll(c.cfg.ClientID, " ", "_")
	safeID = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, safeID)

	topic := fmt.Sprintf("%s/light/%s/light/config", c.cfg.HADiscoveryPrefix, safeID)

	payload := map[string]interface{}{
		"name":      "Strip",
		"unique_id": safeID + "_light",
		"object_id": safeID,
		"icon":      "mdi:led-strip-variant",

		"command_topic": fmt.Sprintf("%s/power/set", c.prefix),
		"state_topic":   fmt.Sprintf("%s/power/state", c.prefix),

		"brightness_command_topic": fmt.Sprintf("%s/brightness/set", c.prefix),
		"brightness_state_topic":   fmt.Sprintf("%s/brightness/state", c.prefix),
		"brightness_scale":         100,

		"rgb_command_topic": fmt.Sprintf("%s/color/set", c.prefix),
		"rgb_state_topic":   fmt.Sprintf("%s/color/state", c.prefix),

		"effect_command_topic": fmt.Sprintf("%s/pattern/run", c.prefix),
		"effect_state_topic":   fmt.Sprintf("%s/pattern/state", c.prefix),
		"effect_list":          patterns,

		"availability_mode": "all",
		"availability": []map[string]string{
			{
				"topic":                 fmt.Sprintf("%s/availability", c.prefix),
				"payload_available":     "online",
				"payload_not_available": "offline",
			},
			{
				"topic":                 fmt.Sprintf("%s/connection", c.prefix),
				"payload_available":     "connected",
				"payload_not_available": "disconnected",
			},
		},

		"device": map[string]interface{}{
			"identifiers": []string{safeID},
			"name":        "LED Strip Controller",
			"model":       "Serial LED strip agent",
		},
	}

	b, _ := json.Marshal(payload)
	return topic, b
}
