// Package telemetry streams simulated sensor readings for the entities of
// converted scenes to websocket viewers.
package telemetry

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/usda/metadata"
	"github.com/usdbridge/usdbridge/internal/usda/parser"
	"github.com/usdbridge/usdbridge/internal/web/websocket"
)

const (
	// MessageType is the websocket message type of telemetry frames
	MessageType = "telemetry"

	// DefaultChannel names the reading of an entity without declared bounds
	DefaultChannel = "value"

	// DefaultInterval is used when the simulator is given no interval
	DefaultInterval = 500 * time.Millisecond

	period = 10 * time.Second
)

// Broadcaster delivers a message to the viewers subscribed to topic
type Broadcaster interface {
	BroadcastTopic(topic string, message *websocket.Message)
}

// Frame is one reading of every channel of an entity
type Frame struct {
	Entity    string             `json:"entity"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Bounds is the range a channel oscillates in
type Bounds struct {
	Min float64
	Max float64
}

type channel struct {
	bounds Bounds
	phase  float64
}

// Simulator keeps the entities of every registered scene and broadcasts a
// frame per entity on each tick
type Simulator struct {
	hub      Broadcaster
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	entities map[string]map[string]channel

	now   func() time.Time
	start time.Time
}

// NewSimulator creates a simulator broadcasting through hub
func NewSimulator(hub Broadcaster, interval time.Duration, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Simulator{
		hub:      hub,
		interval: interval,
		logger:   logger,
		entities: make(map[string]map[string]channel),
		now:      time.Now,
		start:    time.Now(),
	}
}

// Register adds the entities of mapping, replacing any entity of the same
// name. It returns the number of entities registered.
func (s *Simulator) Register(mapping metadata.Mapping) int {
	names := mapping.Entities()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		dict, _ := mapping.Entity(name)
		s.entities[name] = channelsFor(name, dict)
	}

	if len(names) > 0 {
		s.logger.Debug("telemetry entities registered",
			zap.Int("registered", len(names)),
			zap.Int("total", len(s.entities)))
	}
	return len(names)
}

// Entities returns the registered entity names in sorted order
func (s *Simulator) Entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entities))
	for name := range s.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Channels returns the bounds of every channel of an entity
func (s *Simulator) Channels(entity string) (map[string]Bounds, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels, ok := s.entities[entity]
	if !ok {
		return nil, false
	}
	out := make(map[string]Bounds, len(channels))
	for name, ch := range channels {
		out[name] = ch.bounds
	}
	return out, true
}

// Frames computes one frame per registered entity at the current time
func (s *Simulator) Frames() []Frame {
	now := s.now()
	elapsed := now.Sub(s.start).Seconds()

	s.mu.RLock()
	defer s.mu.RUnlock()

	frames := make([]Frame, 0, len(s.entities))
	for name, channels := range s.entities {
		values := make(map[string]float64, len(channels))
		for key, ch := range channels {
			values[key] = ch.sample(elapsed)
		}
		frames = append(frames, Frame{Entity: name, Timestamp: now.UTC(), Values: values})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Entity < frames[j].Entity })
	return frames
}

// Tick broadcasts the current frames, each on its entity's topic
func (s *Simulator) Tick() int {
	frames := s.Frames()
	for i := range frames {
		s.hub.BroadcastTopic(frames[i].Entity, &websocket.Message{Type: MessageType, Payload: frames[i]})
	}
	return len(frames)
}

// Run ticks until ctx is done
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("telemetry simulator started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry simulator stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// OnConnect tells a new viewer which entities are streaming
func (s *Simulator) OnConnect(client *websocket.Client) {
	if err := client.SendJSON("entities", map[string][]string{"entities": s.Entities()}); err != nil {
		s.logger.Debug("entity list not sent", zap.String("client", client.ID), zap.Error(err))
	}
}

func (c channel) sample(seconds float64) float64 {
	mid := (c.bounds.Min + c.bounds.Max) / 2
	amp := (c.bounds.Max - c.bounds.Min) / 2
	v := mid + amp*math.Sin(2*math.Pi*seconds/period.Seconds()+c.phase)
	return math.Min(c.bounds.Max, math.Max(c.bounds.Min, v))
}

// channelsFor derives channels from customData. Top-level float min/max
// bound the default channel; a nested dictionary carrying both becomes a
// channel of its own.
func channelsFor(entity string, dict *parser.Dictionary) map[string]channel {
	channels := make(map[string]channel)

	if b, ok := boundsOf(dict); ok {
		channels[DefaultChannel] = channel{bounds: b, phase: phaseOf(entity, DefaultChannel)}
	}
	for _, key := range dict.Keys() {
		v, _ := dict.Get(key)
		nested, ok := v.(*parser.Dictionary)
		if !ok {
			continue
		}
		if b, ok := boundsOf(nested); ok {
			channels[key] = channel{bounds: b, phase: phaseOf(entity, key)}
		}
	}

	if len(channels) == 0 {
		channels[DefaultChannel] = channel{bounds: Bounds{Min: 0, Max: 1}, phase: phaseOf(entity, DefaultChannel)}
	}
	return channels
}

func boundsOf(dict *parser.Dictionary) (Bounds, bool) {
	lo, okMin := floatOf(dict, "min")
	hi, okMax := floatOf(dict, "max")
	if !okMin || !okMax {
		return Bounds{}, false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return Bounds{Min: lo, Max: hi}, true
}

func floatOf(dict *parser.Dictionary, key string) (float64, bool) {
	v, ok := dict.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(parser.Float)
	return float64(f), ok
}

// phaseOf spreads entities across the cycle so they do not move in step
func phaseOf(entity, channel string) float64 {
	h := fnv.New32a()
	h.Write([]byte(entity))
	h.Write([]byte{0})
	h.Write([]byte(channel))
	return float64(h.Sum32()%360) * math.Pi / 180
}
