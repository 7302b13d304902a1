// Package topics is the closed catalog of telemetry topics and their payload shapes.
package topics

import (
	"fmt"
	"sort"

	"github.com/smazurov/racewire/internal/codec"
	"github.com/vmihailenco/msgpack/v5"
)

// Topic names a telemetry stream and carries its payload type and default value.
type Topic[T any] struct {
	Name    string
	Default T
}

func (t Topic[T]) String() string { return t.Name }

// Decode unmarshals a payload for this topic.
func (t Topic[T]) Decode(raw msgpack.RawMessage) (T, error) {
	var v T
	if err := codec.UnmarshalPayload(raw, &v); err != nil {
		return v, fmt.Errorf("topic %s: %w", t.Name, err)
	}
	return v, nil
}

// Descriptor is the untyped view of a catalog entry.
type Descriptor struct {
	Name    string
	Default any
	decode  func(raw msgpack.RawMessage) (any, error)
}

// Decode unmarshals a payload into the topic's concrete type.
func (d Descriptor) Decode(raw msgpack.RawMessage) (any, error) {
	return d.decode(raw)
}

// Known topics. Defaults are what a consumer shows before the first update.
var (
	Active           = Topic[bool]{"active", false}
	CurrentTime      = Topic[string]{"current_time", "--:--"}
	PlayerLapTimes   = Topic[[]PlayerLapTime]{"player_lap_times", []PlayerLapTime{}}
	Standings        = Topic[[]StandingsDriver]{"standings", []StandingsDriver{}}
	StrengthOfField  = Topic[uint32]{"strength_of_field", 0}
	PositionsTotal   = Topic[uint32]{"positions_total", 0}
	RaceLaps         = Topic[uint32]{"race_laps", 0}
	Proximity        = Topic[ProximityData]{"proximity", ProximityData{}}
	Relative         = Topic[[]RelativeDriver]{"relative", []RelativeDriver{}}
	LapTime          = Topic[float64]{"lap_time", 0}
	DeltaBestTime    = Topic[string]{"delta_best_time", "–"}
	DeltaLastTime    = Topic[string]{"delta_last_time", "–"}
	DeltaOptimalTime = Topic[string]{"delta_optimal_time", "–"}
	Telemetry        = Topic[TelemetryGraph]{"telemetry_graph", TelemetryGraph{}}
	Reference        = Topic[TelemetryReference]{"telemetry_reference", TelemetryReference{}}
	SessionState     = Topic[string]{"session_state", ""}
	SessionTime      = Topic[string]{"session_time", ""}
	SessionTimeTotal = Topic[string]{"session_time_total", ""}
	SessionType      = Topic[string]{"session_type", ""}
	GapNext          = Topic[string]{"gap_next", "-"}
	GapPrev          = Topic[string]{"gap_prev", "-"}
	TrackID          = Topic[uint32]{"track_id", 0}
	TrackMap         = Topic[[]TrackMapDriver]{"track_map", []TrackMapDriver{}}
	Gear             = Topic[string]{"gear", "N"}
	Speed            = Topic[uint32]{"speed", 0}
	RPM              = Topic[uint32]{"rpm", 0}
	GearShiftRPM     = Topic[uint32]{"gear_shift_rpm", 0}
	GearBlinkRPM     = Topic[uint32]{"gear_blink_rpm", 0}
	Lap              = Topic[uint32]{"lap", 0}
	LapsTotal        = Topic[uint32]{"laps_total", 0}
	Position         = Topic[uint32]{"position", 0}
	Incidents        = Topic[uint32]{"incidents", 0}
	IncidentLimit    = Topic[uint32]{"incident_limit", 0}
	PlayerCarClass   = Topic[string]{"player_car_class", ""}
	FastestLap       = Topic[string]{"fastest_lap", "-:--:--"}
)

var catalog = index(
	describe(Active),
	describe(CurrentTime),
	describe(PlayerLapTimes),
	describe(Standings),
	describe(StrengthOfField),
	describe(PositionsTotal),
	describe(RaceLaps),
	describe(Proximity),
	describe(Relative),
	describe(LapTime),
	describe(DeltaBestTime),
	describe(DeltaLastTime),
	describe(DeltaOptimalTime),
	describe(Telemetry),
	describe(Reference),
	describe(SessionState),
	describe(SessionTime),
	describe(SessionTimeTotal),
	describe(SessionType),
	describe(GapNext),
	describe(GapPrev),
	describe(TrackID),
	describe(TrackMap),
	describe(Gear),
	describe(Speed),
	describe(RPM),
	describe(GearShiftRPM),
	describe(GearBlinkRPM),
	describe(Lap),
	describe(LapsTotal),
	describe(Position),
	describe(Incidents),
	describe(IncidentLimit),
	describe(PlayerCarClass),
	describe(FastestLap),
)

func describe[T any](t Topic[T]) Descriptor {
	return Descriptor{
		Name:    t.Name,
		Default: t.Default,
		decode: func(raw msgpack.RawMessage) (any, error) {
			return t.Decode(raw)
		},
	}
}

func index(descs ...Descriptor) map[string]Descriptor {
	m := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if _, dup := m[d.Name]; dup {
			panic("topics: duplicate topic " + d.Name)
		}
		m[d.Name] = d
	}
	return m
}

// Known reports whether name is in the catalog.
func Known(name string) bool {
	_, ok := catalog[name]
	return ok
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Descriptor, bool) {
	d, ok := catalog[name]
	return d, ok
}

// All returns every topic name in sorted order.
func All() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
