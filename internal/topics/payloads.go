package topics

// ProximityData reports cars alongside the player.
type ProximityData struct {
	IsLeft  bool `msgpack:"is_left" json:"is_left"`
	IsRight bool `msgpack:"is_right" json:"is_right"`
}

// TelemetryGraph is one pedal trace sample keyed by session time.
type TelemetryGraph struct {
	TS        float64 `msgpack:"ts" json:"ts"`
	Throttle  uint32  `msgpack:"throttle" json:"throttle"`
	Brake     uint32  `msgpack:"brake" json:"brake"`
	ABSActive bool    `msgpack:"abs_active" json:"abs_active"`
}

// TelemetryReference is a pedal sample keyed by lap distance in centimetres.
type TelemetryReference struct {
	LapDist  uint32 `msgpack:"lap_dist" json:"lap_dist"`
	Throttle uint32 `msgpack:"throttle" json:"throttle"`
	Brake    uint32 `msgpack:"brake" json:"brake"`
}

// StandingsDriver is one row of the standings table.
type StandingsDriver struct {
	CarID     uint32 `msgpack:"car_id" json:"car_id"`
	Position  uint32 `msgpack:"position" json:"position"`
	UserName  string `msgpack:"user_name" json:"user_name"`
	CarNumber string `msgpack:"car_number" json:"car_number"`
	IRating   string `msgpack:"irating" json:"irating"`
	License   string `msgpack:"license" json:"license"`
	LeaderGap string `msgpack:"leader_gap" json:"leader_gap"`
	BestLap   string `msgpack:"best_lap" json:"best_lap"`
	LastLap   string `msgpack:"last_lap" json:"last_lap"`
	IsPlayer  bool   `msgpack:"is_player" json:"is_player"`
	IsLeader  bool   `msgpack:"is_leader" json:"is_leader"`
	IsInPits  bool   `msgpack:"is_in_pits" json:"is_in_pits"`
}

// RelativeDriver is one row of the relative table around the player.
type RelativeDriver struct {
	CarID             uint32 `msgpack:"car_id" json:"car_id"`
	Position          uint32 `msgpack:"position" json:"position"`
	UserName          string `msgpack:"user_name" json:"user_name"`
	CarNumber         string `msgpack:"car_number" json:"car_number"`
	IRating           string `msgpack:"irating" json:"irating"`
	License           string `msgpack:"license" json:"license"`
	PlayerRelativeGap string `msgpack:"player_relative_gap" json:"player_relative_gap"`
	IsPlayer          bool   `msgpack:"is_player" json:"is_player"`
	IsInPits          bool   `msgpack:"is_in_pits" json:"is_in_pits"`
	IsOffTrack        bool   `msgpack:"is_off_track" json:"is_off_track"`
	IsOffWorld        bool   `msgpack:"is_off_world" json:"is_off_world"`
}

// TrackMapDriver is one car's position around the lap.
type TrackMapDriver struct {
	CarID      uint32  `msgpack:"car_id" json:"car_id"`
	Position   uint32  `msgpack:"position" json:"position"`
	IsLeader   bool    `msgpack:"is_leader" json:"is_leader"`
	IsPlayer   bool    `msgpack:"is_player" json:"is_player"`
	LapDistPct float32 `msgpack:"lap_dist_pct" json:"lap_dist_pct"`
	IsInPits   bool    `msgpack:"is_in_pits" json:"is_in_pits"`
	IsOffTrack bool    `msgpack:"is_off_track" json:"is_off_track"`
	IsOffWorld bool    `msgpack:"is_off_world" json:"is_off_world"`
}

// PlayerLapTime is one completed lap of the player.
type PlayerLapTime struct {
	Lap     uint32 `msgpack:"lap" json:"lap"`
	LapTime string `msgpack:"lap_time" json:"lap_time"`
}
