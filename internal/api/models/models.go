// Package models holds the request and response bodies of the monitor API.
package models

import "github.com/smazurov/racewire/internal/logging"

// HealthData reports service liveness.
type HealthData struct {
	Status     string `json:"status" example:"ok" doc:"Service status"`
	Message    string `json:"message" example:"API is healthy" doc:"Status message"`
	Connection string `json:"connection" example:"connected" doc:"Data channel state"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.21.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Topic models
type TopicData struct {
	Topic      string `json:"topic" example:"standings" doc:"Topic name"`
	Refs       int    `json:"refs" example:"2" doc:"Attached observers"`
	Generation uint64 `json:"generation" example:"4" doc:"Snapshot generation"`
	HasValue   bool   `json:"has_value" doc:"Whether a value has been received"`
	LiveSeen   bool   `json:"live_seen" doc:"Whether a live update arrived since the last snapshot request"`
}

type DispatchStats struct {
	Received  uint64 `json:"received" example:"5120" doc:"Frames received"`
	Dropped   uint64 `json:"dropped" example:"0" doc:"Frames that failed to decode"`
	Unrouted  uint64 `json:"unrouted" example:"12" doc:"Envelopes with no listener"`
	Delivered uint64 `json:"delivered" example:"5108" doc:"Envelopes delivered"`
	Failed    uint64 `json:"failed" example:"0" doc:"Listener failures"`
}

type TopicListData struct {
	Connection string        `json:"connection" example:"connected" doc:"Data channel state"`
	Topics     []TopicData   `json:"topics" doc:"Attached topics"`
	Count      int           `json:"count" example:"6" doc:"Number of attached topics"`
	Dispatch   DispatchStats `json:"dispatch" doc:"Dispatcher counters"`
}

type TopicListResponse struct {
	Body TopicListData
}

// Catalog models
type CatalogEntry struct {
	Topic   string `json:"topic" example:"gear" doc:"Topic name"`
	Default any    `json:"default" doc:"Value shown before the first update"`
}

type CatalogData struct {
	Topics []CatalogEntry `json:"topics" doc:"Known topics"`
	Count  int            `json:"count" example:"33" doc:"Number of known topics"`
}

type CatalogResponse struct {
	Body CatalogData
}

// Logging models
type LogLevelsData struct {
	Levels map[string]string `json:"levels" doc:"Effective level per module"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type SetLogLevelRequest struct {
	Module string `path:"module" example:"channel" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

type LogEntriesRequest struct {
	Module string `query:"module" example:"channel" doc:"Only entries from this module"`
	Limit  int    `query:"limit" minimum:"0" maximum:"500" default:"100" doc:"Most recent entries to return"`
}

type LogEntriesData struct {
	Entries []logging.Entry `json:"entries" doc:"Recent log entries, oldest first"`
	Count   int             `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogEntriesResponse struct {
	Body LogEntriesData
}
