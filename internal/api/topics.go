package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/racewire/internal/api/models"
	"github.com/smazurov/racewire/internal/topics"
)

func (s *Server) registerTopicRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-topics",
		Method:      http.MethodGet,
		Path:        "/api/topics",
		Summary:     "Attached topics",
		Description: "List attached topics with observer counts and dispatcher counters",
		Tags:        []string{"topics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.TopicListResponse, error) {
		data := models.TopicListData{
			Connection: s.connectionState(),
			Topics:     []models.TopicData{},
		}
		if s.telemetry != nil {
			for _, info := range s.telemetry.Topics() {
				data.Topics = append(data.Topics, models.TopicData{
					Topic:      info.Topic,
					Refs:       info.Refs,
					Generation: info.Generation,
					HasValue:   info.HasValue,
					LiveSeen:   info.LiveSeen,
				})
			}
			stats := s.telemetry.Stats()
			data.Dispatch = models.DispatchStats{
				Received:  stats.Received,
				Dropped:   stats.Dropped,
				Unrouted:  stats.Unrouted,
				Delivered: stats.Delivered,
				Failed:    stats.Failed,
			}
		}
		data.Count = len(data.Topics)
		return &models.TopicListResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "topic-catalog",
		Method:      http.MethodGet,
		Path:        "/api/catalog",
		Summary:     "Topic catalog",
		Description: "List every known topic and its default value",
		Tags:        []string{"topics"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.CatalogResponse, error) {
		names := topics.All()
		entries := make([]models.CatalogEntry, 0, len(names))
		for _, name := range names {
			d, _ := topics.Lookup(name)
			entries = append(entries, models.CatalogEntry{Topic: d.Name, Default: d.Default})
		}
		return &models.CatalogResponse{
			Body: models.CatalogData{Topics: entries, Count: len(entries)},
		}, nil
	})
}
