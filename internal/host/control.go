package host

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/racewire/internal/version"
)

// EndpointOutput locates the data channel.
type EndpointOutput struct {
	Body struct {
		Host string `json:"host" example:"127.0.0.1" doc:"Data channel host"`
		Port int    `json:"port" example:"8384" doc:"Data channel port"`
	}
}

// TopicInput names a topic in the path.
type TopicInput struct {
	Topic string `path:"topic" maxLength:"64" example:"gear" doc:"Topic name"`
}

// CurrentOutput is a raw msgpack payload.
type CurrentOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// ControlPlane is what the control API and the NATS responder serve.
type ControlPlane interface {
	Endpoint() (host string, port int, err error)
	Register(topic string) error
	Unregister(topic string) error
	Current(topic string) (payload []byte, ok bool, err error)
}

// NewControlHandler builds the huma control API over cp.
func NewControlHandler(cp ControlPlane) (http.Handler, huma.API) {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("racewire host", version.String())
	config.Info.Description = "Telemetry host control plane"
	config.Servers = []*huma.Server{}
	api := humago.New(mux, config)

	huma.Register(api, huma.Operation{
		OperationID: "get-endpoint",
		Method:      http.MethodGet,
		Path:        "/api/endpoint",
		Summary:     "Data channel endpoint",
		Tags:        []string{"control"},
		Errors:      []int{503},
	}, func(ctx context.Context, input *struct{}) (*EndpointOutput, error) {
		host, port, err := cp.Endpoint()
		if err != nil {
			return nil, huma.Error503ServiceUnavailable("data channel not ready", err)
		}
		out := &EndpointOutput{}
		out.Body.Host = host
		out.Body.Port = port
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-topic",
		Method:        http.MethodPost,
		Path:          "/api/topics/{topic}/register",
		Summary:       "Register interest in a topic",
		Tags:          []string{"control"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{422},
	}, func(ctx context.Context, input *TopicInput) (*struct{}, error) {
		if err := cp.Register(input.Topic); err != nil {
			return nil, topicError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unregister-topic",
		Method:        http.MethodPost,
		Path:          "/api/topics/{topic}/unregister",
		Summary:       "Drop interest in a topic",
		Tags:          []string{"control"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{409, 422},
	}, func(ctx context.Context, input *TopicInput) (*struct{}, error) {
		if err := cp.Unregister(input.Topic); err != nil {
			return nil, topicError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-value",
		Method:      http.MethodGet,
		Path:        "/api/topics/{topic}/current",
		Summary:     "Current topic value",
		Description: "Returns the msgpack payload the host holds for the topic",
		Tags:        []string{"control"},
		Errors:      []int{404, 422},
	}, func(ctx context.Context, input *TopicInput) (*CurrentOutput, error) {
		payload, ok, err := cp.Current(input.Topic)
		if err != nil {
			return nil, topicError(err)
		}
		if !ok {
			return nil, huma.Error404NotFound("no value for " + input.Topic)
		}
		return &CurrentOutput{ContentType: "application/msgpack", Body: payload}, nil
	})

	return mux, api
}

func topicError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownTopic):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, ErrNotRegistered):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError("control request failed", err)
	}
}
