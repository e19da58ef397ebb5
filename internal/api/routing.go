package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/vcamlab/camswitch/internal/api/models"
	"github.com/vcamlab/camswitch/internal/media"
)

// SwitchInput names the source to route.
type SwitchInput struct {
	Source string `path:"source" enum:"a,b" example:"b" doc:"Source to route to the virtual output"`
}

// registerRoutingRoutes registers the switch command and status endpoints.
func (s *Server) registerRoutingRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "switch-source",
		Method:      http.MethodPost,
		Path:        "/api/switch/{source}",
		Summary:     "Switch Source",
		Description: "Atomically route the given source to the virtual output. Rejected with 409 while another switch is in flight, 422 when the target cannot take over.",
		Tags:        []string{"routing"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 422},
	}, func(ctx context.Context, input *SwitchInput) (*models.SwitchResponse, error) {
		if err := s.supervisor.Switch(input.Source); err != nil {
			return nil, mapSwitchError(err)
		}

		return &models.SwitchResponse{
			Body: models.SwitchData{
				Active:  input.Source,
				Message: "Switch committed",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Pipeline snapshot: state, active source, per-source health, output counters",
		Tags:        []string{"routing"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.supervisor.Status()}, nil
	})
}

// mapSwitchError converts routing errors to Huma HTTP errors. A busy router
// means a switch is already in flight; every other failure left routing on
// the previous source.
func mapSwitchError(err error) error {
	switch {
	case errors.Is(err, media.ErrBusy):
		return huma.Error409Conflict("A switch is already in progress", err)
	case errors.Is(err, media.ErrSwitchTimeout):
		return huma.Error422UnprocessableEntity("Target source produced no frame in time, switch rolled back", err)
	default:
		return huma.Error422UnprocessableEntity("Switch rejected", err)
	}
}
