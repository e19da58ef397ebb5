package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/vcamlab/camswitch/internal/api/models"
)

// PreviewInput names the source to snapshot.
type PreviewInput struct {
	Source string `path:"source" enum:"a,b" example:"a" doc:"Source to preview"`
}

// PreviewResponse is a raw JPEG body.
type PreviewResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// registerPreviewRoutes registers the per-source preview endpoints.
func (s *Server) registerPreviewRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "preview-source",
		Method:      http.MethodGet,
		Path:        "/api/preview/{source}",
		Summary:     "Preview Frame",
		Description: "Most recent frame from a source as JPEG, independent of which source is routed",
		Tags:        []string{"preview"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(ctx context.Context, input *PreviewInput) (*PreviewResponse, error) {
		preview := s.supervisor.Preview()
		if preview == nil {
			return nil, huma.Error404NotFound("Pipeline not started")
		}

		data, err := preview.JPEG(input.Source)
		if err != nil {
			return nil, huma.Error404NotFound("No frame available", err)
		}

		return &PreviewResponse{
			ContentType: "image/jpeg",
			Body:        data,
		}, nil
	})

	// Which source is live, for preview UIs to highlight
	huma.Register(s.api, huma.Operation{
		OperationID: "preview-active",
		Method:      http.MethodGet,
		Path:        "/api/preview",
		Summary:     "Active Source",
		Description: "Identifier of the source currently feeding the virtual output",
		Tags:        []string{"preview"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.ActiveSourceResponse, error) {
		active := ""
		if preview := s.supervisor.Preview(); preview != nil {
			active = preview.Active()
		}
		return &models.ActiveSourceResponse{
			Body: models.ActiveSourceData{Active: active},
		}, nil
	})
}
