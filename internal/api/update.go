package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/vcamlab/camswitch/internal/api/models"
	"github.com/vcamlab/camswitch/internal/updater"
)

// updateRoute describes one update endpoint so the enabled and disabled
// registrations stay in sync.
type updateRoute struct {
	id, method, path, summary, description string
	errors                                 []int
}

var updateRoutes = []updateRoute{
	{"check-updates", http.MethodGet, "/api/update/check",
		"Check for Updates", "Compare the running build against the latest release", []int{401, 409, 500}},
	{"get-update-status", http.MethodGet, "/api/update/status",
		"Get Update Status", "Current updater state and rollback availability", []int{401}},
	{"apply-update", http.MethodPost, "/api/update/apply",
		"Apply Update", "Download and install the pending release, then restart", []int{400, 401, 409, 500}},
	{"rollback-update", http.MethodPost, "/api/update/rollback",
		"Rollback Update", "Restore the previous build, then restart", []int{401, 404, 500}},
	{"restart-service", http.MethodPost, "/api/update/restart",
		"Restart Service", "Restart without updating", []int{401}},
}

func (r updateRoute) operation() huma.Operation {
	return huma.Operation{
		OperationID: r.id,
		Method:      r.method,
		Path:        r.path,
		Summary:     r.summary,
		Description: r.description,
		Tags:        []string{"update"},
		Errors:      r.errors,
		Security:    withAuth(),
	}
}

// registerUpdateRoutes wires the updater behind the API, or a uniform
// 503 surface when self-update is disabled.
func (s *Server) registerUpdateRoutes() {
	svc := s.options.UpdateService
	if svc == nil {
		return
	}
	if !svc.IsEnabled() {
		reason := svc.DisabledReason()
		for _, r := range updateRoutes {
			op := r.operation()
			op.Errors = []int{503}
			huma.Register(s.api, op, func(_ context.Context, _ *struct{}) (*struct{}, error) {
				return nil, huma.Error503ServiceUnavailable("Self-update disabled: " + reason)
			})
		}
		return
	}

	huma.Register(s.api, updateRoutes[0].operation(),
		func(ctx context.Context, _ *struct{}) (*models.UpdateCheckResponse, error) {
			info, err := svc.CheckForUpdate(ctx)
			if err != nil {
				return nil, updateError(err)
			}
			return &models.UpdateCheckResponse{Body: models.UpdateCheckData{
				CurrentVersion:  info.CurrentVersion,
				LatestVersion:   info.LatestVersion,
				ReleaseNotes:    info.ReleaseNotes,
				ReleaseURL:      info.ReleaseURL,
				PublishedAt:     info.PublishedAt,
				AssetSize:       info.AssetSize,
				UpdateAvailable: info.UpdateAvailable,
			}}, nil
		})

	huma.Register(s.api, updateRoutes[1].operation(),
		func(ctx context.Context, _ *struct{}) (*models.UpdateStatusResponse, error) {
			status := svc.GetStatus(ctx)
			return &models.UpdateStatusResponse{Body: models.UpdateStatusData{
				State:           string(status.State),
				CurrentVersion:  status.CurrentVersion,
				TargetVersion:   status.TargetVersion,
				Error:           status.Error,
				LastChecked:     status.LastChecked,
				BackupAvailable: status.BackupAvailable,
				BackupVersion:   status.BackupVersion,
			}}, nil
		})

	huma.Register(s.api, updateRoutes[2].operation(),
		func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
			if err := svc.ApplyUpdate(ctx); err != nil {
				return nil, updateError(err)
			}
			return &models.MessageResponse{Body: models.MessageData{Message: "Update applied, restarting"}}, nil
		})

	huma.Register(s.api, updateRoutes[3].operation(),
		func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
			if err := svc.Rollback(ctx); err != nil {
				return nil, updateError(err)
			}
			return &models.MessageResponse{Body: models.MessageData{Message: "Rollback complete, restarting"}}, nil
		})

	huma.Register(s.api, updateRoutes[4].operation(),
		func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
			if err := svc.Restart(ctx); err != nil {
				return nil, huma.Error500InternalServerError(err.Error())
			}
			return &models.MessageResponse{Body: models.MessageData{Message: "Restarting"}}, nil
		})
}

// updateError maps coded updater failures onto HTTP statuses.
func updateError(err error) error {
	var uerr *updater.Error
	if !errors.As(err, &uerr) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch uerr.Code {
	case updater.ErrBusy:
		return huma.Error409Conflict(uerr.Error())
	case updater.ErrNoUpdate:
		return huma.Error400BadRequest(uerr.Error())
	case updater.ErrNoBackup:
		return huma.Error404NotFound(uerr.Error())
	case updater.ErrDisabled:
		return huma.Error503ServiceUnavailable(uerr.Error())
	default:
		return huma.Error500InternalServerError(uerr.Error())
	}
}
