package models

import "time"

// UpdateCheckData is the result of comparing the running build against
// the latest published release.
type UpdateCheckData struct {
	CurrentVersion  string    `json:"current_version" example:"1.0.0" doc:"Running version"`
	LatestVersion   string    `json:"latest_version" example:"1.1.0" doc:"Latest published version"`
	ReleaseNotes    string    `json:"release_notes,omitempty" doc:"Markdown release notes"`
	ReleaseURL      string    `json:"release_url,omitempty" doc:"Release page URL"`
	PublishedAt     time.Time `json:"published_at,omitzero" doc:"Release publication time"`
	AssetSize       int       `json:"asset_size,omitempty" example:"5242880" doc:"Update size in bytes"`
	UpdateAvailable bool      `json:"update_available" example:"true" doc:"Whether a newer release exists"`
}

type UpdateCheckResponse struct {
	Body UpdateCheckData
}

// UpdateStatusData mirrors the updater state machine for the API.
type UpdateStatusData struct {
	State           string    `json:"state" example:"idle" doc:"Updater state"`
	CurrentVersion  string    `json:"current_version" example:"1.0.0" doc:"Running version"`
	TargetVersion   string    `json:"target_version,omitempty" example:"1.1.0" doc:"Release pending apply"`
	Error           string    `json:"error,omitempty" doc:"Last failure, when state is failed"`
	LastChecked     time.Time `json:"last_checked,omitzero" doc:"Time of the last release check"`
	BackupAvailable bool      `json:"backup_available" example:"true" doc:"Whether a rollback copy exists"`
	BackupVersion   string    `json:"backup_version,omitempty" example:"1.0.0" doc:"Version of the rollback copy"`
}

type UpdateStatusResponse struct {
	Body UpdateStatusData
}

// MessageData acknowledges apply, rollback, and restart requests.
type MessageData struct {
	Message string `json:"message" example:"Restarting" doc:"Acknowledgement"`
}

type MessageResponse struct {
	Body MessageData
}
