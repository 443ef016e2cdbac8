package api

import (
	"time"

	"github.com/pabridge-dev/pabridge/internal/devserver"
	"github.com/pabridge-dev/pabridge/internal/state"
)

// BridgeStatusDTO is the data transfer object for GET /bridge/status
// responses. It exposes only the fields that should be visible to API
// clients.
type BridgeStatusDTO struct {
	State         string        `json:"state"`
	Version       string        `json:"version"`
	SessionID     string        `json:"session_id,omitempty"`
	PID           int           `json:"pid"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Address       string        `json:"address,omitempty"`
	URLs          []string      `json:"urls,omitempty"`
	PlayerURL     string        `json:"player_url,omitempty"`
	TLS           bool          `json:"tls,omitempty"`
	Upstream      string        `json:"upstream,omitempty"`
	BuildPath     string        `json:"build_path,omitempty"`
	ConfigPath    string        `json:"config_path,omitempty"`
	Clients       int           `json:"ws_clients"`
	DevServer     *DevServerDTO `json:"dev_server,omitempty"`
}

// DevServerDTO describes the managed dev-server process inside a status
// response. It is omitted entirely when the bridge manages no process.
type DevServerDTO struct {
	State    string `json:"state"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Restarts int    `json:"restarts"`
}

// DevServerToDTO converts a runner status to its DTO representation.
func DevServerToDTO(st devserver.Status) *DevServerDTO {
	return &DevServerDTO{
		State:    string(st.State),
		PID:      st.PID,
		ExitCode: st.ExitCode,
		Restarts: st.Restarts,
	}
}

// AckDTO is the acknowledgement body for async control operations such as
// shutdown and restart.
type AckDTO struct {
	Status string `json:"status"`
}

// LaunchDTO is the data transfer object for launch history entries.
type LaunchDTO struct {
	ID             string     `json:"id"`
	ProjectDir     string     `json:"project_dir,omitempty"`
	EnvironmentID  string     `json:"environment_id,omitempty"`
	AppID          string     `json:"app_id,omitempty"`
	AppDisplayName string     `json:"app_display_name,omitempty"`
	PlayerURL      string     `json:"player_url,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Running        bool       `json:"running"`
}

// LaunchToDTO converts a stored launch to its DTO representation.
func LaunchToDTO(l state.Launch) LaunchDTO {
	return LaunchDTO{
		ID:             l.ID,
		ProjectDir:     l.ProjectDir,
		EnvironmentID:  l.EnvironmentID,
		AppID:          l.AppID,
		AppDisplayName: l.AppDisplayName,
		PlayerURL:      l.PlayerURL,
		StartedAt:      l.StartedAt,
		EndedAt:        l.EndedAt,
		Running:        l.Running(),
	}
}

// LaunchesToDTO converts a slice of launches to DTOs.
func LaunchesToDTO(launches []state.Launch) []LaunchDTO {
	dtos := make([]LaunchDTO, len(launches))
	for i, l := range launches {
		dtos[i] = LaunchToDTO(l)
	}
	return dtos
}
