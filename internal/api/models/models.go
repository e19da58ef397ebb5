package models

import (
	"github.com/vcamlab/camswitch/internal/media"
	"github.com/vcamlab/camswitch/internal/supervisor"
	"github.com/vcamlab/camswitch/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Switch models
type SwitchData struct {
	Active  string `json:"active" example:"b" doc:"Source now feeding the virtual output"`
	Message string `json:"message" example:"Switch committed" doc:"Status message"`
}

type SwitchResponse struct {
	Body SwitchData
}

// Status models
type StatusResponse struct {
	Body supervisor.Status
}

// Active source models
type ActiveSourceData struct {
	Active string `json:"active" example:"a" doc:"Routed source, empty when idle"`
}

type ActiveSourceResponse struct {
	Body ActiveSourceData
}

// Device models
type DeviceInfo struct {
	DevicePath   string   `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	DeviceName   string   `json:"device_name" example:"HD Pro Webcam C920" doc:"Human-readable device name"`
	Driver       string   `json:"driver,omitempty" example:"uvcvideo" doc:"Kernel driver name"`
	Capture      bool     `json:"capture" example:"true" doc:"Whether the device captures video"`
	Output       bool     `json:"output" example:"false" doc:"Whether the device accepts video output"`
	Caps         uint32   `json:"caps" example:"69206017" doc:"Raw V4L2 capability flags"`
	Capabilities []string `json:"capabilities,omitempty" doc:"Readable capability names"`
}

type DeviceData struct {
	Devices []DeviceInfo `json:"devices" doc:"Available V4L2 devices"`
	Count   int          `json:"count" example:"3" doc:"Number of devices"`
}

type DeviceResponse struct {
	Body DeviceData
}

// Probe models
type ProbeData struct {
	DevicePath string              `json:"device_path" example:"/dev/video0" doc:"Probed device"`
	Formats    []media.FrameFormat `json:"formats" doc:"Supported capture formats"`
}

type ProbeResponse struct {
	Body ProbeData
}

// Error response
type ErrorData struct {
	Status  string `json:"status" example:"error" doc:"Error status"`
	Message string `json:"message" example:"Device not found" doc:"Error message"`
}

type ErrorResponse struct {
	Body ErrorData
}

// Version response carries the build metadata directly.
type VersionResponse struct {
	Body version.Build
}
