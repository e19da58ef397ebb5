package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/vcamlab/camswitch/internal/api/models"
	"github.com/vcamlab/camswitch/internal/media"
)

// V4L2 capability flags relevant to routing (from linux/videodev2.h)
const (
	v4l2CapVideoCapture = 0x00000001
	v4l2CapVideoOutput  = 0x00000002
	v4l2CapStreaming    = 0x04000000
	v4l2CapReadWrite    = 0x01000000
)

// translateCapabilities converts V4L2 capability flags to readable strings
func translateCapabilities(caps uint32) []string {
	var capabilities []string

	capMap := []struct {
		flag uint32
		name string
	}{
		{v4l2CapVideoCapture, "Video Capture"},
		{v4l2CapVideoOutput, "Video Output"},
		{v4l2CapStreaming, "Streaming I/O"},
		{v4l2CapReadWrite, "Read/Write I/O"},
	}

	for _, c := range capMap {
		if caps&c.flag != 0 {
			capabilities = append(capabilities, c.name)
		}
	}

	return capabilities
}

// ProbeInput selects the device to probe for capture formats.
type ProbeInput struct {
	DevicePath string `query:"device_path" example:"/dev/video0" doc:"Path to the video device"`
}

// registerDeviceRoutes registers device discovery endpoints
func (s *Server) registerDeviceRoutes() {
	// List all devices
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List all available V4L2 video devices",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.DeviceResponse, error) {
		found, err := s.detector.List()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list devices", err)
		}

		list := make([]models.DeviceInfo, len(found))
		for i, dev := range found {
			list[i] = models.DeviceInfo{
				DevicePath:   dev.DevicePath,
				DeviceName:   dev.DeviceName,
				Driver:       dev.Driver,
				Capture:      dev.Capture,
				Output:       dev.Output,
				Caps:         dev.Caps,
				Capabilities: translateCapabilities(dev.Caps),
			}
		}

		return &models.DeviceResponse{
			Body: models.DeviceData{Devices: list, Count: len(list)},
		}, nil
	})

	// Probe a capture device for supported formats
	huma.Register(s.api, huma.Operation{
		OperationID: "probe-device",
		Method:      http.MethodGet,
		Path:        "/api/devices/probe",
		Summary:     "Probe Formats",
		Description: "List the frame formats a capture device supports",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500},
	}, func(ctx context.Context, input *ProbeInput) (*models.ProbeResponse, error) {
		formats, err := s.detector.Probe(input.DevicePath)
		if err != nil {
			if errors.Is(err, media.ErrDeviceNotFound) {
				return nil, huma.Error404NotFound("Device not found", err)
			}
			return nil, huma.Error500InternalServerError("Failed to probe device", err)
		}

		return &models.ProbeResponse{
			Body: models.ProbeData{
				DevicePath: input.DevicePath,
				Formats:    formats,
			},
		}, nil
	})
}
