package devices

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/vcamlab/camswitch/internal/media"
)

// Selection is the trio of device paths a routing session runs with.
type Selection struct {
	CameraA       string
	CameraB       string
	VirtualOutput string
}

// Resolve checks that path names an accessible character device with the
// given access mode (unix.R_OK for capture, unix.W_OK for output).
func Resolve(path string, mode uint32) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, media.ErrDeviceNotFound)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return fmt.Errorf("%s is not a character device: %w", path, media.ErrDeviceNotFound)
	}
	if err := unix.Access(path, mode); err != nil {
		return fmt.Errorf("%s: %w", path, media.ErrPermissionDenied)
	}
	return nil
}

// Complete reports whether all three device slots are configured.
func (s Selection) Complete() bool {
	return s.CameraA != "" && s.CameraB != "" && s.VirtualOutput != ""
}

// WithDefaults fills empty slots from the detected device set: capture-only
// devices for the cameras, in enumeration order, and the first writable
// output for the virtual device. Configured slots and already-claimed paths
// are never overridden.
func (s Selection) WithDefaults(detected []DeviceInfo) Selection {
	claimed := func(path string) bool {
		return path == s.CameraA || path == s.CameraB || path == s.VirtualOutput
	}
	for _, target := range []*string{&s.CameraA, &s.CameraB} {
		if *target != "" {
			continue
		}
		for _, d := range detected {
			if d.Capture && !d.Output && !claimed(d.DevicePath) {
				*target = d.DevicePath
				break
			}
		}
	}
	if s.VirtualOutput == "" {
		for _, d := range detected {
			if d.Output && !claimed(d.DevicePath) {
				s.VirtualOutput = d.DevicePath
				break
			}
		}
	}
	return s
}

// ValidateStructure checks the selection's shape without touching devices:
// all three paths set, the two capture inputs distinct, and the virtual
// output not one of the inputs.
func (s Selection) ValidateStructure() error {
	if s.CameraA == "" || s.CameraB == "" {
		return fmt.Errorf("both camera devices must be configured")
	}
	if s.VirtualOutput == "" {
		return fmt.Errorf("virtual output device must be configured")
	}
	if s.CameraA == s.CameraB {
		return fmt.Errorf("camera a and camera b must be distinct devices, both are %s", s.CameraA)
	}
	if s.VirtualOutput == s.CameraA || s.VirtualOutput == s.CameraB {
		return fmt.Errorf("virtual output %s must not be one of the camera devices", s.VirtualOutput)
	}
	return nil
}

// Validate checks the selection's structure and that every device node
// exists with the required access mode.
func (s Selection) Validate() error {
	if err := s.ValidateStructure(); err != nil {
		return err
	}

	if err := Resolve(s.CameraA, unix.R_OK); err != nil {
		return fmt.Errorf("camera a: %w", err)
	}
	if err := Resolve(s.CameraB, unix.R_OK); err != nil {
		return fmt.Errorf("camera b: %w", err)
	}
	if err := Resolve(s.VirtualOutput, unix.W_OK); err != nil {
		return fmt.Errorf("virtual output: %w", err)
	}
	return nil
}

// DevicePath returns the configured path for a source identifier.
func (s Selection) DevicePath(source string) (string, error) {
	switch source {
	case "a":
		return s.CameraA, nil
	case "b":
		return s.CameraB, nil
	default:
		return "", fmt.Errorf("unknown source %q", source)
	}
}
