//go:build linux

package devices

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
	"unsafe"

	"github.com/blackjack/webcam"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/media"
)

// V4L2 capability bits and the QUERYCAP ioctl request.
const (
	vidiocQuerycap = 0x80685600

	capVideoCapture = 0x00000001
	capVideoOutput  = 0x00000002
	capDeviceCaps   = 0x80000000
)

// v4l2Capability mirrors struct v4l2_capability from videodev2.h.
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

var videoNodeRe = regexp.MustCompile(`^video\d+$`)

type linuxDetector struct {
	mu          sync.Mutex
	lastDevices map[string]DeviceInfo // key is device path
	logger      *slog.Logger
}

func newDetector() Detector {
	return &linuxDetector{
		lastDevices: make(map[string]DeviceInfo),
		logger:      logging.GetLogger("devices"),
	}
}

// List returns all currently available V4L2 devices.
func (d *linuxDetector) List() ([]DeviceInfo, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan /dev: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(paths))
	for _, path := range paths {
		if !videoNodeRe.MatchString(filepath.Base(path)) {
			continue
		}
		info, err := queryDevice(path)
		if err != nil {
			d.logger.Debug("Skipping device", "path", path, "error", err)
			continue
		}
		devices = append(devices, info)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DevicePath < devices[j].DevicePath
	})
	return devices, nil
}

// queryDevice opens a device node and reads its V4L2 capabilities.
func queryDevice(path string) (DeviceInfo, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var caps v4l2Capability
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), vidiocQuerycap, uintptr(unsafe.Pointer(&caps)))
	if errno != 0 {
		return DeviceInfo{}, fmt.Errorf("VIDIOC_QUERYCAP failed on %s: %w", path, errno)
	}

	effective := caps.capabilities
	if caps.capabilities&capDeviceCaps != 0 {
		effective = caps.deviceCaps
	}

	return DeviceInfo{
		DevicePath: path,
		DeviceName: cString(caps.card[:]),
		Driver:     cString(caps.driver[:]),
		Capture:    effective&capVideoCapture != 0,
		Output:     effective&capVideoOutput != 0,
		Caps:       effective,
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Probe returns the frame formats a capture device supports. Only discrete
// frame sizes and intervals are reported; stepwise ranges are collapsed to
// their maximum.
func (d *linuxDetector) Probe(devicePath string) ([]media.FrameFormat, error) {
	cam, err := webcam.Open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", devicePath, err)
	}
	defer cam.Close()

	var formats []media.FrameFormat
	for pixelFormat := range cam.GetSupportedFormats() {
		for _, size := range cam.GetSupportedFrameSizes(pixelFormat) {
			width, height := size.MaxWidth, size.MaxHeight
			rates := cam.GetSupportedFramerates(pixelFormat, width, height)
			if len(rates) == 0 {
				formats = append(formats, media.FrameFormat{
					Width:       width,
					Height:      height,
					PixelFormat: media.PixelFormat(pixelFormat),
					FPS:         0,
				})
				continue
			}
			for _, rate := range rates {
				if rate.MaxNumerator == 0 {
					continue
				}
				formats = append(formats, media.FrameFormat{
					Width:       width,
					Height:      height,
					PixelFormat: media.PixelFormat(pixelFormat),
					FPS:         rate.MaxDenominator / rate.MaxNumerator,
				})
			}
		}
	}

	sort.Slice(formats, func(i, j int) bool {
		return formats[i].String() < formats[j].String()
	})
	return formats, nil
}

// Watch monitors /dev for video node creation and removal and publishes
// discovery events. Blocks until ctx is cancelled.
func (d *linuxDetector) Watch(ctx context.Context, publish func(action string, device DeviceInfo)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create device watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add("/dev"); err != nil {
		return fmt.Errorf("failed to watch /dev: %w", err)
	}

	// Seed with current devices
	devices, err := d.List()
	if err != nil {
		d.logger.Warn("Failed to get initial device list", "error", err)
	} else {
		d.mu.Lock()
		for _, device := range devices {
			d.lastDevices[device.DevicePath] = device
			publish("added", device)
		}
		d.mu.Unlock()
		d.logger.Info("Initialized with V4L2 devices", "count", len(devices))
	}

	d.logger.Info("Device monitoring started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Device monitoring stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !videoNodeRe.MatchString(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			d.logger.Debug("Device node event", "op", event.Op.String(), "path", event.Name)

			// Give the kernel time to finish enumerating on creation
			if event.Op&fsnotify.Create != 0 {
				time.Sleep(1 * time.Second)
			}
			d.diffAndPublish(publish)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("Device watcher error", "error", watchErr)
		}
	}
}

// diffAndPublish compares the current device set against the last known set
// and publishes added and removed events for the differences.
func (d *linuxDetector) diffAndPublish(publish func(action string, device DeviceInfo)) {
	devices, err := d.List()
	if err != nil {
		d.logger.Error("Error listing devices", "error", err)
		return
	}

	current := make(map[string]DeviceInfo, len(devices))
	for _, device := range devices {
		current[device.DevicePath] = device
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for path, old := range d.lastDevices {
		if _, exists := current[path]; !exists {
			publish("removed", old)
			d.logger.Info("Device removed", "path", path, "name", old.DeviceName)
			delete(d.lastDevices, path)
		}
	}

	for path, device := range current {
		if _, exists := d.lastDevices[path]; !exists {
			publish("added", device)
			d.logger.Info("Device added", "path", path, "name", device.DeviceName)
			d.lastDevices[path] = device
		}
	}
}
