//go:build linux

package output

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vcamlab/camswitch/internal/media"
)

// V4L2 output constants from videodev2.h. VIDIOC_S_FMT is the 64-bit
// ioctl code (208-byte struct v4l2_format).
const (
	vidiocSetFmt = 0xc0d05604

	bufTypeVideoOutput = 2
	fieldNone          = 1
	colorspaceSRGB     = 8
)

// v4l2PixFormat mirrors struct v4l2_pix_format.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	bytesPerLine uint32
	sizeImage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format. The fmt union is 8-byte aligned
// on 64-bit kernels, hence the explicit padding word.
type v4l2Format struct {
	typ uint32
	_   uint32
	fmt [200]byte
}

// loopbackBackend writes frames to a v4l2loopback output device.
type loopbackBackend struct {
	path string
	file *os.File
}

// NewLoopbackBackend creates an output backend for a v4l2loopback device.
func NewLoopbackBackend(devicePath string) Backend {
	return &loopbackBackend{path: devicePath}
}

func (b *loopbackBackend) Open(format media.FrameFormat) error {
	file, err := os.OpenFile(b.path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", b.path, media.ErrDeviceNotFound)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("%s: %w", b.path, media.ErrPermissionDenied)
		}
		return fmt.Errorf("failed to open %s: %w", b.path, err)
	}

	frameSize := format.FrameSize()
	if frameSize == 0 {
		file.Close()
		return fmt.Errorf("%s: cannot output variable-size format %s: %w",
			b.path, format.PixelFormat, media.ErrNegotiationFailed)
	}

	var v4lFmt v4l2Format
	v4lFmt.typ = bufTypeVideoOutput
	pix := (*v4l2PixFormat)(unsafe.Pointer(&v4lFmt.fmt[0]))
	pix.width = format.Width
	pix.height = format.Height
	pix.pixelFormat = uint32(format.PixelFormat)
	pix.field = fieldNone
	pix.bytesPerLine = bytesPerLine(format)
	pix.sizeImage = uint32(frameSize)
	pix.colorspace = colorspaceSRGB

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), vidiocSetFmt, uintptr(unsafe.Pointer(&v4lFmt)))
	if errno != 0 {
		file.Close()
		return fmt.Errorf("VIDIOC_S_FMT on %s for %s failed: %w", b.path, format, errno)
	}

	b.file = file
	return nil
}

// bytesPerLine returns the stride of the luma plane for planar formats
// and of the packed line otherwise.
func bytesPerLine(format media.FrameFormat) uint32 {
	if format.PixelFormat == media.PixelFormatNV12 {
		return format.Width
	}
	return format.Width * 2
}

func (b *loopbackBackend) Write(data []byte) error {
	if b.file == nil {
		return fmt.Errorf("%s not open", b.path)
	}
	n, err := b.file.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write to %s: %d of %d bytes", b.path, n, len(data))
	}
	return nil
}

func (b *loopbackBackend) Close() error {
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}
