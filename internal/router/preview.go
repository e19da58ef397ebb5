package router

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/vcamlab/camswitch/internal/capture"
	"github.com/vcamlab/camswitch/internal/logging"
	"github.com/vcamlab/camswitch/internal/media"
	"github.com/vcamlab/camswitch/internal/metrics"
)

// jpegQuality is used when encoding preview frames.
const jpegQuality = 80

// Preview fans both sources' frame streams out to most-recent-frame
// snapshots, independent of which source is routed. Previews may drop
// frames under load; routing correctness never depends on them.
type Preview struct {
	router *Router
	logger *slog.Logger

	mu          sync.RWMutex
	latest      map[string]media.Frame
	lastDropped map[string]uint64
	collectors  map[string]context.CancelFunc
	baseCtx     context.Context

	wg sync.WaitGroup
}

// NewPreview creates a preview tied to the router's active-source marker.
// Sources are attached individually so the supervisor can re-attach after
// a reconnect replaces a source.
func NewPreview(r *Router) *Preview {
	return &Preview{
		router:      r,
		logger:      logging.GetLogger("preview"),
		latest:      make(map[string]media.Frame),
		lastDropped: make(map[string]uint64),
		collectors:  make(map[string]context.CancelFunc),
	}
}

// Start sets the context collectors run under.
func (p *Preview) Start(ctx context.Context) {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()
}

// Attach subscribes a collector to a source's frame stream, replacing any
// previous collector for the same identifier.
func (p *Preview) Attach(id string, src *capture.Source) {
	p.mu.Lock()
	if cancel, ok := p.collectors[id]; ok {
		cancel()
	}
	base := p.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	p.collectors[id] = cancel
	p.mu.Unlock()

	tap := src.Subscribe()
	p.wg.Add(1)
	go p.collect(ctx, id, src, tap)
}

func (p *Preview) collect(ctx context.Context, id string, src *capture.Source, tap *capture.Tap) {
	defer p.wg.Done()
	defer src.Unsubscribe(tap)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-tap.Frames():
			metrics.IncSourceFrames(id)

			p.mu.Lock()
			p.latest[id] = frame
			dropped := tap.Dropped()
			if delta := dropped - p.lastDropped[id]; delta > 0 {
				metrics.IncPreviewDrops(id, delta)
			}
			p.lastDropped[id] = dropped
			p.mu.Unlock()
		}
	}
}

// Stop halts all collectors.
func (p *Preview) Stop() {
	p.mu.Lock()
	for id, cancel := range p.collectors {
		cancel()
		delete(p.collectors, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Snapshot returns the most recent frame for a source.
func (p *Preview) Snapshot(source string) (media.Frame, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	frame, ok := p.latest[source]
	return frame, ok
}

// Active returns the routed source so renderers can highlight it.
func (p *Preview) Active() string {
	return p.router.ActiveSource()
}

// JPEG returns the most recent frame for a source encoded as JPEG.
func (p *Preview) JPEG(source string) ([]byte, error) {
	frame, ok := p.Snapshot(source)
	if !ok {
		return nil, fmt.Errorf("no frame available for source %q", source)
	}
	return EncodeJPEG(frame)
}

// EncodeJPEG converts one frame to JPEG. MJPEG frames pass through
// unchanged; raw formats are converted via image.YCbCr.
func EncodeJPEG(frame media.Frame) ([]byte, error) {
	switch frame.Format.PixelFormat {
	case media.PixelFormatMJPEG:
		return frame.Data, nil
	case media.PixelFormatYUYV:
		img, err := yuyvToImage(frame)
		if err != nil {
			return nil, err
		}
		return encodeImage(img)
	case media.PixelFormatNV12:
		img, err := nv12ToImage(frame)
		if err != nil {
			return nil, err
		}
		return encodeImage(img)
	default:
		return nil, fmt.Errorf("cannot encode %s frames as JPEG", frame.Format.PixelFormat)
	}
}

func encodeImage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// yuyvToImage unpacks packed 4:2:2 into an image.YCbCr.
func yuyvToImage(frame media.Frame) (*image.YCbCr, error) {
	width, height := int(frame.Format.Width), int(frame.Format.Height)
	if len(frame.Data) < width*height*2 {
		return nil, fmt.Errorf("short YUYV frame: %d bytes for %dx%d", len(frame.Data), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for i := range img.Cb {
		ii := i * 4
		img.Y[i*2] = frame.Data[ii]
		img.Y[i*2+1] = frame.Data[ii+2]
		img.Cb[i] = frame.Data[ii+1]
		img.Cr[i] = frame.Data[ii+3]
	}
	return img, nil
}

// nv12ToImage splits the interleaved chroma plane into an image.YCbCr.
func nv12ToImage(frame media.Frame) (*image.YCbCr, error) {
	width, height := int(frame.Format.Width), int(frame.Format.Height)
	if len(frame.Data) < width*height*3/2 {
		return nil, fmt.Errorf("short NV12 frame: %d bytes for %dx%d", len(frame.Data), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, frame.Data[:width*height])
	chroma := frame.Data[width*height:]
	for i := range img.Cb {
		img.Cb[i] = chroma[i*2]
		img.Cr[i] = chroma[i*2+1]
	}
	return img, nil
}
