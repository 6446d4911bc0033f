package device

import (
	"context"
	"fmt"
	"image"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/protocol"
)

// SimulatorConfig describes the simulated sensor.
type SimulatorConfig struct {
	Serial     string
	MaxWidth   int
	MaxHeight  int
	Width      int
	Height     int
	ExposureUs float64
	Gain       float64
	GainMin    float64
	GainMax    float64
}

// DefaultSimulatorConfig models a 20 MP sensor streaming at 1080p.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Serial:     "SIM-0001",
		MaxWidth:   5472,
		MaxHeight:  3648,
		Width:      1920,
		Height:     1080,
		ExposureUs: 10000,
		Gain:       1.0,
		GainMin:    0,
		GainMax:    24,
	}
}

const (
	exposureMinUs = 20
	exposureMaxUs = 10_000_000
)

// Simulator is a Camera that renders a moving test pattern. Unplug makes it
// behave like a device that dropped off the bus.
type Simulator struct {
	mu         sync.Mutex
	cfg        SimulatorConfig
	connected  bool
	present    bool
	continuous bool
	frame      uint64

	exposureAuto bool
	exposureUs   float64
	gain         float64
	gainAuto     bool
	wbAuto       bool
	wb           [3]float64
	width        int
	height       int
	fpsEnabled   bool
	fps          float64
	pixelFormat  string
}

var _ Camera = (*Simulator)(nil)

// NewSimulator returns a disconnected simulator. Zero fields in cfg take
// their defaults.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	def := DefaultSimulatorConfig()
	if cfg.Serial == "" {
		cfg.Serial = def.Serial
	}
	if cfg.MaxWidth <= 0 || cfg.MaxHeight <= 0 {
		cfg.MaxWidth, cfg.MaxHeight = def.MaxWidth, def.MaxHeight
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = min(def.Width, cfg.MaxWidth), min(def.Height, cfg.MaxHeight)
	}
	if cfg.ExposureUs <= 0 {
		cfg.ExposureUs = def.ExposureUs
	}
	if cfg.Gain <= 0 {
		cfg.Gain = def.Gain
	}
	if cfg.GainMax <= cfg.GainMin {
		cfg.GainMin, cfg.GainMax = def.GainMin, def.GainMax
	}
	s := &Simulator{cfg: cfg, present: true}
	s.applyDefaults()
	return s
}

func (s *Simulator) applyDefaults() {
	s.exposureAuto = false
	s.exposureUs = s.cfg.ExposureUs
	s.gain = s.cfg.Gain
	s.gainAuto = false
	s.wbAuto = true
	s.wb = [3]float64{1, 1, 1}
	s.width, s.height = s.cfg.Width, s.cfg.Height
	s.pixelFormat = "BGR8"
}

// Connect opens the simulated device and applies the default parameters.
func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return fmt.Errorf("camera %s: %w", s.cfg.Serial, protocol.CameraNotConnected)
	}
	if !s.connected {
		s.connected = true
		s.applyDefaults()
		logging.Info("camera connected", logging.Component("camera"), "serial", s.cfg.Serial,
			"width", s.width, "height", s.height)
	}
	return nil
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.continuous = false
	return nil
}

func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Unplug drops the connection and makes Connect fail until Replug.
func (s *Simulator) Unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = false
	s.connected = false
	s.continuous = false
}

func (s *Simulator) Replug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = true
}

// Grab renders one frame at the current resolution.
func (s *Simulator) Grab(ctx context.Context, timeout time.Duration) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if !s.present {
		s.mu.Unlock()
		return nil, protocol.CameraDisconnected
	}
	if !s.connected {
		s.mu.Unlock()
		return nil, protocol.CameraNotConnected
	}
	s.frame++
	w, h, n := s.width, s.height, s.frame
	bright := s.brightness()
	s.mu.Unlock()

	return testPattern(w, h, n, bright), nil
}

// brightness scales the pattern with exposure and gain so parameter
// changes are visible in the output.
func (s *Simulator) brightness() float64 {
	exp := s.exposureUs / s.cfg.ExposureUs
	return math.Max(0.2, math.Min(2, exp*s.gain/s.cfg.Gain))
}

func (s *Simulator) StartContinuous() error {
	return s.withConnected(func() error {
		s.continuous = true
		return nil
	})
}

func (s *Simulator) StopContinuous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.continuous = false
	return nil
}

func (s *Simulator) withConnected(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return protocol.CameraNotConnected
	}
	return fn()
}

// SetExposure clamps out-of-range manual values instead of rejecting them.
func (s *Simulator) SetExposure(auto bool, microseconds float64) error {
	return s.withConnected(func() error {
		s.exposureAuto = auto
		if !auto {
			s.exposureUs = math.Max(exposureMinUs, math.Min(exposureMaxUs, microseconds))
		}
		return nil
	})
}

func (s *Simulator) SetWhiteBalance(auto bool, red, green, blue float64) error {
	return s.withConnected(func() error {
		s.wbAuto = auto
		if !auto {
			for _, v := range []float64{red, green, blue} {
				if v <= 0 || v > 15 {
					return fmt.Errorf("white balance ratio %.2f: %w", v, protocol.CameraParamFailed)
				}
			}
			s.wb = [3]float64{red, green, blue}
		}
		return nil
	})
}

func (s *Simulator) SetGain(gain float64) error {
	return s.withConnected(func() error {
		if s.gainAuto {
			return fmt.Errorf("gain is automatic: %w", protocol.CameraParamFailed)
		}
		s.gain = math.Max(s.cfg.GainMin, math.Min(s.cfg.GainMax, gain))
		return nil
	})
}

func (s *Simulator) SetGainAuto(enabled bool) error {
	return s.withConnected(func() error {
		s.gainAuto = enabled
		return nil
	})
}

func (s *Simulator) SetResolution(width, height int) error {
	return s.withConnected(func() error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("resolution %dx%d: %w", width, height, protocol.CameraParamFailed)
		}
		if width > s.cfg.MaxWidth || height > s.cfg.MaxHeight {
			return fmt.Errorf("resolution %dx%d exceeds %dx%d: %w",
				width, height, s.cfg.MaxWidth, s.cfg.MaxHeight, protocol.CameraUnsupportedRes)
		}
		s.width, s.height = width, height
		return nil
	})
}

func (s *Simulator) SetFrameRate(enabled bool, fps float64) error {
	return s.withConnected(func() error {
		if enabled && (fps <= 0 || fps > 120) {
			return fmt.Errorf("frame rate %.2f: %w", fps, protocol.CameraParamFailed)
		}
		s.fpsEnabled = enabled
		if enabled {
			s.fps = fps
		}
		return nil
	})
}

var simulatorFormats = []string{"BayerRG8", "BayerRG12", "BGR8", "RGB8", "Mono8"}

func (s *Simulator) SetPixelFormat(name string) error {
	return s.withConnected(func() error {
		if !slices.Contains(simulatorFormats, name) {
			return fmt.Errorf("pixel format %q: %w", name, protocol.CameraParamFailed)
		}
		s.pixelFormat = name
		return nil
	})
}

func (s *Simulator) Parameters() (protocol.Params, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return protocol.Params{}, false
	}
	p := protocol.Params{
		ExposureMode: 1,
		ExposureUs:   uint32(s.exposureUs),
		Gain:         s.gain,
		WBMode:       1,
		WBRed:        s.wb[0],
		WBGreen:      s.wb[1],
		WBBlue:       s.wb[2],
		Width:        uint16(s.width),
		Height:       uint16(s.height),
	}
	if s.exposureAuto {
		p.ExposureMode = 0
	}
	if s.wbAuto {
		p.WBMode = 0
	}
	return p, true
}

func (s *Simulator) GainRange() (lo, hi float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, 0
	}
	return s.cfg.GainMin, s.cfg.GainMax
}

func (s *Simulator) GainAuto() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gainAuto
}

func (s *Simulator) SupportedResolutions() []protocol.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	return resolutionsFor(s.cfg.MaxWidth, s.cfg.MaxHeight)
}

// PixelFormat returns the active pixel format name.
func (s *Simulator) PixelFormat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pixelFormat
}

// testPattern draws a gradient with a grid and a dot that advances one
// step per frame. Pixels are written directly into the buffer.
func testPattern(width, height int, frame uint64, bright float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pix := img.Pix
	stride := img.Stride
	scale := func(v int) uint8 { return uint8(math.Min(255, float64(v)*bright)) }

	for y := 0; y < height; y++ {
		g := scale(50 + (y * 100 / height))
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i+0] = scale(50 + (x * 100 / width))
			pix[i+1] = g
			pix[i+2] = scale(100)
			pix[i+3] = 255
		}
	}

	grid := max(8, width/40)
	for x := 0; x < width; x += grid {
		for y := 0; y < height; y++ {
			i := y*stride + x*4
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}
	for y := 0; y < height; y += grid {
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}

	r := max(2, height/100)
	cx := int(frame*uint64(max(1, width/60))) % width
	cy := height / 2
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			px, py := cx+dx, cy+dy
			if px >= 0 && px < width && py >= 0 && py < height {
				i := py*stride + px*4
				pix[i], pix[i+1], pix[i+2] = 255, 100, 100
			}
		}
	}
	return img
}
