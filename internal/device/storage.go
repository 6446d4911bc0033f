package device

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"image"
	"image/jpeg"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/protocol"
)

// MediaKind distinguishes still images from recordings.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// Media describes a file written by Storage.
type Media struct {
	ID        string    `json:"id"`
	Kind      MediaKind `json:"kind"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	Frames    int       `json:"frames,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Storage persists captured frames and recordings.
type Storage interface {
	Save(img image.Image) (Media, error)
	OpenVideo(fps, width, height int) (string, error)
	WriteFrame(jpeg []byte) error
	CloseVideo() (Media, error)
}

// StorageConfig configures FileStorage.
type StorageConfig struct {
	ImagePath    string
	VideoPath    string
	JPEGQuality  int
	MinFreeBytes uint64
}

// DefaultMinFree is the free-space floor below which writes are refused.
const DefaultMinFree = 100 << 20

// FileStorage writes JPEG stills and Motion-JPEG videos to local
// directories. Stills and videos share one daily sequence counter.
type FileStorage struct {
	cfg StorageConfig

	mu      sync.Mutex
	seqDate string
	seq     int
	video   *videoWriter

	now       func() time.Time
	freeSpace func(dir string) (uint64, error)
}

var _ Storage = (*FileStorage)(nil)

type videoWriter struct {
	file    *os.File
	hash    hash.Hash
	name    string
	path    string
	size    int64
	frames  int
	fps     int
	width   int
	height  int
	created time.Time
}

// NewFileStorage returns a storage rooted at the configured paths. The
// directories are created lazily.
func NewFileStorage(cfg StorageConfig) *FileStorage {
	if cfg.ImagePath == "" {
		cfg.ImagePath = "./images"
	}
	if cfg.VideoPath == "" {
		cfg.VideoPath = "./videos"
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	if cfg.MinFreeBytes == 0 {
		cfg.MinFreeBytes = DefaultMinFree
	}
	return &FileStorage{cfg: cfg, now: time.Now, freeSpace: freeBytes}
}

// nextName returns "<prefix>YYYYMMDD_HHMMSS_NNN.<ext>". The sequence
// restarts when the date changes.
func (s *FileStorage) nextName(prefix, ext string) string {
	now := s.now()
	day := now.Format("20060102")
	if day != s.seqDate {
		s.seqDate = day
		s.seq = 0
	}
	s.seq++
	return fmt.Sprintf("%s%s_%03d.%s", prefix, now.Format("20060102_150405"), s.seq, ext)
}

// prepare makes sure dir exists and has room.
func (s *FileStorage) prepare(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return createError(dir, err)
	}
	free, err := s.freeSpace(dir)
	if err != nil {
		logging.Warn("free space check failed", logging.Component("storage"), "dir", dir, logging.Err(err))
		return nil
	}
	if free < s.cfg.MinFreeBytes {
		return fmt.Errorf("%s has %d MiB free: %w", dir, free>>20, protocol.DiskSpaceLow)
	}
	return nil
}

func createError(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s: %w", path, protocol.WritePermissionDenied)
	}
	return fmt.Errorf("%s: %v: %w", path, err, protocol.FileCreateFailed)
}

// Save encodes img as a JPEG still.
func (s *FileStorage) Save(img image.Image) (Media, error) {
	s.mu.Lock()
	if err := s.prepare(s.cfg.ImagePath); err != nil {
		s.mu.Unlock()
		return Media{}, err
	}
	name := s.nextName("", "jpg")
	s.mu.Unlock()

	path := filepath.Join(s.cfg.ImagePath, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Media{}, createError(path, err)
	}

	h, _ := blake2b.New256(nil)
	cw := &countingWriter{w: io.MultiWriter(f, h)}
	if err := jpeg.Encode(cw, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		f.Close()       //nolint:errcheck
		os.Remove(path) //nolint:errcheck
		return Media{}, fmt.Errorf("%s: %v: %w", path, err, protocol.JPEGEncodeFailed)
	}
	if err := f.Close(); err != nil {
		os.Remove(path) //nolint:errcheck
		return Media{}, fmt.Errorf("%s: %v: %w", path, err, protocol.FileCreateFailed)
	}

	m := Media{
		ID:        uuid.NewString(),
		Kind:      KindImage,
		Filename:  name,
		Path:      path,
		Size:      cw.n,
		Digest:    hex.EncodeToString(h.Sum(nil)),
		CreatedAt: s.now().UTC(),
	}
	logging.Info("image saved", logging.Component("storage"), "file", name, "bytes", m.Size)
	return m, nil
}

// OpenVideo starts a Motion-JPEG file. Only one video can be open.
func (s *FileStorage) OpenVideo(fps, width, height int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.video != nil {
		return "", fmt.Errorf("video %s already open: %w", s.video.name, protocol.VideoWriterInitFailed)
	}
	if err := s.prepare(s.cfg.VideoPath); err != nil {
		return "", err
	}
	name := s.nextName("VID_", "mjpg")
	path := filepath.Join(s.cfg.VideoPath, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%s: %w", path, protocol.WritePermissionDenied)
		}
		return "", fmt.Errorf("%s: %v: %w", path, err, protocol.VideoWriterInitFailed)
	}
	h, _ := blake2b.New256(nil)
	s.video = &videoWriter{
		file: f, hash: h, name: name, path: path,
		fps: fps, width: width, height: height, created: s.now().UTC(),
	}
	logging.Info("video opened", logging.Component("storage"), "file", name,
		"fps", fps, "width", width, "height", height)
	return name, nil
}

// WriteFrame appends one encoded frame to the open video.
func (s *FileStorage) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.video
	if v == nil {
		return fmt.Errorf("no open video: %w", protocol.VideoWriterInitFailed)
	}
	n, err := v.file.Write(frame)
	v.size += int64(n)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", v.name, err, protocol.H264EncodeFailed)
	}
	v.hash.Write(frame) //nolint:errcheck
	v.frames++
	return nil
}

// CloseVideo finishes the open video and describes it.
func (s *FileStorage) CloseVideo() (Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.video
	if v == nil {
		return Media{}, fmt.Errorf("no open video: %w", protocol.VideoWriterInitFailed)
	}
	s.video = nil
	if err := v.file.Close(); err != nil {
		return Media{}, fmt.Errorf("%s: %v: %w", v.name, err, protocol.FileCreateFailed)
	}
	logging.Info("video closed", logging.Component("storage"), "file", v.name, "frames", v.frames, "bytes", v.size)
	return Media{
		ID:        uuid.NewString(),
		Kind:      KindVideo,
		Filename:  v.name,
		Path:      v.path,
		Size:      v.size,
		Digest:    hex.EncodeToString(v.hash.Sum(nil)),
		Frames:    v.frames,
		CreatedAt: v.created,
	}, nil
}

// VideoOpen reports whether a recording file is open.
func (s *FileStorage) VideoOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
