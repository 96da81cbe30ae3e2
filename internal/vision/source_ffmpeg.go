package vision

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/street-safety-monitor/internal/logger"
)

// RawReader splits a raw bgr24 byte stream into frames of a fixed size.
type RawReader struct {
	r     io.Reader
	fps   float64
	frame *Frame
	index int
}

// NewRawReader reads width*height*3 bytes per frame from r.
func NewRawReader(r io.Reader, width, height int, fps float64) *RawReader {
	return &RawReader{r: r, fps: fps, frame: NewFrame(width, height)}
}

// Next returns the next complete frame. A trailing partial frame is dropped
// and reported as io.EOF.
func (rr *RawReader) Next() (*Frame, error) {
	_, err := io.ReadFull(rr.r, rr.frame.Pix)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		logger.Debug("FFmpeg", "dropping partial frame after %d frames", rr.index)
		return nil, io.EOF
	default:
		return nil, err
	}

	rr.frame.Index = rr.index
	if rr.fps > 0 {
		rr.frame.PTS = time.Duration(float64(rr.index) / rr.fps * float64(time.Second))
	}
	rr.index++
	return rr.frame, nil
}

// FFmpegSource decodes a file by piping it through an ffmpeg subprocess.
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	reader *RawReader
	info   SourceInfo
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// OpenFFmpeg probes path with ffprobe and starts ffmpeg emitting bgr24.
func OpenFFmpeg(ctx context.Context, path, ffmpegPath, ffprobePath string) (*FFmpegSource, error) {
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrNoDecoder, ffmpegPath)
	}
	if _, err := exec.LookPath(ffprobePath); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrNoDecoder, ffprobePath)
	}

	info, err := probe(ctx, path, ffprobePath)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-an", "-f", "rawvideo", "-pix_fmt", "bgr24",
		"pipe:1",
	)
	s := &FFmpegSource{cmd: cmd, info: info}
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	s.stdout = stdout
	s.reader = NewRawReader(bufio.NewReaderSize(stdout, 1<<20), info.Width, info.Height, info.FPS)

	logger.Info("FFmpeg", "decoding %s (%dx%d @ %.2f fps)", path, info.Width, info.Height, info.FPS)
	return s, nil
}

func probe(ctx context.Context, path, ffprobePath string) (SourceInfo, error) {
	out, err := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		return SourceInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseStreamInfo(out)
}

func parseStreamInfo(out []byte) (SourceInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return SourceInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return SourceInfo{}, errors.New("no video stream")
	}
	st := res.Streams[0]
	if st.Width <= 0 || st.Height <= 0 {
		return SourceInfo{}, fmt.Errorf("invalid video size %dx%d", st.Width, st.Height)
	}
	fps := parseRate(st.AvgFrameRate)
	if fps == 0 {
		fps = parseRate(st.RFrameRate)
	}
	return SourceInfo{Backend: "ffmpeg", Width: st.Width, Height: st.Height, FPS: fps}, nil
}

// parseRate parses ffprobe rates such as "30000/1001".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Next returns the next decoded frame.
func (s *FFmpegSource) Next() (*Frame, error) {
	f, err := s.reader.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}
	return f, err
}

// Info returns stream dimensions and rate.
func (s *FFmpegSource) Info() SourceInfo { return s.info }

// Close stops ffmpeg and reports its failure, if any.
func (s *FFmpegSource) Close() error {
	s.stdout.Close()
	err := s.cmd.Wait()
	if err == nil {
		return nil
	}
	// Closing the pipe early makes ffmpeg exit on SIGPIPE; that is not an error.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && s.stderr.Len() == 0 {
		return nil
	}
	return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(s.stderr.String()))
}
