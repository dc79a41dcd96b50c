package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Info describes an input video.
type Info struct {
	Path     string        `json:"path"`
	Codec    string        `json:"codec,omitempty"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	FPS      float64       `json:"fps"`
	Duration time.Duration `json:"duration"`
	// Frames is the expected frame count, exact when the container records it
	// and estimated from duration otherwise. Zero when unknown.
	Frames int64 `json:"frames"`
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads video stream metadata with ffprobe.
func Probe(ctx context.Context, path string) (*Info, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, fmt.Errorf("ffprobe failed: %w (output: %s)", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(path, output)
}

func parseProbe(path string, data []byte) (*Info, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("%s: no video stream", path)
	}

	s := out.Streams[0]
	info := &Info{
		Path:   path,
		Codec:  s.CodecName,
		Width:  s.Width,
		Height: s.Height,
		FPS:    parseRate(s.AvgFrameRate),
	}
	if info.FPS == 0 {
		info.FPS = parseRate(s.RFrameRate)
	}

	durStr := s.Duration
	if durStr == "" || durStr == "N/A" {
		durStr = out.Format.Duration
	}
	if secs, err := strconv.ParseFloat(durStr, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}

	if n, err := strconv.ParseInt(s.NbFrames, 10, 64); err == nil && n > 0 {
		info.Frames = n
	} else if info.FPS > 0 && info.Duration > 0 {
		info.Frames = int64(math.Round(info.Duration.Seconds() * info.FPS))
	}
	return info, nil
}

// parseRate parses ffprobe rates such as "30000/1001" or "25".
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

// Sampled returns a copy of the info adjusted for decimation to fps.
func (i Info) Sampled(fps float64) Info {
	if fps <= 0 || i.FPS == 0 || fps >= i.FPS {
		return i
	}
	i.Frames = int64(math.Ceil(float64(i.Frames) * fps / i.FPS))
	i.FPS = fps
	return i
}
