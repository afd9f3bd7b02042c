package utils

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFmpegBinary and FFprobeBinary can be overridden for non-PATH installs.
var (
	FFmpegBinary  = "ffmpeg"
	FFprobeBinary = "ffprobe"
)

// RunFFmpegCommand executes an FFmpeg command
func RunFFmpegCommand(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, FFmpegBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, tail(stderr.String(), 2000))
	}

	return nil
}

// RunFFmpegPipe runs ffmpeg with stdin and returns stdout
func RunFFmpegPipe(ctx context.Context, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, FFmpegBinary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg error: %w, stderr: %s", err, tail(stderr.String(), 2000))
	}
	return stdout.Bytes(), nil
}

// GetMediaDuration returns the duration of a media file
func GetMediaDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, FFprobeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}

	durationStr := strings.TrimSpace(string(output))
	seconds, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// ListFFmpegComponents returns the names printed by `ffmpeg -muxers` or
// `ffmpeg -encoders`.
func ListFFmpegComponents(ctx context.Context, flag string) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, FFmpegBinary, "-hide_banner", flag)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w", flag, err)
	}
	return ParseFFmpegComponents(output), nil
}

// ParseFFmpegComponents parses the table printed by -muxers/-encoders. Rows
// look like " E mp4             MP4 (MPEG-4 Part 14)" or
// " V....D libx264          H.264 ..."; everything before the " --" or
// "------" separator is legend.
func ParseFFmpegComponents(output []byte) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	inTable := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if !inTable {
			if strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "------") {
				inTable = true
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		// Muxer names may be comma separated ("matroska,webm").
		for _, name := range strings.Split(fields[1], ",") {
			names[name] = true
		}
	}
	return names
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
