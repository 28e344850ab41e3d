// Package remux launches ffmpeg to repackage an already-encoded source
// file into a live FLV/RTMP stream without re-encoding. Reading at native
// rate (-re) means wall-clock process lifetime approximates seconds of
// video delivered, which is what the resume offset is derived from.
package remux

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"worker-stream/pkg/procstate"
)

type LaunchSpec struct {
	FfmpegBin string
	InputPath string
	Offset    float64
	RtmpURL   string
	RtmpKey   string
}

// Destination joins the channel's base URL and stream key.
func (s LaunchSpec) Destination() string {
	if strings.HasSuffix(s.RtmpURL, "/") {
		return s.RtmpURL + s.RtmpKey
	}
	return s.RtmpURL + "/" + s.RtmpKey
}

// MaskedDestination hides all but the first four characters of the stream
// key so the destination can be logged.
func (s LaunchSpec) MaskedDestination() string {
	masked := "****"
	if len(s.RtmpKey) > 4 {
		masked = s.RtmpKey[:4] + "****"
	}
	if strings.HasSuffix(s.RtmpURL, "/") {
		return s.RtmpURL + masked
	}
	return s.RtmpURL + "/" + masked
}

// BuildArgs produces the ffmpeg command line for one attempt. -rw_timeout
// is in microseconds; 5s keeps a dead RTMP connection from blocking the
// child indefinitely.
func BuildArgs(spec LaunchSpec) []string {
	return []string{
		"-re",
		"-ss", strconv.FormatFloat(spec.Offset, 'f', 2, 64),
		"-i", spec.InputPath,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "flv",
		"-rtmp_live", "live",
		"-rw_timeout", "5000000",
		spec.Destination(),
	}
}

// FindBinary locates a working ffmpeg, preferring PATH and falling back
// to the usual install locations.
func FindBinary() (string, error) {
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, nil
	}

	for _, path := range []string{"/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// Process is one running remux attempt. The child is started in its own
// session so its whole process group can be signalled at once, including
// from an unrelated process that only knows the pid.
type Process struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	waitErr   error
	stderr    *tailBuffer
}

func Launch(spec LaunchSpec) (*Process, error) {
	bin := spec.FfmpegBin
	if bin == "" {
		found, err := FindBinary()
		if err != nil {
			return nil, err
		}
		bin = found
	}

	stderr := newTailBuffer(16 * 1024)
	cmd := exec.Command(bin, BuildArgs(spec)...)
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		stderr:    stderr,
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports completion without blocking.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode is only meaningful after Done is closed. A signal-terminated
// child reports -1.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

func (p *Process) RunDuration() time.Duration {
	return time.Since(p.startedAt)
}

func (p *Process) Stderr() string {
	return p.stderr.String()
}

// State inspects the child's OS-level run state for stall detection.
func (p *Process) State() (procstate.State, error) {
	if p.Exited() {
		return procstate.StateGone, nil
	}
	return procstate.Inspect(p.Pid())
}

// Terminate sends SIGTERM to the child's process group, waits up to five
// seconds, then escalates to SIGKILL. Safe to call on an already-dead
// child.
func (p *Process) Terminate() {
	pid := p.Pid()
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(5 * time.Second):
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-p.done
}

// tailBuffer keeps the last capacity bytes written, so a multi-hour
// ffmpeg run cannot grow stderr without bound while the diagnostic tail
// survives for error reporting.
type tailBuffer struct {
	cap  int
	data []byte
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > b.cap {
		b.data = b.data[len(b.data)-b.cap:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.data)
}
