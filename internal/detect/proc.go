package detect

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/visiona/lookout/internal/geometry"
	"github.com/visiona/lookout/internal/types"
)

// ProcDetector bridges to an external inference worker process. The
// tensor goes out over stdin and detections come back over stdout,
// both as length-prefixed MsgPack messages. One request is in flight
// at a time.
type ProcDetector struct {
	command string
	args    []string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	reqMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool

	inferenceCount uint64
	totalLatencyMS uint64
}

// ProcDetectorConfig configures the worker subprocess launch.
type ProcDetectorConfig struct {
	// Command is the worker executable or wrapper script.
	Command string
	// ModelPath is passed through as --model.
	ModelPath string
	// AnchorsPath is passed through as --anchors when set.
	AnchorsPath string
	// ScoreThreshold and IOUThreshold are passed to the worker; boxes
	// below the score or suppressed by NMS never cross the pipe.
	ScoreThreshold float64
	IOUThreshold   float64
}

// NewProcDetector validates the config and builds the bridge. The
// subprocess is not launched until Start.
func NewProcDetector(cfg ProcDetectorConfig) (*ProcDetector, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.4
	}
	if cfg.IOUThreshold <= 0 {
		cfg.IOUThreshold = 0.45
	}

	args := []string{
		"--model", cfg.ModelPath,
		"--score", fmt.Sprintf("%.2f", cfg.ScoreThreshold),
		"--iou", fmt.Sprintf("%.2f", cfg.IOUThreshold),
	}
	if cfg.AnchorsPath != "" {
		args = append(args, "--anchors", cfg.AnchorsPath)
	}

	return &ProcDetector{command: cfg.Command, args: args}, nil
}

// Start launches the worker process and its supervision goroutines.
func (d *ProcDetector) Start(ctx context.Context) error {
	if d.isActive.Load() {
		return fmt.Errorf("detector already started")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.cmd = exec.CommandContext(d.ctx, d.command, d.args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	d.stdin = stdin

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	d.stdout = stdout

	stderr, err := d.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	d.stderr = stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("starting worker process: %w", err)
	}

	d.isActive.Store(true)

	d.wg.Add(1)
	go d.logStderr()
	d.wg.Add(1)
	go d.waitProcess()

	slog.Info("inference worker started",
		"command", d.command,
		"pid", d.cmd.Process.Pid,
	)
	return nil
}

type procRequest struct {
	Width       int       `msgpack:"width"`
	Height      int       `msgpack:"height"`
	FrameWidth  int       `msgpack:"frame_width"`
	FrameHeight int       `msgpack:"frame_height"`
	Pixels      []float32 `msgpack:"pixels"`
}

type procResponse struct {
	Detections []types.RawDetection `msgpack:"detections"`
	Error      string               `msgpack:"error"`
}

// Infer sends one tensor and blocks for its result. Pipe faults and
// worker-reported errors wrap ErrDetectorFailure.
func (d *ProcDetector) Infer(ctx context.Context, tensor geometry.Tensor) ([]types.RawDetection, error) {
	if !d.isActive.Load() {
		return nil, fmt.Errorf("%w: worker not running", ErrDetectorFailure)
	}

	d.reqMu.Lock()
	defer d.reqMu.Unlock()

	start := time.Now()

	req := procRequest{
		Width:       tensor.Width,
		Height:      tensor.Height,
		FrameWidth:  tensor.FrameWidth,
		FrameHeight: tensor.FrameHeight,
		Pixels:      tensor.Pixels,
	}
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", ErrDetectorFailure, err)
	}

	if err := d.writeFrame(ctx, payload); err != nil {
		return nil, err
	}

	resp, err := d.readFrame(ctx)
	if err != nil {
		return nil, err
	}

	var result procResponse
	if err := msgpack.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrDetectorFailure, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: worker: %s", ErrDetectorFailure, result.Error)
	}

	atomic.AddUint64(&d.inferenceCount, 1)
	atomic.AddUint64(&d.totalLatencyMS, uint64(time.Since(start).Milliseconds()))

	return result.Detections, nil
}

// writeFrame writes a length-prefixed message to the worker stdin.
// The prefix is 4 bytes big-endian so the worker can find message
// boundaries in the byte stream.
func (d *ProcDetector) writeFrame(ctx context.Context, payload []byte) error {
	done := make(chan error, 1)
	go func() {
		prefix := make([]byte, 4)
		binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
		if _, err := d.stdin.Write(prefix); err != nil {
			done <- err
			return
		}
		_, err := d.stdin.Write(payload)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: writing to worker: %v", ErrDetectorFailure, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDetectorFailure, ctx.Err())
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%w: stdin write timeout, worker may be hung", ErrDetectorFailure)
	}
}

// readFrame reads one length-prefixed message from the worker stdout.
func (d *ProcDetector) readFrame(ctx context.Context) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		prefix := make([]byte, 4)
		if _, err := io.ReadFull(d.stdout, prefix); err != nil {
			done <- readResult{nil, err}
			return
		}
		data := make([]byte, binary.BigEndian.Uint32(prefix))
		_, err := io.ReadFull(d.stdout, data)
		done <- readResult{data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: reading from worker: %v", ErrDetectorFailure, r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrDetectorFailure, ctx.Err())
	}
}

// logStderr forwards worker stderr into the structured log, mapping
// the worker's level tags onto slog levels.
func (d *ProcDetector) logStderr() {
	defer d.wg.Done()

	scanner := bufio.NewScanner(d.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("inference worker error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("inference worker warning", "log", line)
		default:
			slog.Debug("inference worker log", "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("reading worker stderr", "error", err)
	}
}

// waitProcess reaps the worker process so it never lingers as a zombie.
func (d *ProcDetector) waitProcess() {
	defer d.wg.Done()

	if d.cmd == nil || d.cmd.Process == nil {
		return
	}

	err := d.cmd.Wait()
	d.isActive.Store(false)

	if err == nil {
		slog.Info("inference worker exited cleanly", "pid", d.cmd.Process.Pid)
		return
	}
	select {
	case <-d.ctx.Done():
		slog.Debug("inference worker exited (shutdown)", "pid", d.cmd.Process.Pid)
	default:
		slog.Error("inference worker exited unexpectedly",
			"pid", d.cmd.Process.Pid,
			"error", err,
		)
	}
}

// Stats reports cumulative inference counters.
func (d *ProcDetector) Stats() (inferences uint64, avgLatencyMS float64) {
	inferences = atomic.LoadUint64(&d.inferenceCount)
	total := atomic.LoadUint64(&d.totalLatencyMS)
	if inferences > 0 {
		avgLatencyMS = float64(total) / float64(inferences)
	}
	return inferences, avgLatencyMS
}

// Stop closes the pipe, cancels the process and waits for supervision
// goroutines. A hung worker is killed after a grace period.
func (d *ProcDetector) Stop() error {
	if !d.isActive.Load() && d.cancel == nil {
		return nil
	}
	d.isActive.Store(false)

	if d.stdin != nil {
		d.stdin.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("inference worker stopped")
	case <-time.After(2 * time.Second):
		slog.Warn("inference worker stop timeout, killing process")
		if d.cmd != nil && d.cmd.Process != nil {
			if err := d.cmd.Process.Kill(); err != nil {
				slog.Error("killing worker process", "error", err)
			}
		}
	}
	return nil
}
