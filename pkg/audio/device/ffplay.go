package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/MrWong99/liveinterview/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*FFplay)(nil)

// FFplay plays through an ffplay child process fed on stdin. It is the
// fallback speaker for hosts where the oto backend is unavailable.
type FFplay struct {
	// Path to the ffplay binary. Empty means "ffplay" on $PATH.
	Path string
}

// Open implements [audio.Output].
func (f *FFplay) Open(ctx context.Context) (audio.Playback, error) {
	path := f.Path
	if path == "" {
		path = "ffplay"
	}
	cmd := exec.Command(path,
		"-hide_banner", "-loglevel", "error", "-nostats", "-nodisp",
		"-f", "s16le", "-ch_layout", "mono",
		"-ar", strconv.Itoa(audio.PlaybackSampleRate),
		"-i", "-",
	)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("device: ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("device: start ffplay: %w", err)
	}

	out := &PipeOutput{Writer: stdin}
	pb, err := out.Open(ctx)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	return &ffplayPlayback{Playback: pb, cmd: cmd, stdin: stdin}, nil
}

type ffplayPlayback struct {
	audio.Playback
	cmd   *exec.Cmd
	stdin io.Closer
	once  sync.Once
}

func (p *ffplayPlayback) Close() error {
	var err error
	p.once.Do(func() {
		err = p.Playback.Close()
		_ = p.stdin.Close()
		_ = p.cmd.Wait()
	})
	return err
}
