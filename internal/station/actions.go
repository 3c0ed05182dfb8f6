package station

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Play resumes playback unless the speaker is already playing.
func (s *Station) Play(ctx context.Context) error {
	return s.guarded(ctx, PlayCommand(), func(st State) bool { return st.Playing })
}

// Pause pauses playback unless the speaker is already paused.
func (s *Station) Pause(ctx context.Context) error {
	return s.guarded(ctx, PauseCommand(), func(st State) bool { return !st.Playing })
}

// Next skips to the next track.
func (s *Station) Next(ctx context.Context) error {
	return s.run(ctx, NextCommand())
}

// Prev returns to the previous track.
func (s *Station) Prev(ctx context.Context) error {
	return s.run(ctx, PrevCommand())
}

// Rewind seeks to position seconds. It needs the local channel.
func (s *Station) Rewind(ctx context.Context, position float64) error {
	return s.run(ctx, RewindCommand(position))
}

// Shuffle turns shuffle on or off.
func (s *Station) Shuffle(ctx context.Context, enable bool) error {
	return s.run(ctx, ShuffleCommand(enable))
}

// Repeat sets the repeat mode.
func (s *Station) Repeat(ctx context.Context, mode RepeatMode) error {
	cmd, err := RepeatCommand(mode)
	if err != nil {
		return err
	}
	return s.run(ctx, cmd)
}

// VolumeSet sets the volume, clamped to [0, 1]. Setting the current
// volume sends nothing.
func (s *Station) VolumeSet(ctx context.Context, v float64) error {
	cmd := VolumeCommand(v)
	target := *cmd.Expect.Volume
	return s.guarded(ctx, cmd, func(st State) bool { return sameVolume(st.Volume, target) })
}

// VolumeUp raises the volume by step, or by the configured step when
// step is not positive.
func (s *Station) VolumeUp(ctx context.Context, step float64) error {
	return s.stepVolume(ctx, s.volumeStep(step))
}

// VolumeDown lowers the volume by step, or by the configured step when
// step is not positive.
func (s *Station) VolumeDown(ctx context.Context, step float64) error {
	return s.stepVolume(ctx, -s.volumeStep(step))
}

func (s *Station) volumeStep(step float64) float64 {
	if step <= 0 {
		return s.cfg.VolumeStep
	}
	return step
}

func (s *Station) stepVolume(ctx context.Context, delta float64) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	cur := s.State().Volume
	cmd := VolumeCommand(cur + delta)
	if sameVolume(cur, *cmd.Expect.Volume) {
		s.skipped.Add(1)
		return nil
	}
	_, err := s.dispatch(ctx, cmd)
	return err
}

// Up moves the on-screen selection up.
func (s *Station) Up(ctx context.Context) error { return s.run(ctx, NavigationCommand(NavUp)) }

// Down moves the on-screen selection down.
func (s *Station) Down(ctx context.Context) error { return s.run(ctx, NavigationCommand(NavDown)) }

// Left moves the on-screen selection left.
func (s *Station) Left(ctx context.Context) error { return s.run(ctx, NavigationCommand(NavLeft)) }

// Right moves the on-screen selection right.
func (s *Station) Right(ctx context.Context) error { return s.run(ctx, NavigationCommand(NavRight)) }

// Click activates the selected item.
func (s *Station) Click(ctx context.Context) error { return s.run(ctx, NavigationCommand(NavClick)) }

// Home returns to the home screen.
func (s *Station) Home(ctx context.Context) error { return s.run(ctx, NavigationCommand(NavHome)) }

// Back goes back one screen.
func (s *Station) Back(ctx context.Context) error { return s.run(ctx, NavigationCommand(NavBack)) }

// Power switches the speaker on or off.
func (s *Station) Power(ctx context.Context, on bool) error {
	return s.run(ctx, PowerCommand(on))
}

// Say makes the speaker pronounce text. With volume set and different
// from the current volume, the phrase is bracketed: playback pauses, the
// volume changes for the phrase and both are restored afterwards.
func (s *Station) Say(ctx context.Context, text string, volume *float64) error {
	return s.bracketed(ctx, SayCommand(text), volume)
}

// Send makes the speaker act on text as if it heard it, bracketed like Say.
func (s *Station) Send(ctx context.Context, text string, volume *float64) error {
	return s.bracketed(ctx, SendCommand(text), volume)
}

func (s *Station) run(ctx context.Context, cmd Command) error {
	_, err := s.Dispatch(ctx, cmd)
	return err
}

// guarded dispatches cmd unless satisfied reports the observed state
// already matches.
func (s *Station) guarded(ctx context.Context, cmd Command, satisfied func(State) bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if satisfied(s.State()) {
		s.skipped.Add(1)
		s.logger.Debug("command skipped, state already matches", "device_id", s.id, "command", cmd.Name)
		return nil
	}
	_, err := s.dispatch(ctx, cmd)
	return err
}

// bracketed runs inner with the volume temporarily set to volume.
//
// The sequence is pause (if playing), set volume, inner, wait for the
// assistant to finish speaking (local mode only), restore volume, resume
// (if it was playing). Restore steps run even if earlier steps fail.
func (s *Station) bracketed(ctx context.Context, inner Command, volume *float64) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	prev := s.State()
	if volume == nil || sameVolume(prev.Volume, clampVolume(*volume)) {
		_, err := s.dispatch(ctx, inner)
		return err
	}

	var errs []error
	step := func(ctx context.Context, cmd Command) Route {
		route, err := s.dispatch(ctx, cmd)
		if err != nil {
			errs = append(errs, err)
		}
		return route
	}

	if prev.Playing {
		step(ctx, PauseCommand())
	}
	step(ctx, VolumeCommand(*volume))

	var speech *speechWatch
	if s.Mode() == ModeLocal {
		speech = s.watchSpeech()
	}
	route := step(ctx, inner)
	if speech != nil {
		if route == RouteLocal && !speech.wait(ctx, s.cfg.IdleTimeout) {
			s.logger.Debug("speech did not finish before restore", "device_id", s.id, "command", inner.Name)
		}
		speech.stop()
	}

	restore := context.WithoutCancel(ctx)
	step(restore, VolumeCommand(prev.Volume))
	if prev.Playing {
		step(restore, PlayCommand())
	}
	return errors.Join(errs...)
}

// speechWatch waits for the assistant to go from SPEAKING back to IDLE.
type speechWatch struct {
	spoke       atomic.Bool
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
}

func (s *Station) watchSpeech() *speechWatch {
	w := &speechWatch{done: make(chan struct{})}
	w.unsubscribe = s.states.Subscribe(func(st State) {
		switch st.AliceState {
		case AliceSpeaking:
			w.spoke.Store(true)
		case AliceIdle:
			if w.spoke.Load() {
				w.once.Do(func() { close(w.done) })
			}
		}
	})
	return w
}

// wait reports whether speech finished within limit.
func (w *speechWatch) wait(ctx context.Context, limit time.Duration) bool {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *speechWatch) stop() {
	w.unsubscribe()
}
