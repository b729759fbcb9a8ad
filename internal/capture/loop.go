package capture

import "runtime"

// loop runs on its own OS thread until running clears or the stream is
// released. done is closed on every exit path.
func (s *Session) loop(n *Negotiated, done chan<- struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if a, ok := s.sink.(Attacher); ok {
		if err := a.Attach(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to attach capture sink")
			// the stream stays open until Start or Stop reclaims it
			s.state.Store(int32(Stopped))
			s.running.Store(false)
			return
		}
		defer a.Detach()
	}

	if l, ok := s.sink.(ConfigListener); ok {
		l.OnStreamConfig(n.Stream.SampleRate())
	}

	buf := make([]int16, n.FramesPerRead)

	for s.running.Load() {
		// Stop closes the stream only after joining us, so this is a
		// best-effort check; the read timeout bounds the window.
		h := s.handle.Load()
		if h == nil {
			break
		}

		frames, err := h.Stream.Read(buf, s.readTimeout)
		if err != nil {
			s.readErrors.Add(1)
			s.errLog.Debug().Err(err).Msg("Transient read error")
			continue
		}
		if frames <= 0 {
			s.emptyReads.Add(1)
			continue
		}

		s.forward(buf[:frames])
	}
}

// forward delivers one block in a transient container. When the allocator
// refuses, the block is dropped and only the counter records it.
func (s *Session) forward(samples []int16) {
	frame, ok := s.alloc.Get(len(samples))
	if !ok {
		s.dropped.Add(1)
		return
	}
	copy(frame, samples)
	s.sink.OnPCM(frame, len(samples))
	s.alloc.Put(frame)
	s.delivered.Add(1)
}
