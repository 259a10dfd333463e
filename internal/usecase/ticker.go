package usecase

import "time"

// liveTicker emits the running duration while a segment is recording.
// Start and Stop are called with SessionController.mu held; the loop never
// takes that lock, so Stop can wait for it to exit.
type liveTicker struct {
	interval time.Duration
	now      func() time.Time
	emit     func(time.Duration)

	stop chan struct{}
	done chan struct{}
}

func newLiveTicker(interval time.Duration, now func() time.Time, emit func(time.Duration)) *liveTicker {
	return &liveTicker{interval: interval, now: now, emit: emit}
}

// Start restarts the loop reporting base plus the time since since.
func (t *liveTicker) Start(base time.Duration, since time.Time) {
	t.Stop()
	if t.interval <= 0 {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				elapsed := base
				if now := t.now(); now.After(since) {
					elapsed += now.Sub(since)
				}
				t.emit(elapsed)
			}
		}
	}()
}

func (t *liveTicker) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
}

func (t *liveTicker) Running() bool {
	return t.stop != nil
}
