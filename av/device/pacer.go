package device

import "time"

// pacer releases one frame per frame duration of wall-clock time.
type pacer struct {
	next time.Time
}

// wait sleeps until the frame of the given duration is due. It returns
// false if closed fires first.
func (p *pacer) wait(frame time.Duration, closed <-chan struct{}) bool {
	now := time.Now()
	if p.next.IsZero() || now.Sub(p.next) > frame {
		// First frame, or far behind after a stall: restart the clock.
		p.next = now
	}
	p.next = p.next.Add(frame)

	delay := time.Until(p.next)
	if delay <= 0 {
		select {
		case <-closed:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-closed:
		return false
	case <-timer.C:
		return true
	}
}

// frameDuration is the playing time of n interleaved samples.
func frameDuration(n, rate, channels int) time.Duration {
	if rate <= 0 || channels <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate*channels)
}
