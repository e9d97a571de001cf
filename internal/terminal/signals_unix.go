//go:build unix

package terminal

import (
	"os"
	"os/signal"
	"syscall"
)

// watchSignals refuses job-control stops while the attempt runs and tracks
// window resizes.
func (p *Provider) watchSignals() func() {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGTSTP, syscall.SIGWINCH)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				switch sig {
				case syscall.SIGTSTP:
					p.suspended()
				case syscall.SIGWINCH:
					p.checkSize()
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
