package pipeline

import "github.com/sirupsen/logrus"

// detach runs fn on its own goroutine. Failures are logged, never
// propagated into the caller's control flow.
func detach(log *logrus.Entry, name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			log.WithError(err).WithField("task", name).Warn("detached task failed")
		}
	}()
}
