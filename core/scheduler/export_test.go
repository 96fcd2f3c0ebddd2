package scheduler

import (
	"github.com/sethvargo/go-retry"
)

func (s *Scheduler) NewBackoff() retry.Backoff { return s.newBackoff() }
