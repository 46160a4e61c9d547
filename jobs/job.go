package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job runs a task on a fixed interval in its own goroutine.
type Job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
	log      *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newJob(name string, interval time.Duration, log *zap.Logger, run func(ctx context.Context)) *Job {
	return &Job{
		name:     name,
		interval: interval,
		run:      run,
		log:      log.Named("jobs").With(zap.String("job", name)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the job. The first run happens immediately.
func (j *Job) Start() {
	go j.loop()
	j.log.Info("job started", zap.Duration("interval", j.interval))
}

// Stop cancels any run in progress and waits for the goroutine to exit.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	<-j.done
	j.log.Info("job stopped")
}

func (j *Job) loop() {
	defer close(j.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-j.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.run(ctx)
	for {
		select {
		case <-ticker.C:
			j.run(ctx)
		case <-j.stop:
			return
		}
	}
}
