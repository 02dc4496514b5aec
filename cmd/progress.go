package cmd

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// barSink draws batch progress as a single terminal bar. It satisfies
// downloader.ProgressSink.
type barSink struct {
	p      *mpb.Progress
	bar    *mpb.Bar
	status atomic.Value
}

func newBarSink(w io.Writer, prefix string) *barSink {
	s := &barSink{
		p: mpb.New(
			mpb.WithWidth(40),
			mpb.WithOutput(w),
			mpb.WithRefreshRate(120*time.Millisecond),
		),
	}
	s.status.Store("Starting download...")

	s.bar = s.p.New(100,
		mpb.BarStyle().Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(prefix+"  "),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncWidth),
			decor.Any(func(decor.Statistics) string {
				return " | " + s.status.Load().(string)
			}),
		),
	)
	return s
}

func (s *barSink) Update(percent int, status string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		// the bar completes only through Done
		percent = 99
	}
	s.status.Store(status)
	s.bar.SetCurrent(int64(percent))
}

// Done fills the bar and waits for the final render.
func (s *barSink) Done() {
	s.status.Store("Finished")
	s.bar.SetCurrent(100)
	s.p.Wait()
}

// Abort leaves the bar where it stopped.
func (s *barSink) Abort() {
	s.bar.Abort(false)
	s.p.Wait()
}
