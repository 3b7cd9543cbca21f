package progress

import (
	"io"

	"gopkg.in/cheggaaa/pb.v1"
)

// Display renders progress. Implementations must not block the caller.
type Display interface {
	Start(total int)
	Update(state State)
	Finish()
}

// NopDisplay discards every update.
type NopDisplay struct{}

func (NopDisplay) Start(int)    {}
func (NopDisplay) Update(State) {}
func (NopDisplay) Finish()      {}

// BarDisplay draws a terminal progress bar.
type BarDisplay struct {
	out    io.Writer
	prefix string
	bar    *pb.ProgressBar
}

// NewBarDisplay creates a bar writing to out.
func NewBarDisplay(out io.Writer, prefix string) *BarDisplay {
	return &BarDisplay{out: out, prefix: prefix}
}

// Start implements Display.
func (d *BarDisplay) Start(total int) {
	bar := pb.New(total)
	bar.Output = d.out
	bar.ShowCounters = true
	bar.ShowTimeLeft = false
	bar.ShowSpeed = false
	if d.prefix != "" {
		bar.Prefix(d.prefix + " ")
	}
	d.bar = bar.Start()
}

// Update implements Display.
func (d *BarDisplay) Update(state State) {
	if d.bar == nil {
		return
	}
	d.bar.Set(state.Completed)
}

// Finish implements Display.
func (d *BarDisplay) Finish() {
	if d.bar == nil {
		return
	}
	d.bar.Finish()
	d.bar = nil
}
