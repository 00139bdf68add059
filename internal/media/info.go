package media

import "time"

// Info is what the pipeline needs to know about a source file.
type Info struct {
	Duration  time.Duration
	Width     int
	Height    int
	FrameRate string
	HasAudio  bool
}

// TrimRequest cuts [Start, Start+Length) out of Input into Output.
type TrimRequest struct {
	Input    string
	Output   string
	Start    time.Duration
	Length   time.Duration
	HasAudio bool
}
