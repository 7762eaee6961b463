package sim

import "github.com/soypat/adin2111/wire"

// fifo holds whole frames. bytes accounts for the frame header each
// frame occupies in device memory.
type fifo struct {
	frames [][]byte
	bytes  int
}

func (f *fifo) push(frame []byte) {
	f.frames = append(f.frames, frame)
	f.bytes += len(frame) + wire.FrameHeaderLen
}

func (f *fifo) pop() ([]byte, bool) {
	if len(f.frames) == 0 {
		return nil, false
	}
	frame := f.frames[0]
	f.frames[0] = nil
	f.frames = f.frames[1:]
	f.bytes -= len(frame) + wire.FrameHeaderLen
	return frame, true
}

func (f *fifo) peek() []byte {
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[0]
}

func (f *fifo) len() int { return len(f.frames) }

func (f *fifo) clear() {
	f.frames = nil
	f.bytes = 0
}
