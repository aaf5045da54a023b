package stream

// Batch copies every frame whole into scratch, including several coalesced in one chunk.
type Batch struct {
	scratch []byte
	handle  FrameHandler

	st      rxState
	n       int
	rl      lengthDecoder
	left    int
	dropped uint64
}

func NewBatch(scratch []byte, h FrameHandler) *Batch {
	return &Batch{scratch: scratch, handle: h}
}

func (b *Batch) Reset() {
	b.st, b.n, b.left = controlAndFlags, 0, 0
	b.rl.reset()
}

func (b *Batch) Dropped() uint64 {
	return b.dropped
}

func (b *Batch) Feed(rx []byte) error {
	l, i := len(rx), 0

	for i < l {
		switch b.st {
		case controlAndFlags:
			b.scratch[0], b.n = rx[i], 1
			b.rl.reset()
			b.st = length
			i++
		case length:
			eb := rx[i]
			i++
			b.scratch[b.n] = eb
			b.n++

			done, err := b.rl.next(eb)
			if err != nil {
				b.Reset()
				return err
			}
			if !done {
				continue
			}

			b.left = int(b.rl.rl)
			if b.n+b.left > len(b.scratch) {
				b.dropped++
				b.st = discard
			} else if b.left == 0 {
				if err := b.deliver(); err != nil {
					return err
				}
			} else {
				b.st = body
			}
		case body:
			toRead := min(l-i, b.left)
			copy(b.scratch[b.n:], rx[i:i+toRead])
			b.n += toRead
			b.left -= toRead
			i += toRead

			if b.left == 0 {
				if err := b.deliver(); err != nil {
					return err
				}
			}
		case discard:
			toRead := min(l-i, b.left)
			b.left -= toRead
			i += toRead
			if b.left == 0 {
				b.Reset()
			}
		}
	}

	return nil
}

func (b *Batch) deliver() error {
	frame := b.scratch[:b.n]
	b.Reset()
	return b.handle(frame)
}
