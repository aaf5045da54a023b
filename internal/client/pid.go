package client

const (
	pidTaps = 0xB400
	pidSeed = 163
)

// nextPacketID steps a 16 bit Galois LFSR until it lands on an identifier no queued message holds.
func (c *Client) nextPacketID() uint16 {
	if c.pidLFSR == 0 {
		c.pidLFSR = pidSeed
	}

	for {
		lsb := c.pidLFSR & 1
		c.pidLFSR >>= 1
		if lsb != 0 {
			c.pidLFSR ^= pidTaps
		}
		if !c.q.HasPacketID(c.pidLFSR) {
			return c.pidLFSR
		}
	}
}
