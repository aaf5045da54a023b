package client

// handleFrame runs for every frame the reassembler completes.
func (c *Client) handleFrame(frame []byte) error {
	if err := c.Receive(frame); err != nil {
		return err
	}
	return c.Send()
}

// Sync feeds a received chunk, possibly empty, through the engine and then gives the
// send engine one more turn. It is the single entry point of the control loop.
func (c *Client) Sync(chunk []byte) error {
	if len(chunk) > 0 {
		if err := c.rx.Feed(chunk); err != nil {
			return c.fail(err)
		}
	}
	return c.Send()
}
