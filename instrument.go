package adcmt

import (
	"fmt"
)

// Typed instrument operations. Each setter submits the directive and,
// on success, records the value in the session shadow so later samples
// carry the right unit and the configuration can be replayed after a
// reopen.

// SetFunction selects the measurement function.
func (c *Client) SetFunction(f Function) error {
	cmd, err := CmdSetFunction(f)
	if err != nil {
		return err
	}
	if err := c.Exec(cmd); err != nil {
		return err
	}
	c.session.SetFunction(f)
	return nil
}

// SetRange selects the measurement range. RangeAuto restores
// autoranging.
func (c *Client) SetRange(r Range) error {
	cmd, err := CmdSetRange(r)
	if err != nil {
		return err
	}
	if err := c.Exec(cmd); err != nil {
		return err
	}
	c.session.SetRange(r)
	return nil
}

// SetTriggerSource selects the trigger source.
func (c *Client) SetTriggerSource(t TriggerSource) error {
	cmd, err := CmdSetTrigger(t)
	if err != nil {
		return err
	}
	if err := c.Exec(cmd); err != nil {
		return err
	}
	c.session.SetTrigger(t)
	return nil
}

// TriggerSource queries the active trigger source from the device.
func (c *Client) TriggerSource() (TriggerSource, error) {
	n, err := c.queryInt(CmdTriggerQuery(), "TRS")
	if err != nil {
		return 0, err
	}
	t := TriggerSource(n)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: trigger source %d in reply", ErrMalformedFrame, n)
	}
	return t, nil
}

// SetTriggerDelay sets the trigger delay in milliseconds.
func (c *Client) SetTriggerDelay(ms int) error {
	cmd, err := CmdSetTriggerDelay(ms)
	if err != nil {
		return err
	}
	return c.Exec(cmd)
}

// TriggerDelay queries the trigger delay in milliseconds.
func (c *Client) TriggerDelay() (int, error) {
	return c.queryInt(CmdTriggerDelayQuery(), "TRD")
}

// SetSamplingCount sets the number of samples taken per trigger.
func (c *Client) SetSamplingCount(n int) error {
	cmd, err := CmdSetSamplingCount(n)
	if err != nil {
		return err
	}
	if err := c.Exec(cmd); err != nil {
		return err
	}
	c.session.SetSamplingCount(n)
	return nil
}

// SamplingCount queries the samples-per-trigger count.
func (c *Client) SamplingCount() (int, error) {
	return c.queryInt(CmdSamplingCountQuery(), "SPN")
}

// SetContinuous enables or disables continuous measurement.
func (c *Client) SetContinuous(on bool) error {
	if err := c.Exec(CmdSetContinuous(on)); err != nil {
		return err
	}
	c.session.SetContinuous(on)
	return nil
}

// Continuous queries whether continuous measurement is enabled.
func (c *Client) Continuous() (bool, error) {
	n, err := c.queryInt(CmdContinuousQuery(), "INIC")
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Initiate leaves the IDLE state and starts a measurement.
func (c *Client) Initiate() error {
	return c.Exec(CmdInitiate())
}

// Abort stops any measurement in progress and returns the device to
// IDLE.
func (c *Client) Abort() error {
	return c.Exec(CmdAbort())
}

// Reset issues *RST, returning the instrument to power-on defaults.
// The shadow configuration is forgotten with it.
func (c *Client) Reset() error {
	if err := c.Exec(CmdReset()); err != nil {
		return err
	}
	c.session.ClearShadow()
	return nil
}

// queryInt runs a mnemonic-echo query and parses the integer payload.
func (c *Client) queryInt(cmd Command, prefix string) (int, error) {
	res, err := c.Query(cmd)
	if err != nil {
		return 0, err
	}
	if res.Status != nil {
		return 0, res.Status
	}
	return parseEchoInt(prefix, res.Frame.Data)
}
