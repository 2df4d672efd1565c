package core

import "sdhost/protocol"

// issue drives one command onto the bus and collects its response. The
// status poll is bounded by the command budget; exhausting it reports a
// command timeout. No retries happen at this layer.
func (c *Controller) issue(cmd protocol.Command) ([4]uint32, error) {
	var resp [4]uint32

	c.bus.WriteReg(RegIntClr, uint32(staCmdFlags))
	c.bus.WriteReg(RegArg, cmd.Arg)

	v := uint32(cmd.Index)&cmdIndexMask | uint32(cmd.Kind)<<cmdRespShift | cmdEnable
	if cmd.Index == protocol.CmdStopTransmission {
		v |= cmdStop
	}
	c.bus.WriteReg(RegCmd, v)

	var st status
	done := false
	for i := 0; i < c.cfg.CommandBudget; i++ {
		st = status(c.bus.ReadReg(RegStatus))
		if cmd.Kind == protocol.RespNone {
			if st&staCmdSent != 0 {
				done = true
				break
			}
		} else if st&(staCmdRend|staCCRCFail|staCTimeout) != 0 {
			done = true
			break
		}
	}
	c.bus.WriteReg(RegIntClr, uint32(st&staCmdFlags))
	if !done || st&staCTimeout != 0 {
		return resp, &CommandError{Index: cmd.Index, Err: ErrCommandTimeout}
	}
	// Responses without CRC protection legitimately trip the checker.
	if st&staCCRCFail != 0 && cmd.Kind != protocol.RespShortNoCRC {
		return resp, &CommandError{Index: cmd.Index, Err: ErrResponseChecksum}
	}
	if cmd.Kind == protocol.RespNone {
		return resp, nil
	}

	resp[0] = c.bus.ReadReg(RegResp1)
	if cmd.Kind == protocol.RespLong {
		resp[1] = c.bus.ReadReg(RegResp2)
		resp[2] = c.bus.ReadReg(RegResp3)
		resp[3] = c.bus.ReadReg(RegResp4)
	}
	if cmd.HasStatus {
		if cs := protocol.CardStatus(resp[0]); cs.ErrorBits() != 0 {
			return resp, &CommandError{Index: cmd.Index, Err: ErrCardStatus, Status: cs}
		}
	}
	return resp, nil
}

// appCmd prefixes an application command with CMD55 for the addressed
// card and issues it.
func (c *Controller) appCmd(cmd protocol.Command, rca uint16) error {
	if _, err := c.issue(protocol.AppCmd(rca)); err != nil {
		return err
	}
	_, err := c.issue(cmd)
	return err
}
