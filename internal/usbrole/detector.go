package usbrole

import "context"

// "USB" follows VBUS and "USB-HOST" follows !ID, but the two are never
// reported together. Which line fired decides which one is looked at:
//
//	trigger  line level  result
//	-------  ----------  ----------------------------------------
//	ID       high        Host off                      -> none
//	ID       low         USB off, Host on              -> host
//	VBUS     low         USB off                       -> none
//	VBUS     high        USB on                        -> peripheral
//
// Without a trigger (startup, resume) the previous role picks the line:
//
//	from        check       result
//	----------  ----------  ----------------------------------------
//	none        VBUS low    Host off, USB off             -> none
//	none        VBUS high   Host off, USB on              -> peripheral
//	peripheral  VBUS low    USB off                       -> none
//	peripheral  VBUS high   USB on                        -> peripheral
//	host        ID high     Host off                      -> none
//	host        ID low      Host on                       -> host
//
// A forced check never moves straight into host; only an ID edge does.
func decide(trigger Trigger, prev Role, r Reading) (Role, []StateChange) {
	switch trigger {
	case TriggerID:
		if r.idAsserted() {
			return RoleNone, []StateChange{{CapabilityUSBHost, false}}
		}
		return RoleHost, []StateChange{{CapabilityUSB, false}, {CapabilityUSBHost, true}}

	case TriggerVBUS:
		if !r.vbusAsserted() {
			return RoleNone, []StateChange{{CapabilityUSB, false}}
		}
		return RolePeripheral, []StateChange{{CapabilityUSB, true}}
	}

	switch prev {
	case RoleNone:
		if !r.vbusAsserted() {
			return RoleNone, []StateChange{{CapabilityUSBHost, false}, {CapabilityUSB, false}}
		}
		return RolePeripheral, []StateChange{{CapabilityUSBHost, false}, {CapabilityUSB, true}}

	case RolePeripheral:
		if !r.vbusAsserted() {
			return RoleNone, []StateChange{{CapabilityUSB, false}}
		}
		return RolePeripheral, []StateChange{{CapabilityUSB, true}}

	case RoleHost:
		if r.idAsserted() {
			return RoleNone, []StateChange{{CapabilityUSBHost, false}}
		}
		return RoleHost, []StateChange{{CapabilityUSBHost, true}}
	}

	return prev, nil
}

// evaluate consumes the trigger record, samples the lines and applies the
// transition table. It is the only writer of p.role.
func (p *Port) evaluate(ctx context.Context) Role {
	p.evalMu.Lock()
	defer p.evalMu.Unlock()

	trigger := p.takeTrigger()
	if (trigger == TriggerID && p.id == nil) || (trigger == TriggerVBUS && p.vbus == nil) {
		trigger = TriggerNone
	}

	reading := p.sample(ctx)
	prev := p.role
	next, changes := decide(trigger, prev, reading)

	for _, c := range changes {
		p.publish(ctx, c.Capability, c.Active)
	}
	p.role = next
	p.evaluations.Add(1)

	p.logger.Debug("cable state evaluated",
		"trigger", trigger.String(),
		"id", formatLevel(reading.ID),
		"vbus", formatLevel(reading.VBUS),
		"from", prev.String(),
		"to", next.String(),
	)

	if prev != next {
		p.logger.Info("usb role changed", "from", prev.String(), "to", next.String(), "trigger", trigger.String())
		if p.onRoleChange != nil {
			p.onRoleChange(prev, next)
		}
	}

	return next
}

// sample reads ID then VBUS. The two reads are not atomic with respect to
// each other.
func (p *Port) sample(ctx context.Context) Reading {
	var r Reading
	if p.id != nil {
		r.ID = p.readLine(ctx, p.id)
	}
	if p.vbus != nil {
		r.VBUS = p.readLine(ctx, p.vbus)
	}
	return r
}

func (p *Port) readLine(ctx context.Context, line SenseLine) *bool {
	level, err := line.Read(ctx)
	if err != nil {
		p.logger.Warn("reading sense line failed", "line", line.Name(), "error", err)
		return nil
	}
	return &level
}

// publish forwards one capability change. Publisher failures are logged;
// the role still moves so the next transition is computed from it.
func (p *Port) publish(ctx context.Context, capability Capability, active bool) {
	if err := p.pub.SetState(ctx, capability, active); err != nil {
		p.logger.Error("publishing capability failed",
			"capability", string(capability),
			"active", active,
			"error", err,
		)
	}
}

func formatLevel(level *bool) string {
	switch {
	case level == nil:
		return "absent"
	case *level:
		return "high"
	default:
		return "low"
	}
}
