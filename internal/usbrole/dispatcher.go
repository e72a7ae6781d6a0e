package usbrole

// OnEdge records which line fired and (re)arms the debounced evaluation.
// It only takes short locks and never touches the lines, so it is safe to
// call from interrupt delivery goroutines. After Close it does nothing.
func (p *Port) OnEdge(trigger Trigger) {
	if p.closed.Load() {
		return
	}

	p.trigMu.Lock()
	p.trigger = trigger
	p.trigMu.Unlock()

	p.sched.schedule(p.debounce)
}

func (p *Port) onIDEdge()   { p.OnEdge(TriggerID) }
func (p *Port) onVBUSEdge() { p.OnEdge(TriggerVBUS) }

// takeTrigger returns the recorded trigger and clears the slot, so an edge
// arriving during the evaluation is kept for the next one.
func (p *Port) takeTrigger() Trigger {
	p.trigMu.Lock()
	defer p.trigMu.Unlock()

	t := p.trigger
	p.trigger = TriggerNone
	return t
}
