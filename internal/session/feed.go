package session

import "github.com/forgerunner/forgerunner/internal/scanner"

// Subscribe registers fn for every signal classified from worker output
// until the returned function is called. fn runs on the controller loop.
func (c *Controller) Subscribe(fn func(scanner.Signal)) func() {
	c.fmu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.fmu.Unlock()

	return func() {
		c.fmu.Lock()
		delete(c.subs, id)
		c.fmu.Unlock()
	}
}

func (c *Controller) publish(signals []scanner.Signal) {
	if len(signals) == 0 {
		return
	}
	c.fmu.Lock()
	fns := make([]func(scanner.Signal), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.fmu.Unlock()

	for _, s := range signals {
		for _, fn := range fns {
			fn(s)
		}
	}
}
