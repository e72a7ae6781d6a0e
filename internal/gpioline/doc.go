// Package gpioline adapts periph.io GPIO pins to the usbrole sense line,
// bias and pin-state interfaces.
//
// Edge interrupts are delivered by a watcher goroutine blocked in
// WaitForEdge. Wake arming writes the line's sysfs power/wakeup attribute.
//
//	if _, err := host.Init(); err != nil {
//	    return err
//	}
//	id, err := gpioline.Open("ID", "GPIO17", "/sys/devices/.../power/wakeup")
package gpioline
