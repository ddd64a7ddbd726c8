// Package device implements the endpoint bank protocol engine of the SAM
// D/L USB full-speed peripheral in device mode.
//
// It talks to the peripheral through the register window described by
// [github.com/ardnew/samusb/device/reg] and the bus, memory and
// interrupt-masking interfaces of [github.com/ardnew/samusb/device/hal].
// The same engine runs against the memory-mapped peripheral on target and
// against the register-level simulator in
// [github.com/ardnew/samusb/device/hal/sim] on a host.
//
// # Architecture
//
//   - [Controller] owns the peripheral: bring-up, address, attach/detach
//   - The device FSM mirrors FSMSTATUS ([State], [Controller.Poll])
//   - The bank engine tracks custody of every endpoint bank ([BankState])
//   - [Controller.Dispatch] is the interrupt handler body
//
// # Bank Custody
//
// Each endpoint has two banks. A bank is Idle while software owns it,
// Armed while hardware owns it and its buffer, Complete once hardware has
// finished and the payload awaits [Controller.Drain], and Stalled while it
// answers STALL:
//
//	Idle --Submit--> Armed --TRCPT--> Complete --Drain--> Idle
//	Armed --TRFAIL--> Idle
//	Idle <--SetStall--> Stalled
//
// A buffer handed to SubmitOut or SubmitIn is leased to hardware until the
// bank is drained, fails or the endpoint is disabled. The caller must not
// touch it in between.
//
// # Interrupts
//
// Handlers run inside the critical section given by [Config.Critical];
// callbacks are delivered after it is left, in the order the flags were
// serviced, so a callback may resubmit. Faults that need a [Controller.Reset]
// arrive through the fatal fault callback.
//
// # Example
//
//	ctrl := device.New(bus, mem, device.Config{ControlBuffer: setupBuf})
//	table, _ := descriptor.New(descMem)
//	if err := ctrl.Initialize(ctx, table); err != nil {
//	    return err
//	}
//	ctrl.SetOnSetup(func(ep uint8, setup [8]byte) { ... })
//	ctrl.ConfigureEndpoint(0, reg.EPTypeControl, reg.EPTypeControl, 64)
//	ctrl.Attach()
//	// in the USB interrupt handler:
//	ctrl.Dispatch()
package device
