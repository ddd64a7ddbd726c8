// Package scenario replays scripted USB traffic against a device.Controller
// driving the simulated peripheral in device/hal/sim.
//
// A scenario has two parts. The device description is TOML:
//
//	name = "cdc-acm"
//	max_endpoints = 4
//	lpm = "ack"
//
//	[padcal]
//	transp = 29
//	transn = 5
//	trim = 3
//
//	[[endpoint]]
//	number = 0
//	type0 = "control"
//	type1 = "control"
//	max_packet_size = 64
//
// The script is YAML. Each step either injects host traffic (reset, setup,
// out, in, fail, suspend, ...) or calls the controller the way a USB stack
// would (submit-out, submit-in, stall, drain, address, ...):
//
//	name: enumerate
//	steps:
//	  - op: reset
//	  - op: setup
//	    request_type: 0x80
//	    request: 0x06
//	    value: 0x0100
//	    length: 18
//	  - op: submit-in
//	    bank: 1
//	    data: "12 01 00 02"
//	  - op: in
//	    expect: "12 01 00 02"
//
// After every host step the runner services the interrupt line until it
// drops. Controller callbacks and moved payloads are recorded as Events. A
// step may name the error it must fail with; any other outcome stops the
// run with a StepError.
package scenario
