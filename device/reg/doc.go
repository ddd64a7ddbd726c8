// Package reg describes the register file of the SAM D/L USB peripheral in
// device mode and the layout of its endpoint descriptor banks.
//
// Every register has a named integer type with field getters and
// range-checked With setters. Setters return a new value; inputs that do
// not fit are masked and reported through a boolean (or an error, for
// PADCAL). Nothing here touches hardware.
//
// Offsets are relative to the peripheral base. Endpoint register blocks
// start at [EndpointBase] and repeat every [EndpointStride] bytes; use [EP]
// to address register r of endpoint n.
package reg
