// Package modbus implements the master-side Modbus RTU/ASCII protocol
// engine: checksum primitives, PDU/ADU framing, frame parsing and
// validation, stream scanners with resynchronisation, and the request
// exchange that drives one read or write against a Transport.
package modbus
