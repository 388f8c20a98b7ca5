// Package discovery finds VXI-11 instruments on the local network with
// mDNS/DNS-SD.
//
// Instruments advertise the service type _vxi-11._tcp with the port of
// their core channel. The TXT record describes the advertised device:
//
//	device=inst0
//	manufacturer=VXI11GO
//	model=SIM-1
//	serial=0001      (optional)
//
// An instrument server with several devices registers one instance per
// device. Controllers browse for the service type and connect to
// Host:Port with the advertised device name.
//
// Service entries are aggregated by instance name: the same instance seen
// on several interfaces is reported once, with the addresses merged.
package discovery
