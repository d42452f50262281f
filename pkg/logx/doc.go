// Package logx is sheetmail's structured logger: a thin value-type wrapper over
// zerolog whose sinks and level follow config hot reload.
//
// Recipient addresses go through Address so deployments can keep them out of
// log files (logging.redact_addresses).
package logx
