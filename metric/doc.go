// Package metric owns the exported sensor metrics and their exposition.
//
// The four measurement families (room temperature, humidity, air pressure,
// battery voltage) are Prometheus gauge vectors labeled by the sensor's
// hardware identity. Pipeline components receive the Sink interface rather
// than the concrete gauges, so decoding and expiry are testable against a
// fake sink and no metric state is process-global.
package metric
