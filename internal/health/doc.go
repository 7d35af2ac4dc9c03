// Package health holds the liveness and readiness probes served on both
// listeners, and the handlers that expose them.
//
// [All] combines probes, [Fixed] is a static probe and [CheckFunc] adapts a
// function. [ShutdownGate] fails readiness once shutdown starts so the load
// balancer drains the API before the listeners close.
package health
