// Package health holds the liveness and readiness probes the site and ops
// listeners expose.
//
// [All] combines probes, [Named] labels a failure with the component that
// raised it and [Fixed] is a constant. [ShutdownGate] fails readiness while
// the server drains so load balancers stop routing to it before in-flight
// requests finish.
package health
