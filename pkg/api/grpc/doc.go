// Package grpc provides the gRPC server.
//
// It serves the standard grpc.health.v1 health service so orchestrators and
// load balancers can check the process. Serving status follows an optional
// health checker, typically the worker pool monitor.
package grpc
