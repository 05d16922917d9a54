// Package health registers the grpc.health.v1 service on the server's gRPC
// port so orchestrators can check liveness and whether an advice generator is
// configured (service "calmsignal.advisory").
package health
