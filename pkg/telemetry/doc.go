// Package telemetry wires OpenTelemetry exporters and meters for gulfwatch.
//
// It centralises trace provider setup and records sweep metrics for the
// coordinator so operators can see how much text each document change
// touched and how long rewriting took.
package telemetry
