// Package monitor defines the domain types and ports shared by the scan
// orchestration packages. It must not import storage drivers or transports.
package monitor
