// Package api hosts the worker's ops HTTP server. Routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/jobs/{job_id} and /v1/companies/{company_id}/emails for
//     operator lookups of job state and stored addresses.
package api
