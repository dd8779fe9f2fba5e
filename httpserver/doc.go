// Package httpserver provides the HTTP API of the dispatch service.
//
// The API surface:
//
//	POST /api/tasks/dispatch                  dispatch a task to a device
//	GET  /api/tasks/{task_id}                 fetch a task projection
//	POST /api/devices/{device_id}/consume     pop the oldest pending task id
//	POST /api/devices/{device_id}/reports     verify and persist a status report
//	GET  /api/devices/{device_id}/status      derive current liveness
//
// plus the operational endpoints /livez, /readyz, /drain, /undrain, an
// optional pprof mount under /debug, and a separate metrics listener.
//
// Task projections returned by the API never contain symmetric key
// material under any outcome. Business failures are delivered as
// negative status codes inside 200 responses; HTTP errors mean the
// request was malformed or the coordination infrastructure failed.
package httpserver
