// Package upstream implements the client for the remote music generation
// API: submitting generation requests and querying task records. HTTP
// transport failures are reported as errors; application-level error
// statuses travel inside successful payloads and are left to the
// normalizer.
package upstream
