// Package domain contains the core business entities and value objects of
// the application: generation task states, canonical upstream statuses,
// and asset descriptors. It is independent of any specific transport,
// storage, or upstream API client.
package domain
