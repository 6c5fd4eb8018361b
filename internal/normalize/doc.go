// Package normalize turns arbitrarily-shaped upstream status payloads into
// a canonical task status and an ordered list of asset descriptors. The
// upstream API has varied its envelope shape historically, so extraction is
// expressed as an ordered list of fallback strategies and never fails:
// anything unrecognizable degrades to an UNKNOWN status and no assets.
package normalize
