// Package rotate re-signs the audit log under a new key. Rotation walks
// each actor chain in order, recomputing every prev_hash from the freshly
// produced signatures so the chain stays verifiable under the new key, and
// records each old→new signature pair in a rotation log for audit. Event
// rows are never touched.
package rotate
