// Package events publishes subject state transitions to NATS, one JSON
// message per change on <subject_prefix>.<subject_id>.
//
// Messages for one subject may arrive out of order when readings are accepted
// concurrently. Consumers that care should order by the at field.
package events
