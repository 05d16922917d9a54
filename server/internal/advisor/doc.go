// Package advisor implements advisory.Generator against an OpenAI-compatible
// chat completions endpoint.
//
// The request carries a fixed system prompt and a user prompt listing the
// subject's latest readings and stress state. Non-2xx responses, transport
// errors and empty completions are returned as errors; the advisory cache
// decides what to do with them.
package advisor
