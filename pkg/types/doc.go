// Package types defines the wire types shared by the agent and the server.
// These are the JSON bodies accepted on POST /data, POST /remedy and the MQTT
// readings topic, kept separate from the server's in-memory subject records.
package types
