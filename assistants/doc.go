// Package assistants implements the streaming call loop of a tool-using agent.
// A Run alternates model turns and concurrent tool execution until the model
// answers without requesting a tool, relaying partial model output as it
// streams.
package assistants
