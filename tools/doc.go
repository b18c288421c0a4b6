// Package tools defines the Tool interface for LLM agents: a name, a description, a parameters schema and a string-in, string-out Call.
package tools
