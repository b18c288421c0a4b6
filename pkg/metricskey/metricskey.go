// Package metricskey declares the metrics emitted by the bridge and the agent.
package metricskey

import "github.com/effective-security/metrics"

// LLM round trips of an agent run
var (
	StatsLLMMessagesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_messages_sent",
		Help:         "stats_llm_messages_sent provides total messages sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMBytesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_sent",
		Help:         "stats_llm_bytes_sent provides total bytes sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMBytesReceived = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_received",
		Help:         "stats_llm_bytes_received provides total bytes received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"agent", "model"},
	}
)

// Agent queries
var (
	PerfChatRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_chat_run",
		Help:         "perf_chat_run provides duration of a CLI chat session",
		RequiredTags: []string{"agent"},
	}

	PerfAssistantCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_assistant_call",
		Help:         "perf_assistant_call provides duration of an agent query, including tool calls",
		RequiredTags: []string{"agent"},
	}

	StatsAssistantCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_assistant_calls_succeeded",
		Help:         "stats_assistant_calls_succeeded provides total agent queries answered",
		RequiredTags: []string{"agent"},
	}

	StatsAssistantCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_assistant_calls_failed",
		Help:         "stats_assistant_calls_failed provides total agent queries failed",
		RequiredTags: []string{"agent"},
	}
)

// Tool calls, tagged with the public tool name
var (
	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool", "kind"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}
)

// Tool providers and the catalogs built from them
var (
	PerfBridgeAcquire = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_bridge_acquire",
		Help:         "perf_bridge_acquire provides duration of spawning, handshaking and listing all tool providers",
		RequiredTags: []string{"bridge"},
	}

	PerfBridgeRelease = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_bridge_release",
		Help:         "perf_bridge_release provides duration of terminating all tool providers",
		RequiredTags: []string{"bridge"},
	}

	StatsProviderStarted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_provider_started",
		Help:         "stats_provider_started provides total tool providers that completed the handshake",
		RequiredTags: []string{"provider"},
	}

	StatsProviderFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_provider_failed",
		Help:         "stats_provider_failed provides total tool providers that failed to start, handshake or list tools",
		RequiredTags: []string{"provider", "kind"},
	}

	StatsProviderTerminated = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_provider_terminated",
		Help:         "stats_provider_terminated provides total tool providers terminated on release",
		RequiredTags: []string{"provider"},
	}

	StatsCatalogTools = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_catalog_tools",
		Help:         "stats_catalog_tools provides total tools published in acquired catalogs",
		RequiredTags: []string{"bridge"},
	}
)

// Metrics lists every metric above, sorted by name.
var Metrics = []*metrics.Describe{
	&PerfAssistantCall,
	&PerfBridgeAcquire,
	&PerfBridgeRelease,
	&PerfChatRun,
	&PerfToolCall,
	&StatsAssistantCallsFailed,
	&StatsAssistantCallsSucceeded,
	&StatsCatalogTools,
	&StatsLLMBytesReceived,
	&StatsLLMBytesSent,
	&StatsLLMInputTokens,
	&StatsLLMMessagesSent,
	&StatsLLMOutputTokens,
	&StatsProviderFailed,
	&StatsProviderStarted,
	&StatsProviderTerminated,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
