package mcpadapter

// methodDescriptor names one dispatcher method and the annotations its MCP
// tool should carry. description documents the JSON shape expected in the
// tool's "params" argument, since MCP tool schemas here stay generic (a
// single JSON object argument) rather than reproducing each method's
// request struct field by field.
type methodDescriptor struct {
	name        string
	description string
	readOnly    bool
	idempotent  bool
}

// methodCatalog mirrors dispatcher.New's method map one-for-one: every
// method registered there gets exactly one entry, and no entry exists
// without a matching dispatcher method.
var methodCatalog = []methodDescriptor{
	{
		name:        "queryDecisions",
		description: `Query the decision corpus with structured filters plus semantic, keyword, or hybrid retrieval. params: {query, filters, limit, includeReasons, retrievalMode, hybridWeight, bridgeSide, compacted}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "checkGuardrails",
		description: `Evaluate every loaded guardrail against a context object and report which ones block or warn. params: {context: {...arbitrary key/value context...}}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "listGuardrails",
		description: `List every loaded guardrail definition. No params.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "recordDecision",
		description: `Record a new decision in the corpus, indexing it for retrieval and auto-linking it to related decisions. params: the decision fields (decision, category, stakes, confidence, reasons, ...) plus optional scopeAgentId and relatedHints.`,
		readOnly:    false, idempotent: false,
	},
	{
		name:        "updateDecision",
		description: `Patch fields on an existing decision by id. params: {id, updates: {...field/value pairs...}}.`,
		readOnly:    false, idempotent: false,
	},
	{
		name:        "recordThought",
		description: `Append a follow-up thought to an existing decision's trail. params: {id, text}.`,
		readOnly:    false, idempotent: false,
	},
	{
		name:        "getDecision",
		description: `Fetch a single decision by id or unambiguous id prefix. params: {id}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "reviewDecision",
		description: `Record the real-world outcome of a decision once it is known, for calibration. params: {id, outcome, actualResult, lessons, affectedKpis}.`,
		readOnly:    false, idempotent: false,
	},
	{
		name:        "getCalibration",
		description: `Compute confidence calibration buckets (predicted vs actual accuracy) over reviewed decisions. params: {category}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "attributeOutcomes",
		description: `Group reviewed decisions by reason type and compute usage/outcome statistics, diversity, and recommendations. params: {category, minReviewed}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "checkDrift",
		description: `Compare recent vs historical calibration to detect drift past configured thresholds. params: {category, thresholdBrier, thresholdAccuracy}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "reindex",
		description: `Invalidate the keyword retrieval cache, forcing a rebuild on next query. No params.`,
		readOnly:    false, idempotent: true,
	},
	{
		name:        "getReasonStats",
		description: `Alias of attributeOutcomes, retained for the two historical method names this server accepts for the same reason-statistics computation. params: same as attributeOutcomes.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "preAction",
		description: `Call BEFORE taking an action: retrieves relevant prior decisions, evaluates guardrails and circuit breakers, and reports whether the action is allowed. params: {actionDescription, category, ...}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "getSessionContext",
		description: `Call at the start of a session: builds the calling agent's profile, confirmed patterns, outstanding review items, and relevant guardrails. params: {include, markdown}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "ready",
		description: `List items ready for attention: pending reviews, stale decisions, and calibration drift alerts, ranked by priority. params: {minPriority, limit}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "linkDecisions",
		description: `Create a typed edge between two decisions (supersedes, related_to, duplicates, reverses, extends, contradicts, requires). params: {source, target, edgeType, weight, context}.`,
		readOnly:    false, idempotent: false,
	},
	{
		name:        "getGraph",
		description: `Fetch the subgraph around a decision out to a given depth. params: {node, depth, edgeTypes, direction}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "getNeighbors",
		description: `List a decision's direct neighbors in the relationship graph, optionally filtered by edge type and direction. params: {node, direction, edgeType, limit}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "compact",
		description: `Recompute compaction levels (full/summary/digest/wisdom) for decisions matching filters, based on age. params: {filters}.`,
		readOnly:    false, idempotent: true,
	},
	{
		name:        "getCompacted",
		description: `Fetch decisions shaped at their age-appropriate compaction level. params: {filters, forcedLevel, limit, includePreserved}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "setPreserve",
		description: `Mark a decision as preserved, exempting it from compaction regardless of age. params: {id, preserve}.`,
		readOnly:    false, idempotent: false,
	},
	{
		name:        "getWisdom",
		description: `Fetch distilled wisdom entries for a category once enough decisions have accumulated. params: {category, minDecisions}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "listDecisions",
		description: `List decisions matching structured filters, without retrieval scoring. params: {filters, limit}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "getStats",
		description: `Report corpus-wide stats: total decision count and every circuit breaker's current state. No params.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "listBreakers",
		description: `List every circuit breaker's current state snapshot. No params.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "getCircuitState",
		description: `Fetch a single circuit breaker's state by scope. params: {scope}.`,
		readOnly:    true, idempotent: true,
	},
	{
		name:        "resetCircuit",
		description: `Manually reset a circuit breaker, optionally probing it half-open first. params: {scope, probeFirst}.`,
		readOnly:    false, idempotent: false,
	},
	{
		name:        "debugTracker",
		description: `Inspect the deliberation tracker's in-memory session state for a scope key, for debugging the check-before/record-after workflow. params: {key, includeConsumed}.`,
		readOnly:    true, idempotent: true,
	},
}
