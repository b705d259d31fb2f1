// Package compose renders routed results into assistant replies.
package compose

import (
	"github.com/openaip/budget-chat/internal/clarification"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/scope"
)

// Status is the terminal state of one message.
type Status string

const (
	StatusAnswer        Status = "answer"
	StatusClarification Status = "clarification"
	StatusRefusal       Status = "refusal"
)

// RefusalReason explains a refusal or a parameter clarification.
type RefusalReason string

const (
	ReasonDocumentLimitation RefusalReason = "document_limitation"
	ReasonUnsupportedRequest RefusalReason = "unsupported_request"
	ReasonRetrievalFailure   RefusalReason = "retrieval_failure"
	ReasonMissingParameter   RefusalReason = "missing_required_parameter"
	ReasonAmbiguousScope     RefusalReason = "ambiguous_scope"
	ReasonInsufficientData   RefusalReason = "insufficient_evidence"
	ReasonPipelineRefused    RefusalReason = "pipeline_refused"
)

// Aggregation sources recorded on aggregate citations.
const (
	SourceLineItems  = "aip_line_items"
	SourceAipTotals  = "aip_totals_total_investment_program"
	SourcePipeline   = "pipeline"
	SourceLineItemDB = "aip_line_item_lookup"
)

// Citation references the evidence behind an answer.
type Citation struct {
	SourceID     string                 `json:"sourceId"`
	ChunkID      *string                `json:"chunkId,omitempty"`
	AipID        *string                `json:"aipId,omitempty"`
	FiscalYear   *int                   `json:"fiscalYear,omitempty"`
	ScopeType    string                 `json:"scopeType,omitempty"`
	ScopeID      *string                `json:"scopeId,omitempty"`
	ScopeName    string                 `json:"scopeName,omitempty"`
	Similarity   *float64               `json:"similarity,omitempty"`
	Snippet      string                 `json:"snippet"`
	Insufficient bool                   `json:"insufficient"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Meta is persisted as the assistant message's retrieval metadata.
type Meta struct {
	Status            Status                 `json:"status"`
	Refused           bool                   `json:"refused"`
	Reason            string                 `json:"reason"`
	Route             string                 `json:"route,omitempty"`
	Intent            intent.Intent          `json:"intent,omitempty"`
	ScopeReason       string                 `json:"scopeReason,omitempty"`
	ScopeResolution   *scope.Resolution      `json:"scopeResolution,omitempty"`
	Clarification     *clarification.Pending `json:"clarification,omitempty"`
	RefusalReason     RefusalReason          `json:"refusalReason,omitempty"`
	Suggestions       []string               `json:"suggestions,omitempty"`
	FallbackMode      string                 `json:"fallbackMode,omitempty"`
	CityID            string                 `json:"cityId,omitempty"`
	AggregationSource string                 `json:"aggregationSource,omitempty"`
	TopK              *int                   `json:"topK,omitempty"`
	MinSimilarity     *float64               `json:"minSimilarity,omitempty"`
	ContextCount      *int                   `json:"contextCount,omitempty"`
	VerifierPassed    *bool                  `json:"verifierPassed,omitempty"`
	LatencyMs         int64                  `json:"latencyMs"`
}

// Draft is a routed result before composition.
type Draft struct {
	Status    Status
	Content   string
	Citations []Citation
	Meta      Meta
}

// Reply is the final assistant reply.
type Reply struct {
	Status    Status     `json:"status"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations"`
	Meta      Meta       `json:"retrievalMeta"`
}

// Compose finalizes a draft: it fills status bookkeeping and guarantees a citation.
func Compose(d Draft) Reply {
	if d.Status == "" {
		d.Status = StatusAnswer
	}

	meta := d.Meta
	meta.Status = d.Status
	meta.Refused = d.Status == StatusRefusal
	if meta.Reason == "" {
		switch {
		case meta.RefusalReason != "":
			meta.Reason = string(meta.RefusalReason)
		case d.Status == StatusClarification:
			meta.Reason = "clarification_needed"
		default:
			meta.Reason = "ok"
		}
	}
	if meta.ScopeResolution != nil && meta.ScopeReason == "" {
		meta.ScopeReason = string(meta.ScopeResolution.Reason)
	}

	citations := d.Citations
	if len(citations) == 0 {
		citations = []Citation{SystemCitation(systemSnippet(d.Status), nil)}
	}

	content := d.Content
	if content == "" {
		content = "I can't provide a grounded answer right now."
	}

	return Reply{Status: d.Status, Content: content, Citations: citations, Meta: meta}
}

func systemSnippet(status Status) string {
	switch status {
	case StatusClarification:
		return "Clarification requested before answering."
	case StatusRefusal:
		return "No published AIP data supports an answer to this request."
	}
	return "No retrieval citations were produced for this response."
}

// SystemCitation is the S0 citation used when no data backs a reply.
func SystemCitation(snippet string, metadata map[string]interface{}) Citation {
	return Citation{
		SourceID:     "S0",
		ScopeType:    "system",
		ScopeName:    "System",
		Snippet:      snippet,
		Insufficient: true,
		Metadata:     metadata,
	}
}

// Refusal builds a refusal draft.
func Refusal(reason RefusalReason, content string, suggestions ...string) Draft {
	return Draft{
		Status:  StatusRefusal,
		Content: content,
		Citations: []Citation{SystemCitation("Request refused: "+string(reason)+".", map[string]interface{}{
			"reason": string(reason),
		})},
		Meta: Meta{RefusalReason: reason, Suggestions: suggestions},
	}
}

// Clarify builds a clarification draft. A nil pending asks for missing
// parameters without resumable state.
func Clarify(content string, pending *clarification.Pending, reason RefusalReason, suggestions ...string) Draft {
	return Draft{
		Status:  StatusClarification,
		Content: content,
		Citations: []Citation{SystemCitation("Clarification requested before answering.", map[string]interface{}{
			"reason": "clarification_required",
		})},
		Meta: Meta{Clarification: pending, RefusalReason: reason, Suggestions: suggestions},
	}
}
