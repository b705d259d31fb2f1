package routing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/pipeline"
	"github.com/openaip/budget-chat/internal/storage"
)

// routeSemantic embeds the question, retrieves matching line items and asks
// the answer-generation collaborator. Only semantic questions reach it.
func (r *Router) routeSemantic(ctx context.Context, req Request) (compose.Draft, error) {
	ctx, span := observability.StartSpan(ctx, r.tracer, "routing.semantic")
	defer span.End()

	emb, err := r.deps.Embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		return compose.Draft{}, fmt.Errorf("%w: embed query: %v", ErrCollaborator, err)
	}

	params := storage.MatchParams{
		Embedding:     emb.Embedding,
		MatchCount:    r.cfg.PipelineTopK,
		MinSimilarity: r.cfg.MinMatchSimilarity,
		FiscalYear:    req.Intent.FiscalYear,
	}
	ids := barangayIDs(req.Scope.Targets)
	switch len(ids) {
	case 0:
	case 1:
		params.BarangayID = strPtr(ids[0])
	default:
		params.BarangayIDs = ids
	}

	matches, err := r.deps.RPC.MatchLineItems(ctx, params)
	if err != nil {
		return compose.Draft{}, err
	}

	items := make([]pipeline.ContextItem, 0, len(matches))
	for i, m := range matches {
		var sim *float64
		if m.Score != nil {
			sim = m.Score
		} else if m.Distance != nil {
			s := 1 - *m.Distance
			sim = &s
		}
		items = append(items, pipeline.ContextItem{
			SourceID:   "C" + strconv.Itoa(i+1),
			LineItemID: m.LineItemID,
			AipID:      m.AipID,
			FiscalYear: m.FiscalYear,
			Title:      m.ProgramProjectTitle,
			RefCode:    m.AipRefCode,
			PageNo:     m.PageNo,
			Similarity: sim,
		})
	}

	answer, err := r.deps.Answerer.Answer(ctx, pipeline.AnswerRequest{
		Question:       req.Question,
		RetrievalScope: retrievalScope(req),
		TopK:           r.cfg.PipelineTopK,
		MinSimilarity:  r.cfg.PipelineMinSim,
		Context:        items,
	})
	if err != nil {
		return compose.Draft{}, fmt.Errorf("%w: chat answer: %v", ErrCollaborator, err)
	}

	d := compose.Draft{
		Content:   answer.Answer,
		Citations: normalizePipelineCitations(answer.Citations),
		Meta: compose.Meta{
			Route:             RouteSemantic,
			Reason:            answer.RetrievalMeta.Reason,
			AggregationSource: compose.SourcePipeline,
			TopK:              answer.RetrievalMeta.TopK,
			MinSimilarity:     answer.RetrievalMeta.MinSimilarity,
			ContextCount:      answer.RetrievalMeta.ContextCount,
			VerifierPassed:    answer.RetrievalMeta.VerifierPassed,
		},
	}
	if answer.Refused {
		d.Status = compose.StatusRefusal
		d.Meta.RefusalReason = compose.ReasonPipelineRefused
	}
	return d, nil
}

func retrievalScope(req Request) pipeline.RetrievalScope {
	out := pipeline.RetrievalScope{Mode: string(req.Scope.Mode), Targets: []pipeline.ScopeTarget{}}
	for _, t := range req.Scope.Targets {
		out.Targets = append(out.Targets, pipeline.ScopeTarget{
			ScopeType: string(t.ScopeType),
			ScopeID:   t.ScopeID,
			ScopeName: t.ScopeName,
		})
	}
	return out
}

// normalizePipelineCitations renumbers pipeline citations P1..Pn and keeps
// the pipeline's own id in metadata.
func normalizePipelineCitations(in []pipeline.Citation) []compose.Citation {
	out := make([]compose.Citation, 0, len(in))
	for i, c := range in {
		meta := map[string]interface{}{}
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta["aggregation_source"] = compose.SourcePipeline
		if c.SourceID != "" {
			meta["pipeline_source_id"] = c.SourceID
		}

		nc := compose.Citation{
			SourceID:     "P" + strconv.Itoa(i+1),
			ChunkID:      c.ChunkID,
			AipID:        c.AipID,
			FiscalYear:   c.FiscalYear,
			ScopeID:      c.ScopeID,
			Similarity:   c.Similarity,
			Snippet:      c.Snippet,
			Insufficient: c.Insufficient,
			Metadata:     meta,
		}
		if c.ScopeType != nil {
			nc.ScopeType = *c.ScopeType
		}
		if c.ScopeName != nil {
			nc.ScopeName = *c.ScopeName
		}
		out = append(out, nc)
	}
	return out
}
