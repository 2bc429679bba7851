package services

import (
	"context"
	"fmt"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/idmap"
	"github.com/adaptauthoring/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// branchingOutcomes are the fields of a branching configuration that point at another entity
var branchingOutcomes = []string{"_correct", "_partlyCorrect", "_incorrect"}

// UnresolvedReference is a cross-reference whose target was not part of the duplicate
type UnresolvedReference struct {
	Kind     models.Kind `json:"kind"`
	EntityID string      `json:"entityId"`
	Field    string      `json:"field"`
	Value    string      `json:"value"`
}

// EntityFailure records an entity whose rewritten references could not be stored
type EntityFailure struct {
	Kind     models.Kind `json:"kind"`
	EntityID string      `json:"entityId"`
	Error    string      `json:"error"`
}

// RewriteReport summarises a reference rewrite over a duplicated course
type RewriteReport struct {
	Updated    map[models.Kind]int   `json:"updated"`
	Unresolved []UnresolvedReference `json:"unresolved,omitempty"`
	Failures   []EntityFailure       `json:"failures,omitempty"`
	Structural []string              `json:"structural,omitempty"`

	structuralErrs []error
}

// Errors returns the structural errors found during the rewrite
func (r *RewriteReport) Errors() []error {
	return r.structuralErrs
}

// passReport is the part of a report produced by a single kind pass
type passReport struct {
	updated    int
	unresolved []UnresolvedReference
	failures   []EntityFailure
	structural []error
}

// rewriteFunc remaps the references of one entity through the remapper
type rewriteFunc func(entity *models.Entity, m *remapper) error

// referenceRewriter rewrites cross-references of freshly cloned entities
type referenceRewriter struct {
	repo   ContentRepository
	logger *zap.Logger
}

func newReferenceRewriter(repo ContentRepository, logger *zap.Logger) *referenceRewriter {
	return &referenceRewriter{
		repo:   repo,
		logger: logger,
	}
}

// Rewrite remaps every known cross-reference of the cloned entities with new = ids[old] ?? old.
// One pass per kind runs concurrently; each pass only reads and writes entities of its own kind.
// Per-entity failures do not stop the remaining entities.
func (r *referenceRewriter) Rewrite(ctx context.Context, cloned map[models.Kind][]*models.Entity, ids *idmap.Map) *RewriteReport {
	passes := []struct {
		kind    models.Kind
		rewrite rewriteFunc
	}{
		{models.KindCourse, rewriteCourse},
		{models.KindContentObject, rewriteContentObject},
		{models.KindArticle, rewriteArticle},
		{models.KindBlock, rewriteBlock},
		{models.KindComponent, rewriteComponent},
	}

	reports := make([]*passReport, len(passes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range passes {
		g.Go(func() error {
			reports[i] = r.runPass(gctx, p.kind, cloned[p.kind], ids, p.rewrite)
			return nil
		})
	}
	_ = g.Wait()

	report := &RewriteReport{Updated: make(map[models.Kind]int)}
	for i, pr := range reports {
		if pr.updated > 0 {
			report.Updated[passes[i].kind] = pr.updated
		}
		report.Unresolved = append(report.Unresolved, pr.unresolved...)
		report.Failures = append(report.Failures, pr.failures...)
		for _, err := range pr.structural {
			report.Structural = append(report.Structural, err.Error())
			report.structuralErrs = append(report.structuralErrs, err)
		}
	}

	return report
}

func (r *referenceRewriter) runPass(ctx context.Context, kind models.Kind, entities []*models.Entity, ids *idmap.Map, rewrite rewriteFunc) *passReport {
	report := &passReport{}

	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			report.failures = append(report.failures, EntityFailure{Kind: kind, EntityID: entity.ID, Error: err.Error()})
			continue
		}

		m := &remapper{ids: ids, kind: kind, entityID: entity.ID}
		if err := rewrite(entity, m); err != nil {
			r.logger.Error("failed to remap references", zap.Error(err), zap.String("kind", string(kind)), zap.String("id", entity.ID))
			report.structural = append(report.structural, err)
			continue
		}
		report.unresolved = append(report.unresolved, m.unresolved...)

		if !m.changed {
			continue
		}
		if err := r.repo.Update(ctx, entity); err != nil {
			r.logger.Error("failed to store remapped references", zap.Error(err), zap.String("kind", string(kind)), zap.String("id", entity.ID))
			report.failures = append(report.failures, EntityFailure{Kind: kind, EntityID: entity.ID, Error: err.Error()})
			continue
		}
		report.updated++
	}

	return report
}

// remapper applies the remap policy to fields of a single entity
type remapper struct {
	ids        *idmap.Map
	kind       models.Kind
	entityID   string
	changed    bool
	unresolved []UnresolvedReference
}

// field remaps obj[key] when it holds an identifier; a missing or non-string value is left alone
func (m *remapper) field(obj map[string]any, key, path string) {
	old, ok := obj[key].(string)
	if !ok || old == "" {
		return
	}

	if newID, ok := m.ids.Lookup(old); ok {
		if newID != old {
			obj[key] = newID
			m.changed = true
		}
		return
	}

	// already points into the duplicate
	if m.ids.IsTarget(old) {
		return
	}

	m.unresolved = append(m.unresolved, UnresolvedReference{
		Kind:     m.kind,
		EntityID: m.entityID,
		Field:    path,
		Value:    old,
	})
}

// outcomes remaps the branching outcome fields of obj
func (m *remapper) outcomes(obj map[string]any, path string) {
	for _, key := range branchingOutcomes {
		m.field(obj, key, path+"."+key)
	}
}

func rewriteCourse(entity *models.Entity, m *remapper) error {
	start, ok := entity.Data["_start"].(map[string]any)
	if !ok {
		return &apperr.StructuralError{Kind: string(models.KindCourse), EntityID: entity.ID, Path: "_start", Reason: "is missing or not an object"}
	}
	startIDs, ok := start["_startIds"].([]any)
	if !ok {
		return &apperr.StructuralError{Kind: string(models.KindCourse), EntityID: entity.ID, Path: "_start._startIds", Reason: "is missing or not a list"}
	}

	entries := make([]map[string]any, len(startIDs))
	for i, item := range startIDs {
		entry, ok := item.(map[string]any)
		if !ok {
			return &apperr.StructuralError{Kind: string(models.KindCourse), EntityID: entity.ID, Path: fmt.Sprintf("_start._startIds[%d]", i), Reason: "is not an object"}
		}
		entries[i] = entry
	}

	for i, entry := range entries {
		m.field(entry, "_id", fmt.Sprintf("_start._startIds[%d]._id", i))
	}
	return nil
}

func rewriteContentObject(entity *models.Entity, m *remapper) error {
	if custom, ok := models.MapAt(entity.Data, "_extensions", "_navigationFooter", "_buttons", "_custom"); ok {
		m.field(custom, "_id", "_extensions._navigationFooter._buttons._custom._id")
	}
	return nil
}

func rewriteArticle(entity *models.Entity, m *remapper) error {
	for _, ns := range []string{"_laerdalBranching", "_branching"} {
		if branching, ok := models.MapAt(entity.Data, "_extensions", ns); ok {
			m.field(branching, "_start", "_extensions."+ns+"._start")
		}
	}
	return nil
}

func rewriteBlock(entity *models.Entity, m *remapper) error {
	if branching, ok := models.MapAt(entity.Data, "_extensions", "_laerdalBranching"); ok {
		m.outcomes(branching, "_extensions._laerdalBranching")
	}

	if branching, ok := models.MapAt(entity.Data, "_extensions", "_branching"); ok {
		m.outcomes(branching, "_extensions._branching")
		if bands, ok := branching["_attemptBands"].([]any); ok {
			for i, item := range bands {
				if band, ok := item.(map[string]any); ok {
					m.outcomes(band, fmt.Sprintf("_extensions._branching._attemptBands[%d]", i))
				}
			}
		}
	}
	return nil
}

func rewriteComponent(entity *models.Entity, m *remapper) error {
	if items, ok := models.SliceAt(entity.Data, "_extensions", "_additionalMaterial", "_items"); ok {
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok || obj["_viewType"] != "modal" {
				continue
			}
			if modal, ok := obj["_viewTypeModal"].(map[string]any); ok {
				m.field(modal, "_viewId", fmt.Sprintf("_extensions._additionalMaterial._items[%d]._viewTypeModal._viewId", i))
			}
		}
	}

	if entity.Data["_component"] == "assessmentResultsTotal" {
		if bands, ok := models.SliceAt(entity.Data, "properties", "_bands"); ok {
			for i, item := range bands {
				band, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if retry, ok := band["_retry"].(map[string]any); ok {
					m.field(retry, "_routeToPage", fmt.Sprintf("properties._bands[%d]._retry._routeToPage", i))
				}
				if review, ok := band["_review"].(map[string]any); ok {
					m.field(review, "_routeToPageReview", fmt.Sprintf("properties._bands[%d]._review._routeToPageReview", i))
				}
			}
		}
	}
	return nil
}
