package executor

import (
	"time"

	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/store"
	"github.com/erankavija/jit/internal/types"
)

// applyLabel validates a raw label against the labels configuration and
// adds it to the issue. A label in a unique namespace atomically replaces
// any prior label of that namespace.
func (e *Executor) applyLabel(issue *types.Issue, raw string, doc *store.LabelsDoc) error {
	label, err := types.ParseLabel(raw)
	if err != nil {
		return err
	}

	// The type namespace is validated against the configured hierarchy.
	if label.Namespace == "type" {
		levels := e.typeLevels(doc)
		if len(levels) > 0 {
			if _, ok := levels[label.Value]; !ok {
				return jiterr.New(jiterr.KindUnknownType,
					"type %q is not in the configured hierarchy", label.Value).With("type", label.Value)
			}
		}
	}

	unique := false
	if ns, ok := doc.Namespace(label.Namespace); ok {
		unique = ns.Unique
	}
	if unique {
		kept := issue.Labels[:0]
		for _, existing := range issue.Labels {
			parsed, err := types.ParseLabel(existing)
			if err != nil || parsed.Namespace != label.Namespace {
				kept = append(kept, existing)
			}
		}
		issue.Labels = kept
	} else {
		for _, existing := range issue.Labels {
			if existing == raw {
				return nil // already present
			}
		}
	}
	issue.Labels = append(issue.Labels, raw)
	return nil
}

// typeLevels merges the hierarchy from repository config over the labels
// document.
func (e *Executor) typeLevels(doc *store.LabelsDoc) map[string]int {
	levels := map[string]int{}
	for k, v := range doc.TypeHierarchy {
		levels[k] = v
	}
	for k, v := range e.cfg.TypeLevels() {
		levels[k] = v
	}
	return levels
}

// LabelAdd attaches a label, honoring unique-namespace replacement.
func (e *Executor) LabelAdd(ref, raw, agent string) (*types.Issue, error) {
	return e.mutateLabels(ref, agent, func(issue *types.Issue, doc *store.LabelsDoc) error {
		return e.applyLabel(issue, raw, doc)
	})
}

// LabelRemove detaches an exact label if present.
func (e *Executor) LabelRemove(ref, raw, agent string) (*types.Issue, error) {
	return e.mutateLabels(ref, agent, func(issue *types.Issue, _ *store.LabelsDoc) error {
		for i, existing := range issue.Labels {
			if existing == raw {
				issue.Labels = append(issue.Labels[:i], issue.Labels[i+1:]...)
				return nil
			}
		}
		return jiterr.New(jiterr.KindNotFound, "label %q not on issue", raw).With("label", raw)
	})
}

func (e *Executor) mutateLabels(ref, agent string, fn func(*types.Issue, *store.LabelsDoc) error) (*types.Issue, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if err := e.enforceLease(id, actor); err != nil {
		return nil, err
	}

	guards, err := e.lockIssues(id)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(id)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.LoadLabels()
	if err != nil {
		return nil, err
	}
	if err := fn(issue, doc); err != nil {
		return nil, err
	}
	issue.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}
	if err := e.appendEvents(actor, []eventlog.Pending{{
		Type: eventlog.TypeLabelChanged, Payload: map[string]any{"issue_id": id, "labels": issue.Labels},
	}}); err != nil {
		return nil, err
	}
	return issue, nil
}

// ContextSet writes one key of the issue's agent-private context.
func (e *Executor) ContextSet(ref, key, value, agent string) (*types.Issue, error) {
	return e.mutateContext(ref, agent, func(issue *types.Issue) {
		if issue.Context == nil {
			issue.Context = map[string]string{}
		}
		issue.Context[key] = value
	})
}

// ContextUnset removes one key from the issue's context.
func (e *Executor) ContextUnset(ref, key, agent string) (*types.Issue, error) {
	return e.mutateContext(ref, agent, func(issue *types.Issue) {
		delete(issue.Context, key)
	})
}

func (e *Executor) mutateContext(ref, agent string, fn func(*types.Issue)) (*types.Issue, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if err := e.enforceLease(id, actor); err != nil {
		return nil, err
	}

	guards, err := e.lockIssues(id)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(id)
	if err != nil {
		return nil, err
	}
	fn(issue)
	issue.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}
	if err := e.appendEvents(actor, []eventlog.Pending{{
		Type: eventlog.TypeContextChanged, Payload: map[string]string{"issue_id": id},
	}}); err != nil {
		return nil, err
	}
	return issue, nil
}

// DocumentAttach appends a document descriptor. The engine treats the
// reference as opaque.
func (e *Executor) DocumentAttach(ref string, doc types.Document, agent string) (*types.Issue, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	if doc.Path == "" {
		return nil, jiterr.New(jiterr.KindInvalidArgument, "document path is required")
	}
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}

	guards, err := e.lockIssues(id)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(id)
	if err != nil {
		return nil, err
	}
	issue.Documents = append(issue.Documents, doc)
	issue.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}
	if err := e.appendEvents(actor, []eventlog.Pending{{
		Type: eventlog.TypeDocumentAttached, Payload: map[string]string{"issue_id": id, "path": doc.Path},
	}}); err != nil {
		return nil, err
	}
	return issue, nil
}
